package cdr

import (
	"strings"
	"time"
)

// ignoredNamePrefixes lists channel names the router never opens a chain
// for: internal announcement/recording channels never billed (§6.1).
var ignoredNamePrefixes = []string{"CBAnn", "CBRec"}

func ignoredChannel(name string) bool {
	for _, p := range ignoredNamePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// chainFor returns the chain head for name, creating a fresh Single-state
// chain (and registering it in the channel index) if none exists yet.
func (e *Engine) chainFor(snap *ChannelSnapshot, now time.Time) *CdrObject {
	if head := e.channels.get(snap.Name); head != nil {
		return head
	}
	party := PartySnapshot{Snapshot: snap}
	head := e.newCdrObject(party, now)
	newChain(head)
	e.channels.put(snap.Name, head)
	return head
}

// OnChannelUpdate handles a channel cache update (§6.1): old absent means a
// new channel, new absent means the channel is gone, both present means a
// snapshot change. Filtered names are ignored entirely.
func (e *Engine) OnChannelUpdate(old, new *ChannelSnapshot, now time.Time) {
	name := ""
	if new != nil {
		name = new.Name
	} else if old != nil {
		name = old.Name
	}
	if name == "" || ignoredChannel(name) {
		return
	}

	if new == nil {
		e.onChannelGone(old, now)
		return
	}

	head := e.chainFor(new, now)
	c := head.chain
	var pending []bridgeRemoval
	c.mu.Lock()
	handled := false
	for r := c.head; r != nil; r = r.next {
		if r.State == StateFinalized {
			continue
		}
		if e.dispatchPartyAUpdate(r, new, now, &pending) {
			handled = true
		}
	}
	if !handled {
		newRec := e.forkAppend(c.tail, now)
		e.singlePartyAUpdate(newRec, new, now, &pending)
	}
	c.mu.Unlock()
	e.flushBridgeRemovals(pending)

	e.scanPartyBUpdate(new, now)
}

// onChannelGone finalizes every still-open record in the departing channel's
// chain on zombie-style teardown, then drops it from the index.
func (e *Engine) onChannelGone(old *ChannelSnapshot, now time.Time) {
	if old == nil {
		return
	}
	head := e.channels.get(old.Name)
	if head == nil {
		return
	}
	e.finalizeAndDispatchChain(head)
}

// scanPartyBUpdate implements §4.7's broad scan: every chain in the channel
// index is walked, and any record whose Party B matches the updated channel
// by name gets the Party-B handler for its current state.
func (e *Engine) scanPartyBUpdate(new *ChannelSnapshot, now time.Time) {
	var pending []bridgeRemoval
	for _, head := range e.channels.allHeads() {
		c := head.chain
		if c == nil {
			continue
		}
		c.mu.Lock()
		for r := c.head; r != nil; r = r.next {
			if r.PartyB == nil || r.PartyB.Snapshot == nil {
				continue
			}
			if r.PartyB.Snapshot.Name != new.Name {
				continue
			}
			e.dispatchPartyBUpdate(r, new, now, &pending)
		}
		c.mu.Unlock()
	}
	e.flushBridgeRemovals(pending)
}

// OnDialBegin handles the start of a dial attempt from caller to peer.
func (e *Engine) OnDialBegin(caller *ChannelSnapshot, peer *ChannelSnapshot, now time.Time) {
	if ignoredChannel(caller.Name) || ignoredChannel(peer.Name) {
		return
	}
	head := e.chainFor(caller, now)
	c := head.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	peerParty := PartySnapshot{Snapshot: peer}
	peerParty.Flags.PartyA = false

	for r := c.head; r != nil; r = r.next {
		if r.State == StateFinalized {
			continue
		}
		if e.dispatchDialBegin(r, peerParty, now) {
			return
		}
	}
	newRec := e.forkAppend(c.tail, now)
	e.dispatchDialBegin(newRec, peerParty, now)
}

// OnDialEnd handles the terminal status of a dial attempt on caller's chain.
func (e *Engine) OnDialEnd(caller *ChannelSnapshot, status DialStatus, now time.Time) {
	head := e.channels.get(caller.Name)
	if head == nil {
		e.log.Warn().Str("channel", caller.Name).Msg("dial-end for unknown channel")
		return
	}
	c := head.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	for r := c.head; r != nil; r = r.next {
		if e.dispatchDialEnd(r, status, now) {
			return
		}
	}
}

// OnBridgeEnter handles a channel joining bridge. Holding-bridge technology
// is filtered entirely, per §6.1.
func (e *Engine) OnBridgeEnter(channel *ChannelSnapshot, bridge *BridgeSnapshot, now time.Time) {
	if bridge.IsHoldingBridge() || ignoredChannel(channel.Name) {
		return
	}
	head := e.chainFor(channel, now)

	// Every call past this point ends up entering head's chain into this
	// bridge exactly once (directly, or via the fallback fork below), so the
	// bridge-index registration is known before the chain lock is even
	// taken: it never needs to happen while that lock is held.
	e.bridges.add(bridge.UniqueID, head)

	c := head.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	for r := c.head; r != nil; r = r.next {
		if r.State == StateFinalized {
			continue
		}
		if e.dispatchBridgeEnter(r, bridge, now) {
			return
		}
	}
	newRec := e.forkAppend(c.tail, now)
	e.dispatchBridgeEnter(newRec, bridge, now)
}

// OnBridgeLeave handles a channel leaving bridge (§4.6): the leaver's own
// chain finalizes its Bridged record and gets a fresh Pending record to
// observe what happens next, while every chain whose Party B was the
// leaver in this bridge finalizes that record in place.
func (e *Engine) OnBridgeLeave(channel *ChannelSnapshot, bridge *BridgeSnapshot, now time.Time) {
	if bridge.IsHoldingBridge() {
		return
	}

	head := e.channels.get(channel.Name)
	if head != nil {
		c := head.chain
		var pending []bridgeRemoval
		c.mu.Lock()
		for r := c.head; r != nil; r = r.next {
			if e.dispatchBridgeLeave(r, bridge, now, &pending) {
				newRec := e.forkAppend(r, now)
				e.transition(newRec, StatePending, now)
				break
			}
		}
		c.mu.Unlock()
		e.flushBridgeRemovals(pending)
	}

	for _, other := range e.bridges.snapshot(bridge.UniqueID) {
		if head != nil && other == head {
			continue
		}
		c := other.chain
		c.mu.Lock()
		for r := c.head; r != nil; r = r.next {
			e.partyBLeftBridge(r, bridge.UniqueID, channel.Name, now)
		}
		c.mu.Unlock()
	}
}
