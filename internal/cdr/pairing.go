package cdr

import "time"

// bridgeMember is a consistent, lock-free-to-read snapshot of one record
// already participating in a bridge, captured while its owning chain's lock
// was held.
type bridgeMember struct {
	record *CdrObject
	partyA PartySnapshot
	partyB *PartySnapshot
}

// collectBridgeMembers walks every chain currently registered under
// bridgeID (except exclude, the caller's own chain) and captures a
// consistent snapshot of each Bridged record found there. Each candidate
// chain is locked only for the duration of its own walk.
func (e *Engine) collectBridgeMembers(bridgeID string, exclude *chain) []bridgeMember {
	var out []bridgeMember
	// The caller holds exclude's lock; drop it around the index read so no
	// index lock is taken while a chain lock is held.
	exclude.mu.Unlock()
	heads := e.bridges.snapshot(bridgeID)
	exclude.mu.Lock()
	for _, head := range heads {
		c := head.chain
		if c == exclude {
			continue
		}
		c.mu.Lock()
		for cr := c.head; cr != nil; cr = cr.next {
			if cr.State != StateBridged || cr.Bridge != bridgeID {
				continue
			}
			var pb *PartySnapshot
			if cr.PartyB != nil {
				cloned := cr.PartyB.clone()
				pb = &cloned
			}
			out = append(out, bridgeMember{record: cr, partyA: cr.PartyA.clone(), partyB: pb})
		}
		c.mu.Unlock()
	}
	return out
}

// selfPair implements §4.5 step 2: find a Party B for rec among existing
// bridge members, trying each candidate's Party A then Party B in turn.
// When we adopt a candidate's Party A and that candidate had no Party B of
// its own, the donor is "stolen": finalized without a state transition so
// it can still be reactivated by a later event.
func (e *Engine) selfPair(rec *CdrObject, members []bridgeMember, now time.Time) bool {
	for _, m := range members {
		if pickPartyA(&rec.PartyA, &m.partyA) {
			adopted := m.partyA.clone()
			rec.PartyB = &adopted
			if m.partyB == nil {
				m.record.chain.mu.Lock()
				e.finalizeRecord(m.record, now)
				m.record.chain.mu.Unlock()
			}
			return true
		}
		if m.partyB != nil && pickPartyA(&rec.PartyA, m.partyB) {
			adopted := m.partyB.clone()
			rec.PartyB = &adopted
			return true
		}
	}
	return false
}

type crossCandidate struct {
	party    *PartySnapshot
	home     *CdrObject
	isPartyA bool
}

// buildCrossCandidates implements the two-pass candidate collection of
// §4.5 step 3: every member's Party A first, then Party Bs whose channel
// name was not already added by the first pass.
func buildCrossCandidates(members []bridgeMember) []crossCandidate {
	added := make(map[string]bool, len(members))
	var out []crossCandidate
	for _, m := range members {
		name := m.partyA.Snapshot.Name
		if added[name] {
			continue
		}
		added[name] = true
		pa := m.partyA
		out = append(out, crossCandidate{party: &pa, home: m.record, isPartyA: true})
	}
	for _, m := range members {
		if m.partyB == nil {
			continue
		}
		name := m.partyB.Snapshot.Name
		if added[name] {
			continue
		}
		added[name] = true
		pb := *m.partyB
		out = append(out, crossCandidate{party: &pb, home: m.record, isPartyA: false})
	}
	return out
}

// crossPair implements §4.5 step 3. It reports whether any new record was
// appended or adopted as a result of cross-pairing (used to decide whether
// rec itself should be self-finalized when it found no peer).
func (e *Engine) crossPair(rec *CdrObject, members []bridgeMember, bridgeID string, now time.Time) bool {
	produced := false
	for _, x := range buildCrossCandidates(members) {
		name := x.party.Snapshot.Name
		if name == rec.PartyA.Snapshot.Name {
			continue
		}
		if rec.PartyB != nil && rec.PartyB.Snapshot != nil && rec.PartyB.Snapshot.Name == name {
			continue
		}

		if pickPartyA(&rec.PartyA, x.party) {
			// We win Party A: append a new record to our chain pairing us with X.
			newRec := e.forkAppend(rec, now)
			xcopy := x.party.clone()
			newRec.PartyB = &xcopy
			newRec.Bridge = bridgeID
			e.transition(newRec, StateBridged, now)
			produced = true
			continue
		}

		if x.isPartyA {
			homeChain := x.home.chain
			locked := homeChain != rec.chain
			if locked {
				homeChain.mu.Lock()
			}
			if x.home.PartyB == nil {
				ourCopy := rec.PartyA.clone()
				x.home.PartyB = &ourCopy
			} else {
				newRec := e.forkAppend(x.home, now)
				ourCopy := rec.PartyA.clone()
				newRec.PartyB = &ourCopy
				newRec.Bridge = bridgeID
				e.transition(newRec, StateBridged, now)
			}
			if locked {
				homeChain.mu.Unlock()
			}
			produced = true
			continue
		}

		// X wins and X is Party B of its home record: find (or create) the
		// chain rooted at X's own channel name and append a Bridged record
		// there pairing it with us. Snapshot what we need from rec before
		// dropping its chain lock: the channel index must never be touched
		// while any chain lock is held (SPEC_FULL.md §5).
		ourCopy := rec.PartyA.clone()
		rec.chain.mu.Unlock()
		xHead := e.channels.get(name)
		var target *chain
		if xHead == nil {
			e.log.Warn().Str("channel", name).Msg("cross-pairing candidate has no home chain; creating one")
			newHead := e.newCdrObject(*x.party, now)
			target = newChain(newHead)
			e.channels.put(name, newHead)
		} else {
			target = xHead.chain
		}
		rec.chain.mu.Lock()

		locked := target != rec.chain
		if locked {
			target.mu.Lock()
		}
		newRec := e.forkAppend(target.tail, now)
		newRec.PartyB = &ourCopy
		newRec.Bridge = bridgeID
		e.transition(newRec, StateBridged, now)
		if locked {
			target.mu.Unlock()
		}
		produced = true
	}
	return produced
}

// enterBridge implements §4.5 end to end for a record whose state machine
// has already decided to accept the bridge-enter event.
func (e *Engine) enterBridge(rec *CdrObject, bridge *BridgeSnapshot, now time.Time) {
	rec.Bridge = bridge.UniqueID
	e.transition(rec, StateBridged, now)

	members := e.collectBridgeMembers(bridge.UniqueID, rec.chain)
	e.selfPair(rec, members, now)
	produced := e.crossPair(rec, members, bridge.UniqueID, now)

	// A record alone in the bridge stays open; one that lost to every
	// existing member is finalized until a later arrival pairs with it.
	if rec.PartyB == nil && !produced && len(members) > 0 {
		e.finalizeRecord(rec, now)
	}
}
