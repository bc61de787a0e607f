package cdr

import "time"

// cepChanged reports whether the context/extension/priority/application of
// the channel changed between old and new — the "CEP change" the state
// machine treats as a signal of fresh dialplan execution. A nil old (first
// sight of the channel) is never a CEP change.
func cepChanged(old, new *ChannelSnapshot) bool {
	if old == nil {
		return false
	}
	return old.Context != new.Context ||
		old.Exten != new.Exten ||
		old.Priority != new.Priority ||
		old.Appl != new.Appl
}

// swapAndMergeParty implements the §4.1 snapshot assignment rule: adopt the
// new snapshot, keep userfield/flags, and merge caller-id-derived variables
// when the incoming value matches what was already stored (or nothing was
// stored yet).
func swapAndMergeParty(p *PartySnapshot, newSnap *ChannelSnapshot) {
	old := p.Snapshot
	if old == nil || old.CallerDNID == newSnap.CallerDNID {
		p.SetVariable("dnid", newSnap.CallerDNID)
	}
	if old == nil || old.CallerSubaddr == newSnap.CallerSubaddr {
		p.SetVariable("callingsubaddr", newSnap.CallerSubaddr)
	}
	if old == nil || old.DialedSubaddr == newSnap.DialedSubaddr {
		p.SetVariable("calledsubaddr", newSnap.DialedSubaddr)
	}
	p.Snapshot = newSnap
}

// initSingle applies the Single-state init hook: start the clock, and if
// the channel is already answered at creation time, stamp answer too.
func initSingle(rec *CdrObject, now time.Time) {
	if rec.Start.IsZero() {
		rec.Start = now
	}
	if rec.PartyA.Snapshot != nil && rec.PartyA.Snapshot.Up && rec.Answer.IsZero() {
		rec.Answer = now
	}
}

func dialStatusToDisposition(status DialStatus, logCongestion bool) Disposition {
	switch status {
	case DialStatusAnswer:
		return DispositionAnswered
	case DialStatusBusy:
		return DispositionBusy
	case DialStatusCancel, DialStatusNoAnswer:
		return DispositionNoAnswer
	case DialStatusCongestion:
		if logCongestion {
			return DispositionCongestion
		}
		return DispositionFailed
	default:
		return DispositionFailed
	}
}

func dispositionFromCause(cause int, logCongestion bool) (Disposition, bool) {
	switch cause {
	case CauseBusy:
		return DispositionBusy, true
	case CauseNoRouteDestination, CauseUnregistered:
		return DispositionFailed, true
	case CauseNormalClearing, CauseNoAnswer:
		return DispositionNoAnswer, true
	case CauseCongestion, CauseSwitchCongestion:
		if logCongestion {
			return DispositionCongestion, true
		}
		return DispositionFailed, true
	default:
		return DispositionNull, false
	}
}

// transition moves rec into newState, applying the relevant per-state init
// hook (§4.3 "Init hooks per state").
func (e *Engine) transition(rec *CdrObject, newState StateKind, now time.Time) {
	old := rec.State
	// Leaving Pending for a live state re-enables the record; a Pending
	// record that is finalized stays Disabled and is never posted.
	if old == StatePending && newState != StatePending && newState != StateFinalized {
		rec.Flags.clear(FlagDisable)
	}
	rec.State = newState
	switch newState {
	case StateSingle:
		initSingle(rec, now)
	case StatePending:
		rec.Flags.set(FlagDisable)
	case StateFinalized:
		if e.cfg.EndBeforeHExten && rec.End.IsZero() {
			rec.End = now
		}
	}
	e.emit("transition", rec)
}

// finalizeRecord sets end (at most once) and derives the disposition if it
// is still Null (SPEC_FULL.md §4.3 "Disposition derivation at finalize").
func (e *Engine) finalizeRecord(rec *CdrObject, now time.Time) {
	if !rec.End.IsZero() {
		return // idempotent: end is set at most once until an explicit reset
	}
	rec.End = now
	if rec.Disposition != DispositionNull {
		return
	}
	if !rec.Answer.IsZero() {
		rec.Disposition = DispositionAnswered
		return
	}
	cause := rec.PartyA.Snapshot.HangupCause
	if cause == 0 && rec.PartyB != nil && rec.PartyB.Snapshot != nil {
		cause = rec.PartyB.Snapshot.HangupCause
	}
	if cause == 0 {
		rec.Disposition = DispositionFailed
		return
	}
	if d, ok := dispositionFromCause(cause, e.cfg.LogCongestion); ok {
		rec.Disposition = d
	}
	// else: an unrecognized cause leaves the disposition as Null.
	e.emit("finalize", rec)
}

// bridgeRemoval is a bridge-index removal a caller decided was needed while
// walking a chain it holds locked. The index is never touched until the
// chain lock is released (SPEC_FULL.md §5: no index lock may be acquired
// while holding a chain lock), so every site that can trigger a removal
// collects them here instead and flushes once its chain lock is dropped.
type bridgeRemoval struct {
	bridgeID string
	head     *CdrObject
}

// noteBridgeRemoval appends a bridgeRemoval to pending if no record in rec's
// chain still references bridgeID. Caller must hold the chain's lock to walk
// it safely, but must not flush pending until that lock is released.
func noteBridgeRemoval(pending *[]bridgeRemoval, rec *CdrObject, bridgeID string) {
	head := rec.chain.head
	for r := head; r != nil; r = r.next {
		if r.Bridge == bridgeID {
			return
		}
	}
	*pending = append(*pending, bridgeRemoval{bridgeID: bridgeID, head: head})
}

// flushBridgeRemovals performs every pending removal. Callers invoke this
// only after releasing every chain lock taken while building pending.
func (e *Engine) flushBridgeRemovals(pending []bridgeRemoval) {
	for _, r := range pending {
		e.bridges.remove(r.bridgeID, r.head)
	}
}

// --- Party-A update dispatch (§4.3 table row "Party-A update") ---

func (e *Engine) dispatchPartyAUpdate(rec *CdrObject, newSnap *ChannelSnapshot, now time.Time, pending *[]bridgeRemoval) bool {
	switch rec.State {
	case StateSingle:
		return e.singlePartyAUpdate(rec, newSnap, now, pending)
	case StateDial:
		return e.basePartyAUpdate(rec, newSnap, now)
	case StateBridged:
		return e.bridgedPartyAUpdate(rec, newSnap, now, pending)
	case StateDialedPending:
		return e.dialedPendingPartyAUpdate(rec, newSnap, now, pending)
	case StatePending:
		return e.pendingPartyAUpdate(rec, newSnap, now, pending)
	case StateFinalized:
		return e.finalizedPartyAUpdate(rec, newSnap, now)
	default:
		return false
	}
}

func (e *Engine) basePartyAUpdate(rec *CdrObject, newSnap *ChannelSnapshot, now time.Time) bool {
	swapAndMergeParty(&rec.PartyA, newSnap)
	if rec.Answer.IsZero() && newSnap.Up {
		rec.Answer = now
	}
	if newSnap.Flags.Zombie {
		e.finalizeRecord(rec, now)
		e.transition(rec, StateFinalized, now)
	}
	return true
}

func (e *Engine) singlePartyAUpdate(rec *CdrObject, newSnap *ChannelSnapshot, now time.Time, pending *[]bridgeRemoval) bool {
	return e.basePartyAUpdate(rec, newSnap, now)
}

func (e *Engine) bridgedPartyAUpdate(rec *CdrObject, newSnap *ChannelSnapshot, now time.Time, pending *[]bridgeRemoval) bool {
	handled := e.basePartyAUpdate(rec, newSnap, now)
	if rec.State == StateFinalized && rec.Bridge != "" {
		bridgeID := rec.Bridge
		rec.Bridge = ""
		noteBridgeRemoval(pending, rec, bridgeID)
	}
	return handled
}

func (e *Engine) dialedPendingPartyAUpdate(rec *CdrObject, newSnap *ChannelSnapshot, now time.Time, pending *[]bridgeRemoval) bool {
	if !cepChanged(rec.PartyA.Snapshot, newSnap) {
		return e.basePartyAUpdate(rec, newSnap, now)
	}
	if rec.PartyB == nil {
		e.transition(rec, StateSingle, now)
		return e.singlePartyAUpdate(rec, newSnap, now, pending)
	}
	// Finalize the old record on its pre-update CEP values, then fork a
	// fresh Single record to receive the new snapshot.
	e.finalizeRecord(rec, now)
	e.transition(rec, StateFinalized, now)
	newRec := e.forkAppend(rec, now)
	return e.singlePartyAUpdate(newRec, newSnap, now, pending)
}

func (e *Engine) pendingPartyAUpdate(rec *CdrObject, newSnap *ChannelSnapshot, now time.Time, pending *[]bridgeRemoval) bool {
	if cepChanged(rec.PartyA.Snapshot, newSnap) {
		e.transition(rec, StateSingle, now)
		return e.singlePartyAUpdate(rec, newSnap, now, pending)
	}
	if newSnap.Flags.Zombie {
		e.finalizeRecord(rec, now)
		e.transition(rec, StateFinalized, now)
		return true
	}
	swapAndMergeParty(&rec.PartyA, newSnap)
	return true
}

func (e *Engine) finalizedPartyAUpdate(rec *CdrObject, newSnap *ChannelSnapshot, now time.Time) bool {
	if newSnap.Flags.Zombie {
		e.finalizeRecord(rec, now) // idempotent no-op; end already set
		return true
	}
	return false
}

// --- Party-B update dispatch (§4.7) ---

func (e *Engine) dispatchPartyBUpdate(rec *CdrObject, newSnap *ChannelSnapshot, now time.Time, pending *[]bridgeRemoval) {
	switch rec.State {
	case StateSingle:
		if rec.PartyB != nil {
			e.log.Warn().Str("channel", rec.Name).Msg("party-b update delivered to single-state record carrying a party b")
		}
	case StateDial, StateBridged:
		if rec.PartyB == nil {
			return
		}
		swapAndMergeParty(rec.PartyB, newSnap)
		if newSnap.Flags.Zombie {
			e.finalizeRecord(rec, now)
			wasBridge := rec.Bridge
			e.transition(rec, StateFinalized, now)
			if wasBridge != "" {
				rec.Bridge = ""
				noteBridgeRemoval(pending, rec, wasBridge)
			}
		}
	default:
		// DialedPending, Pending, Finalized: no party-b handler defined.
	}
}

// --- Dial-begin / dial-end dispatch ---

func (e *Engine) dispatchDialBegin(rec *CdrObject, peer PartySnapshot, now time.Time) bool {
	switch rec.State {
	case StateSingle:
		e.transition(rec, StateDial, now)
		rec.PartyB = &peer
		return true
	case StateDialedPending:
		e.finalizeRecord(rec, now)
		e.transition(rec, StateFinalized, now)
		newRec := e.forkAppend(rec, now)
		e.transition(newRec, StateDial, now)
		newRec.PartyB = &peer
		return true
	case StatePending:
		e.transition(rec, StateSingle, now)
		return e.dispatchDialBegin(rec, peer, now)
	default:
		return false // Dial refuses (×); Bridged/Finalized have no handler
	}
}

func (e *Engine) dispatchDialEnd(rec *CdrObject, status DialStatus, now time.Time) bool {
	if rec.State != StateDial {
		return false
	}
	disp := dialStatusToDisposition(status, e.cfg.LogCongestion)
	rec.Disposition = disp
	if status == DialStatusAnswer {
		if rec.Answer.IsZero() {
			rec.Answer = now
		}
		e.transition(rec, StateDialedPending, now)
		return true
	}
	e.finalizeRecord(rec, now)
	e.transition(rec, StateFinalized, now)
	return true
}

// --- Bridge-enter / bridge-leave dispatch ---

func (e *Engine) dispatchBridgeEnter(rec *CdrObject, bridge *BridgeSnapshot, now time.Time) bool {
	switch rec.State {
	case StateSingle, StateDial:
		e.enterBridge(rec, bridge, now)
		return true
	case StateDialedPending:
		e.transition(rec, StateDial, now)
		e.enterBridge(rec, bridge, now)
		return true
	case StatePending:
		e.transition(rec, StateSingle, now)
		return e.dispatchBridgeEnter(rec, bridge, now)
	default:
		return false
	}
}

func (e *Engine) dispatchBridgeLeave(rec *CdrObject, bridge *BridgeSnapshot, now time.Time, pending *[]bridgeRemoval) bool {
	if rec.State != StateBridged || rec.Bridge != bridge.UniqueID {
		return false
	}
	e.finalizeRecord(rec, now)
	e.transition(rec, StateFinalized, now)
	bridgeID := rec.Bridge
	rec.Bridge = ""
	noteBridgeRemoval(pending, rec, bridgeID)
	return true
}

// partyBLeftBridge finalizes rec in place, without any state transition,
// when rec's Party B is the channel leaving the bridge (§4.6, "Party-B
// side").
func (e *Engine) partyBLeftBridge(rec *CdrObject, bridgeID, leaverName string, now time.Time) {
	if rec.State != StateBridged || rec.Bridge != bridgeID {
		return
	}
	if rec.PartyB == nil || rec.PartyB.Snapshot == nil || rec.PartyB.Snapshot.Name != leaverName {
		return
	}
	e.finalizeRecord(rec, now)
}
