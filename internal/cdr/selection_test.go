package cdr

import (
	"testing"
	"time"
)

func partyWith(name string, dialed, partyAFlag bool, created time.Time) *PartySnapshot {
	snap := &ChannelSnapshot{Name: name, CreationTime: created}
	if dialed {
		snap.Flags.Outgoing = true
	}
	return &PartySnapshot{Snapshot: snap, Flags: PartyFlags{PartyA: partyAFlag}}
}

func TestPickPartyANonDialedBeatsDialed(t *testing.T) {
	t0 := time.Unix(100, 0)
	notDialed := partyWith("A", false, false, t0)
	dialed := partyWith("B", true, false, t0)

	if !pickPartyA(notDialed, dialed) {
		t.Errorf("expected non-dialed to win as Party A")
	}
	if pickPartyA(dialed, notDialed) {
		t.Errorf("expected non-dialed to win as Party A regardless of argument order")
	}
}

func TestPickPartyAFlagBreaksTie(t *testing.T) {
	t0 := time.Unix(200, 0)
	flagged := partyWith("A", false, true, t0)
	plain := partyWith("B", false, false, t0)

	if !pickPartyA(flagged, plain) {
		t.Errorf("expected PartyA-flagged candidate to win")
	}
	if pickPartyA(plain, flagged) {
		t.Errorf("expected PartyA-flagged candidate to win regardless of argument order")
	}
}

func TestPickPartyACreationTimeBreaksTie(t *testing.T) {
	earlier := partyWith("A", false, false, time.Unix(300, 0))
	later := partyWith("B", false, false, time.Unix(400, 0))

	if !pickPartyA(earlier, later) {
		t.Errorf("expected earlier creation time to win")
	}
	if pickPartyA(later, earlier) {
		t.Errorf("expected earlier creation time to win regardless of argument order")
	}
}

func TestPickPartyALeftWinsOnExactTie(t *testing.T) {
	t0 := time.Unix(500, 0)
	l := partyWith("A", false, false, t0)
	r := partyWith("B", false, false, t0)

	if !pickPartyA(l, r) {
		t.Errorf("expected left to win on an exact tie")
	}
}
