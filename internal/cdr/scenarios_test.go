package cdr

import (
	"testing"
	"time"
)

func TestSimpleInboundCallAnswersAndHangsUp(t *testing.T) {
	cfg := NewConfig()
	e, backend, clock := newTestEngine(cfg)

	base := time.Unix(1000, 0)

	a0 := newSnapshot("SIP/A", false)
	e.OnChannelUpdate(nil, a0, clock.at(base))

	a1 := *a0
	a1.Up = true
	e.OnChannelUpdate(a0, &a1, clock.at(base.Add(2*time.Second)))

	bridge := &BridgeSnapshot{UniqueID: "b1"}
	e.OnBridgeEnter(&a1, bridge, clock.at(base.Add(2*time.Second)))
	e.OnBridgeLeave(&a1, bridge, clock.at(base.Add(10*time.Second)))
	e.OnChannelUpdate(&a1, nil, clock.at(base.Add(10*time.Second)))

	got := backend.all()
	if len(got) != 1 {
		t.Fatalf("expected exactly one dispatched record, got %d", len(got))
	}
	rec := got[0]
	if rec.Channel != "SIP/A" || rec.DstChannel != "" {
		t.Errorf("unexpected channel/dstchannel: %q/%q", rec.Channel, rec.DstChannel)
	}
	if rec.Duration != 10 || rec.BillSec != 8 {
		t.Errorf("duration=%d billsec=%d, want 10/8", rec.Duration, rec.BillSec)
	}
	if rec.Disposition != DispositionAnswered {
		t.Errorf("disposition = %v, want Answered", rec.Disposition)
	}
	if rec.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", rec.Sequence)
	}
}

func TestOutboundDialAnswered(t *testing.T) {
	cfg := NewConfig()
	e, backend, clock := newTestEngine(cfg)

	base := time.Unix(2000, 0)

	a0 := newSnapshot("SIP/A", false)
	e.OnChannelUpdate(nil, a0, clock.at(base))

	b0 := dialedSnapshot("SIP/B")
	e.OnDialBegin(a0, b0, clock.at(base.Add(1*time.Second)))
	e.OnChannelUpdate(nil, b0, clock.at(base.Add(1*time.Second)))

	e.OnDialEnd(a0, DialStatusAnswer, clock.at(base.Add(4*time.Second)))

	bridge := &BridgeSnapshot{UniqueID: "b1"}
	e.OnBridgeEnter(b0, bridge, clock.at(base.Add(4*time.Second)))
	e.OnBridgeEnter(a0, bridge, clock.at(base.Add(4*time.Second)))

	e.OnBridgeLeave(b0, bridge, clock.at(base.Add(20*time.Second)))
	e.OnChannelUpdate(b0, nil, clock.at(base.Add(20*time.Second)))
	e.OnChannelUpdate(a0, nil, clock.at(base.Add(20*time.Second)))

	got := backend.all()
	if len(got) != 1 {
		t.Fatalf("expected exactly one dispatched record (dialed side suppressed), got %d", len(got))
	}
	rec := got[0]
	if rec.Channel != "SIP/A" {
		t.Errorf("channel = %q, want SIP/A", rec.Channel)
	}
	if rec.DstChannel != "SIP/B" {
		t.Errorf("dstchannel = %q, want SIP/B", rec.DstChannel)
	}
	if rec.Disposition != DispositionAnswered {
		t.Errorf("disposition = %v, want Answered", rec.Disposition)
	}
	if rec.End.Sub(base) != 20*time.Second {
		t.Errorf("end offset = %v, want 20s", rec.End.Sub(base))
	}
}

func TestUnansweredCallFilteredWithoutDstChannel(t *testing.T) {
	cfg := NewConfig()
	e, backend, clock := newTestEngine(cfg)

	base := time.Unix(3000, 0)
	a0 := newSnapshot("SIP/A", false)
	e.OnChannelUpdate(nil, a0, clock.at(base))
	e.OnChannelUpdate(a0, nil, clock.at(base.Add(3*time.Second)))

	if got := backend.all(); len(got) != 0 {
		t.Fatalf("expected zero posted records with LogUnanswered=false and no peer leg, got %d", len(got))
	}

	cfg2 := NewConfig()
	cfg2.LogUnanswered = true
	e2, backend2, clock2 := newTestEngine(cfg2)
	a1 := newSnapshot("SIP/C", false)
	e2.OnChannelUpdate(nil, a1, clock2.at(base))
	e2.OnChannelUpdate(a1, nil, clock2.at(base.Add(3*time.Second)))
	if got := backend2.all(); len(got) != 1 {
		t.Fatalf("expected one posted record with LogUnanswered=true, got %d", len(got))
	}
}

func TestBillsecRoundingWithInitiatedSeconds(t *testing.T) {
	rounded := billsecSeconds(3600*time.Millisecond, true)
	if rounded != 4 {
		t.Errorf("600ms remainder with rounding on: billsec = %d, want 4", rounded)
	}
	unrounded := billsecSeconds(3600*time.Millisecond, false)
	if unrounded != 3 {
		t.Errorf("600ms remainder with rounding off: billsec = %d, want 3", unrounded)
	}
	below := billsecSeconds(3400*time.Millisecond, true)
	if below != 3 {
		t.Errorf("400ms remainder with rounding on: billsec = %d, want 3", below)
	}
}

func TestSequenceNumbersAreUniqueAndIncreasing(t *testing.T) {
	cfg := NewConfig()
	e, _, clock := newTestEngine(cfg)
	base := time.Unix(4000, 0)

	a0 := newSnapshot("SIP/A", false)
	e.OnChannelUpdate(nil, a0, clock.at(base))
	head := e.channels.get("SIP/A")
	if head == nil {
		t.Fatal("expected chain for SIP/A")
	}
	first := head.Sequence

	b0 := newSnapshot("SIP/B", false)
	e.OnChannelUpdate(nil, b0, clock.at(base))
	headB := e.channels.get("SIP/B")
	if headB.Sequence <= first {
		t.Errorf("sequence %d not greater than %d", headB.Sequence, first)
	}
}

func TestCongestionDialStatusMapping(t *testing.T) {
	base := time.Unix(7000, 0)

	run := func(logCongestion bool) Disposition {
		cfg := NewConfig()
		cfg.LogCongestion = logCongestion
		e, backend, clock := newTestEngine(cfg)

		a0 := newSnapshot("SIP/A", false)
		e.OnChannelUpdate(nil, a0, clock.at(base))

		b0 := dialedSnapshot("SIP/B")
		e.OnDialBegin(a0, b0, clock.at(base.Add(1*time.Second)))
		e.OnDialEnd(a0, DialStatusCongestion, clock.at(base.Add(2*time.Second)))
		e.OnChannelUpdate(a0, nil, clock.at(base.Add(2*time.Second)))

		got := backend.all()
		if len(got) != 1 {
			t.Fatalf("expected exactly one dispatched record, got %d", len(got))
		}
		return got[0].Disposition
	}

	if got := run(false); got != DispositionFailed {
		t.Errorf("LogCongestion=false: disposition = %v, want Failed", got)
	}
	if got := run(true); got != DispositionCongestion {
		t.Errorf("LogCongestion=true: disposition = %v, want Congestion", got)
	}
}

func TestCEPChangeReactivatesPendingRecord(t *testing.T) {
	cfg := NewConfig()
	e, _, clock := newTestEngine(cfg)
	base := time.Unix(8000, 0)

	a0 := newSnapshot("SIP/A", false)
	e.OnChannelUpdate(nil, a0, clock.at(base))

	a1 := *a0
	a1.Up = true
	e.OnChannelUpdate(a0, &a1, clock.at(base.Add(1*time.Second)))

	bridge := &BridgeSnapshot{UniqueID: "b1"}
	e.OnBridgeEnter(&a1, bridge, clock.at(base.Add(1*time.Second)))
	e.OnBridgeLeave(&a1, bridge, clock.at(base.Add(5*time.Second)))

	head := e.channels.get("SIP/A")
	if head == nil {
		t.Fatal("expected chain for SIP/A")
	}
	pendingRec := head.chain.tail
	if pendingRec.State != StatePending {
		t.Fatalf("state after bridge leave = %v, want Pending", pendingRec.State)
	}

	a2 := a1
	a2.Context = "new-context"
	e.OnChannelUpdate(&a1, &a2, clock.at(base.Add(6*time.Second)))

	if pendingRec.State != StateSingle {
		t.Errorf("state after CEP change delivered to a pending record = %v, want Single (reactivated in place)", pendingRec.State)
	}
	if pendingRec.PartyA.Snapshot.Context != "new-context" {
		t.Errorf("context after CEP change = %q, want new-context", pendingRec.PartyA.Snapshot.Context)
	}
}

func TestReadonlyVariableRejected(t *testing.T) {
	cfg := NewConfig()
	e, _, clock := newTestEngine(cfg)
	base := time.Unix(5000, 0)
	a0 := newSnapshot("SIP/A", false)
	e.OnChannelUpdate(nil, a0, clock.at(base))

	if err := e.SetVar("SIP/A", "uniqueid", "forged"); err != ErrReadonlyVar {
		t.Fatalf("SetVar(uniqueid) error = %v, want ErrReadonlyVar", err)
	}
	if err := e.SetVar("SIP/A", "my_var", "ok"); err != nil {
		t.Fatalf("SetVar(my_var) error = %v, want nil", err)
	}
	v, ok := e.GetVar("SIP/A", "my_var")
	if !ok || v != "ok" {
		t.Fatalf("GetVar(my_var) = %q, %v, want ok, true", v, ok)
	}
}
