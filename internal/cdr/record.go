package cdr

import "time"

// PublicRecord is the immutable, finalized shape the rest of the system
// consumes (SPEC_FULL.md §4.8).
type PublicRecord struct {
	AccountCode string
	AMAFlags    int
	Channel     string
	CLID        string
	Src         string
	UniqueID    string
	LastApp     string
	LastData    string
	Dst         string
	DContext    string
	DstChannel  string
	PeerAccount string
	UserField   string

	Start, Answer, End time.Time
	LinkedID           string
	Disposition        Disposition
	Sequence           uint32
	Flags              RecordFlags

	Duration int // whole seconds
	BillSec  int // whole seconds

	Variables []Variable
}

func durationSeconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

func billsecSeconds(d time.Duration, roundUp bool) int {
	if d < 0 {
		return 0
	}
	secs := int(d / time.Second)
	if roundUp && d%time.Second >= 500*time.Millisecond {
		secs++
	}
	return secs
}

func mergeUserField(a, b *PartySnapshot) string {
	if b != nil && b.UserField != "" {
		return a.UserField + ";" + b.UserField
	}
	return a.UserField
}

func mergeVariables(a *PartySnapshot, b *PartySnapshot) []Variable {
	out := append([]Variable(nil), a.Variables...)
	if b == nil {
		return out
	}
	seen := make(map[string]bool, len(out))
	for _, v := range out {
		seen[v.Name] = true
	}
	for _, v := range b.Variables {
		if !seen[v.Name] {
			out = append(out, v)
			seen[v.Name] = true
		}
	}
	return out
}

// buildPublicRecords derives one row per record in the chain, skipping
// records whose Party A is itself a dialed channel (§4.8).
func buildPublicRecords(records []*CdrObject, cfg Config, now time.Time) []PublicRecord {
	var out []PublicRecord
	for _, r := range records {
		if r.PartyA.isDialed() {
			continue
		}

		end := r.End
		var duration int
		if !end.IsZero() {
			duration = durationSeconds(end.Sub(r.Start))
		} else {
			duration = durationSeconds(now.Sub(r.Start))
		}

		var billsec int
		if !r.Answer.IsZero() {
			endForBill := end
			if endForBill.IsZero() {
				endForBill = now
			}
			billsec = billsecSeconds(endForBill.Sub(r.Answer), cfg.InitiatedSeconds)
		}

		a := r.PartyA.Snapshot
		pr := PublicRecord{
			AccountCode: a.AccountCode,
			AMAFlags:    a.AMAFlags,
			Channel:     r.Name,
			CLID:        a.CallerName + " <" + a.CallerNumber + ">",
			Src:         a.CallerNumber,
			UniqueID:    a.UniqueID,
			LastApp:     r.Appl,
			LastData:    r.Data,
			Dst:         a.Exten,
			DContext:    a.Context,
			UserField:   mergeUserField(&r.PartyA, r.PartyB),
			Start:       r.Start,
			Answer:      r.Answer,
			End:         r.End,
			LinkedID:    r.LinkedID,
			Disposition: r.Disposition,
			Sequence:    r.Sequence,
			Flags:       r.Flags,
			Duration:    duration,
			BillSec:     billsec,
			Variables:   mergeVariables(&r.PartyA, r.PartyB),
		}
		if r.PartyB != nil && r.PartyB.Snapshot != nil {
			pr.DstChannel = r.PartyB.Snapshot.Name
			pr.PeerAccount = r.PartyB.Snapshot.AccountCode
		}
		out = append(out, pr)
	}
	return out
}

// filterForPosting applies the sink-posting-time filters of §4.8's final
// paragraph: Disable-flagged records are dropped, and so are unanswered
// records with a missing leg when LogUnanswered is off.
func filterForPosting(records []PublicRecord, cfg Config) []PublicRecord {
	out := make([]PublicRecord, 0, len(records))
	for _, r := range records {
		if r.Flags.has(FlagDisable) {
			continue
		}
		if !cfg.LogUnanswered && r.Disposition < DispositionAnswered && (r.Channel == "" || r.DstChannel == "") {
			continue
		}
		out = append(out, r)
	}
	return out
}
