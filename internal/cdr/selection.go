package cdr

// pickPartyA applies the Party-A selection rule (SPEC_FULL.md §4.2) to two
// party snapshots and reports whether l should be Party A (true) or r should
// (false). Ties, including identical flags and identical creation times,
// resolve to l ("left wins").
func pickPartyA(l, r *PartySnapshot) bool {
	lDialed, rDialed := l.isDialed(), r.isDialed()
	if lDialed != rDialed {
		return !lDialed // non-dialed beats dialed
	}

	lFlag, rFlag := l.Flags.PartyA, r.Flags.PartyA
	if lFlag != rFlag {
		return lFlag // the one carrying the PartyA hint bit wins
	}

	lt, rt := l.Snapshot.CreationTime, r.Snapshot.CreationTime
	if !lt.Equal(rt) {
		return lt.Before(rt) // earlier creation time wins
	}

	return true // tie: left wins
}
