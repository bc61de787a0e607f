// Package cdr implements the call detail record engine: a per-channel state
// machine and cross-channel pairing logic that turns channel/bridge/dial
// events into finalized billing records.
package cdr

import "time"

// ChannelFlags mirrors the subset of channel flags the engine reasons about.
type ChannelFlags struct {
	Outgoing   bool
	Originated bool
	Zombie     bool
}

// ChannelSnapshot is an immutable view of a channel at a point in time.
// Ownership is shared: callers publish a new snapshot on every change rather
// than mutating one in place.
type ChannelSnapshot struct {
	Name            string
	UniqueID        string
	LinkedID        string
	AccountCode     string
	CallerName      string
	CallerNumber    string
	CallerDNID      string
	CallerSubaddr   string
	DialedSubaddr   string
	Exten           string
	Context         string
	Priority        int
	Appl            string
	Data            string
	Up              bool
	AMAFlags        int
	HangupCause     int
	CreationTime    time.Time
	Flags           ChannelFlags
}

// BridgeSnapshot is an immutable view of a bridge.
type BridgeSnapshot struct {
	UniqueID   string
	Technology string
}

// IsHoldingBridge reports whether the bridge is the internal parking/holding
// bridge technology that the engine must ignore entirely.
func (b *BridgeSnapshot) IsHoldingBridge() bool {
	return b != nil && b.Technology == "holding_bridge"
}

// PartyFlags are the per-party hint bits carried alongside a snapshot.
type PartyFlags struct {
	PartyA bool
}

// Variable is a single named string variable in insertion order.
type Variable struct {
	Name  string
	Value string
}

// PartySnapshot pairs a ChannelSnapshot with the per-record state the engine
// layers on top of it: a short free-text userfield, party hint flags, and an
// ordered list of named variables.
type PartySnapshot struct {
	Snapshot  *ChannelSnapshot
	UserField string
	Flags     PartyFlags
	Variables []Variable
}

// clone returns a shallow value copy; Variables is copied so callers may
// append without aliasing another party's slice.
func (p PartySnapshot) clone() PartySnapshot {
	cp := p
	cp.Variables = append([]Variable(nil), p.Variables...)
	return cp
}

// GetVariable returns the last-set value for name, if present.
func (p *PartySnapshot) GetVariable(name string) (string, bool) {
	for i := len(p.Variables) - 1; i >= 0; i-- {
		if p.Variables[i].Name == name {
			return p.Variables[i].Value, true
		}
	}
	return "", false
}

// SetVariable replaces an existing variable in place or appends a new one,
// preserving insertion order as required by the record builder.
func (p *PartySnapshot) SetVariable(name, value string) {
	for i := range p.Variables {
		if p.Variables[i].Name == name {
			p.Variables[i].Value = value
			return
		}
	}
	p.Variables = append(p.Variables, Variable{Name: name, Value: value})
}

// isDialed reports whether a party snapshot represents a dialed destination:
// Outgoing set and Originated clear. Used both by Party-A selection and by
// the record builder's dialed-side suppression rule.
func (p *PartySnapshot) isDialed() bool {
	if p == nil || p.Snapshot == nil {
		return false
	}
	f := p.Snapshot.Flags
	return f.Outgoing && !f.Originated
}

// Disposition is the final billing outcome of a record.
type Disposition int

const (
	DispositionNull Disposition = iota
	DispositionNoAnswer
	DispositionFailed
	DispositionBusy
	DispositionAnswered
	DispositionCongestion
)

func (d Disposition) String() string {
	switch d {
	case DispositionNoAnswer:
		return "NO ANSWER"
	case DispositionFailed:
		return "FAILED"
	case DispositionBusy:
		return "BUSY"
	case DispositionAnswered:
		return "ANSWERED"
	case DispositionCongestion:
		return "CONGESTION"
	default:
		return "NULL"
	}
}

// DialStatus is the terminal status carried by a dial-end event.
type DialStatus int

const (
	DialStatusNone DialStatus = iota
	DialStatusAnswer
	DialStatusBusy
	DialStatusCancel
	DialStatusNoAnswer
	DialStatusCongestion
	DialStatusFailed
)

// RecordFlags is the bitset carried on every CdrObject.
type RecordFlags uint8

const (
	FlagDisable RecordFlags = 1 << iota
	FlagKeepVars
	FlagSetAnswer
	FlagReset
	FlagFinalize
	FlagPartyA
)

func (f RecordFlags) has(bit RecordFlags) bool { return f&bit != 0 }
func (f *RecordFlags) set(bit RecordFlags)     { *f |= bit }
func (f *RecordFlags) clear(bit RecordFlags)   { *f &^= bit }

// Hangup cause codes the disposition mapping cares about. Values follow the
// upstream telephony stack's Q.931-derived cause code numbering.
const (
	CauseBusy              = 17
	CauseNoRouteDestination = 3
	CauseUnregistered       = 20
	CauseNormalClearing     = 16
	CauseNoAnswer           = 19
	CauseCongestion         = 34
	CauseSwitchCongestion   = 42
)
