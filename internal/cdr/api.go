package cdr

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by API calls addressed at a channel with no
// registered chain.
var ErrNotFound = errors.New("cdr: channel not found")

// ErrReadonlyVar is returned by SetVar when name names a derived field the
// record builder computes itself rather than a free-form variable.
var ErrReadonlyVar = errors.New("cdr: variable name is readonly")

var readonlyVarNames = map[string]bool{
	"clid": true, "src": true, "dst": true, "dcontext": true,
	"channel": true, "dstchannel": true, "lastapp": true, "lastdata": true,
	"start": true, "answer": true, "end": true, "duration": true,
	"billsec": true, "disposition": true, "amaflags": true,
	"accountcode": true, "uniqueid": true, "linkedid": true,
	"userfield": true, "sequence": true,
}

// Property is one of the per-record flag bits exposed to callers through
// SetProperty/ClearProperty/Reset/Fork (§6.2).
type Property int

const (
	PropertyDisable Property = iota
	PropertyKeepVars
	PropertySetAnswer
	PropertyReset
	PropertyFinalize
)

func propertyFlag(p Property) RecordFlags {
	switch p {
	case PropertyDisable:
		return FlagDisable
	case PropertyKeepVars:
		return FlagKeepVars
	case PropertySetAnswer:
		return FlagSetAnswer
	case PropertyReset:
		return FlagReset
	case PropertyFinalize:
		return FlagFinalize
	default:
		return 0
	}
}

// activeRecord returns the last non-finalized record in the chain, or the
// tail if every record has already finalized. Caller must hold c.mu.
func activeRecord(c *chain) *CdrObject {
	var last *CdrObject
	for r := c.head; r != nil; r = r.next {
		if r.State != StateFinalized {
			last = r
		}
	}
	if last == nil {
		last = c.tail
	}
	return last
}

func (e *Engine) withActive(channel string, fn func(c *chain, rec *CdrObject)) error {
	head := e.channels.get(channel)
	if head == nil {
		return ErrNotFound
	}
	c := head.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c, activeRecord(c))
	return nil
}

// GetVar returns the last-set value of name on channel's active record.
func (e *Engine) GetVar(channel, name string) (string, bool) {
	var val string
	var ok bool
	_ = e.withActive(channel, func(c *chain, rec *CdrObject) {
		val, ok = rec.PartyA.GetVariable(name)
	})
	return val, ok
}

// SetVar sets a variable on channel's active record, rejecting names the
// record builder derives itself (matched case-insensitively).
func (e *Engine) SetVar(channel, name, value string) error {
	if readonlyVarNames[strings.ToLower(name)] {
		return ErrReadonlyVar
	}
	return e.withActive(channel, func(c *chain, rec *CdrObject) {
		rec.PartyA.SetVariable(name, value)
	})
}

// SetUserField writes Party-A userfield on every non-finalized record in
// channel's chain, and Party-B userfield on any record whose Party B is
// channel (§6.2).
func (e *Engine) SetUserField(channel, value string) error {
	head := e.channels.get(channel)
	if head == nil {
		return ErrNotFound
	}
	c := head.chain
	c.mu.Lock()
	for r := c.head; r != nil; r = r.next {
		if r.State != StateFinalized {
			r.PartyA.UserField = value
		}
	}
	c.mu.Unlock()

	for _, other := range e.channels.allHeads() {
		oc := other.chain
		oc.mu.Lock()
		for r := oc.head; r != nil; r = r.next {
			if r.PartyB != nil && r.PartyB.Snapshot != nil && r.PartyB.Snapshot.Name == channel {
				r.PartyB.UserField = value
			}
		}
		oc.mu.Unlock()
	}
	return nil
}

// SetProperty sets opt on channel's active record.
func (e *Engine) SetProperty(channel string, opt Property) error {
	return e.withActive(channel, func(c *chain, rec *CdrObject) {
		rec.Flags.set(propertyFlag(opt))
	})
}

// ClearProperty clears opt on channel's active record.
func (e *Engine) ClearProperty(channel string, opt Property) error {
	return e.withActive(channel, func(c *chain, rec *CdrObject) {
		rec.Flags.clear(propertyFlag(opt))
	})
}

// Reset zeros channel's active record's timestamps and restarts start at
// now, clearing variables unless KeepVars is among opts (§6.2).
func (e *Engine) Reset(channel string, now time.Time, opts ...Property) error {
	return e.withActive(channel, func(c *chain, rec *CdrObject) {
		keepVars := false
		for _, o := range opts {
			rec.Flags.set(propertyFlag(o))
			if o == PropertyKeepVars {
				keepVars = true
			}
		}
		rec.Start = now
		rec.Answer = time.Time{}
		rec.End = time.Time{}
		rec.Disposition = DispositionNull
		if !keepVars {
			rec.PartyA.Variables = nil
			if rec.PartyB != nil {
				rec.PartyB.Variables = nil
			}
		}
	})
}

// Fork appends a new record to channel's chain carrying forward the active
// record's Party B and timestamps, applying SetAnswer/Reset semantics from
// opts, and finalizing the previous record (§6.2).
func (e *Engine) Fork(channel string, now time.Time, opts ...Property) error {
	return e.withActive(channel, func(c *chain, rec *CdrObject) {
		e.finalizeRecord(rec, now)
		e.transition(rec, StateFinalized, now)

		newRec := e.forkAppend(rec, now)
		newRec.PartyB = rec.PartyB
		newRec.Start = rec.Start
		newRec.Answer = rec.Answer

		for _, o := range opts {
			switch o {
			case PropertySetAnswer:
				if newRec.Answer.IsZero() {
					newRec.Answer = now
				}
			case PropertyReset:
				newRec.Start = now
				newRec.Answer = time.Time{}
				newRec.End = time.Time{}
			default:
				newRec.Flags.set(propertyFlag(o))
			}
		}
	})
}
