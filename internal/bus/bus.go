// Package bus translates the AMI event feed into the channel/dial/bridge
// events the cdr engine's router understands. It is the C8 "event source":
// it owns the reconnecting transport and a small in-memory channel table
// used to build the old/new snapshot pairs OnChannelUpdate expects.
package bus

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cdrengine/internal/ami"
	"cdrengine/internal/cdr"
	"cdrengine/internal/config"
)

// Source consumes AMI events and drives an *cdr.Engine.
type Source struct {
	client *ami.Client
	engine *cdr.Engine
	log    zerolog.Logger

	outboundContext string

	mu       sync.Mutex
	channels map[string]*cdr.ChannelSnapshot

	now func() time.Time
}

// New builds a Source bound to an already-constructed AMI client and engine.
func New(client *ami.Client, engine *cdr.Engine, asteriskCfg config.AsteriskConfig, log zerolog.Logger) *Source {
	client.SetLogger(log)
	return &Source{
		client:          client,
		engine:          engine,
		log:             log.With().Str("component", "cdr.bus").Logger(),
		outboundContext: asteriskCfg.OutboundContext,
		channels:        make(map[string]*cdr.ChannelSnapshot),
		now:             time.Now,
	}
}

// Run connects the underlying AMI client and consumes its event feed.
// Dispatch happens on the calling goroutine; callers typically run this in
// its own goroutine. The client never closes subscriber channels, so Run
// returns only when the initial Connect fails.
func (s *Source) Run() error {
	if err := s.client.Connect(); err != nil {
		return err
	}
	sub := s.client.Subscribe()
	for evt := range sub {
		s.dispatch(evt)
	}
	return nil
}

func (s *Source) dispatch(evt ami.Event) {
	switch evt.Type {
	case "Newchannel":
		s.onNewchannel(evt)
	case "Newstate":
		s.onSnapshotChange(evt)
	case "NewCallerid":
		s.onSnapshotChange(evt)
	case "Hangup":
		s.onHangup(evt)
	case "DialBegin":
		s.onDialBegin(evt)
	case "DialEnd":
		s.onDialEnd(evt)
	case "BridgeEnter":
		s.onBridgeEnter(evt)
	case "BridgeLeave":
		s.onBridgeLeave(evt)
	default:
		s.log.Debug().Str("event", evt.Type).Msg("unhandled event type")
	}
}

func (s *Source) snapshotFromEvent(evt ami.Event) *cdr.ChannelSnapshot {
	name := evt.Fields["Channel"]
	priority, _ := strconv.Atoi(evt.Fields["Priority"])
	amaFlags, _ := strconv.Atoi(evt.Fields["AMAFlags"])
	cause, _ := strconv.Atoi(evt.Fields["Cause"])

	uniqueID := evt.Fields["Uniqueid"]
	if uniqueID == "" {
		// Some event types (synthetic test fixtures, a few AMI event
		// subtypes) omit Uniqueid; mint one so the record still has a
		// stable identity for the lifetime of the chain.
		uniqueID = uuid.NewString()
	}

	snap := &cdr.ChannelSnapshot{
		Name:          name,
		UniqueID:      uniqueID,
		LinkedID:      evt.Fields["Linkedid"],
		AccountCode:   evt.Fields["AccountCode"],
		CallerName:    evt.Fields["CallerIDName"],
		CallerNumber:  evt.Fields["CallerIDNum"],
		CallerDNID:    evt.Fields["ConnectedLineNum"],
		Exten:         evt.Fields["Exten"],
		Context:       evt.Fields["Context"],
		Priority:      priority,
		Appl:          evt.Fields["Application"],
		Data:          evt.Fields["AppData"],
		Up:            evt.Fields["ChannelStateDesc"] == "Up",
		AMAFlags:      amaFlags,
		HangupCause:   cause,
		CreationTime:  s.now(),
	}
	snap.Flags.Outgoing = s.outboundContext != "" && evt.Fields["Context"] == s.outboundContext
	snap.Flags.Originated = evt.Fields["Originated"] == "Yes" || evt.Fields["Originated"] == "1"
	return snap
}

func (s *Source) storeSnapshot(snap *cdr.ChannelSnapshot) (old *cdr.ChannelSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old = s.channels[snap.Name]
	s.channels[snap.Name] = snap
	return old
}

func (s *Source) dropSnapshot(name string) *cdr.ChannelSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.channels[name]
	delete(s.channels, name)
	return old
}

func (s *Source) onNewchannel(evt ami.Event) {
	snap := s.snapshotFromEvent(evt)
	s.storeSnapshot(snap)
	s.engine.OnChannelUpdate(nil, snap, s.now())
}

func (s *Source) onSnapshotChange(evt ami.Event) {
	snap := s.snapshotFromEvent(evt)
	old := s.storeSnapshot(snap)
	s.engine.OnChannelUpdate(old, snap, s.now())
}

func (s *Source) onHangup(evt ami.Event) {
	name := evt.Fields["Channel"]
	cause, _ := strconv.Atoi(evt.Fields["Cause"])
	old := s.dropSnapshot(name)
	if old != nil {
		old.HangupCause = cause
	}
	s.engine.OnChannelUpdate(old, nil, s.now())
}

func (s *Source) onDialBegin(evt ami.Event) {
	callerName := evt.Fields["Channel"]
	peerName := evt.Fields["DestChannel"]

	s.mu.Lock()
	caller := s.channels[callerName]
	peer := s.channels[peerName]
	s.mu.Unlock()

	if caller == nil || peer == nil {
		s.log.Warn().Str("caller", callerName).Str("peer", peerName).Msg("dial-begin for unknown channel")
		return
	}
	s.engine.OnDialBegin(caller, peer, s.now())
}

func (s *Source) onDialEnd(evt ami.Event) {
	name := evt.Fields["Channel"]
	s.mu.Lock()
	caller := s.channels[name]
	s.mu.Unlock()
	if caller == nil {
		s.log.Warn().Str("channel", name).Msg("dial-end for unknown channel")
		return
	}
	s.engine.OnDialEnd(caller, dialStatusFromField(evt.Fields["DialStatus"]), s.now())
}

func dialStatusFromField(v string) cdr.DialStatus {
	switch strings.ToUpper(v) {
	case "ANSWER":
		return cdr.DialStatusAnswer
	case "BUSY":
		return cdr.DialStatusBusy
	case "CANCEL":
		return cdr.DialStatusCancel
	case "NOANSWER":
		return cdr.DialStatusNoAnswer
	case "CONGESTION":
		return cdr.DialStatusCongestion
	default:
		return cdr.DialStatusFailed
	}
}

func (s *Source) onBridgeEnter(evt ami.Event) {
	name := evt.Fields["Channel"]
	s.mu.Lock()
	snap := s.channels[name]
	s.mu.Unlock()
	if snap == nil {
		s.log.Warn().Str("channel", name).Msg("bridge-enter for unknown channel")
		return
	}
	bridge := &cdr.BridgeSnapshot{
		UniqueID:   evt.Fields["BridgeUniqueid"],
		Technology: evt.Fields["BridgeTechnology"],
	}
	s.engine.OnBridgeEnter(snap, bridge, s.now())
}

func (s *Source) onBridgeLeave(evt ami.Event) {
	name := evt.Fields["Channel"]
	s.mu.Lock()
	snap := s.channels[name]
	s.mu.Unlock()
	if snap == nil {
		s.log.Warn().Str("channel", name).Msg("bridge-leave for unknown channel")
		return
	}
	bridge := &cdr.BridgeSnapshot{
		UniqueID:   evt.Fields["BridgeUniqueid"],
		Technology: evt.Fields["BridgeTechnology"],
	}
	s.engine.OnBridgeLeave(snap, bridge, s.now())
}
