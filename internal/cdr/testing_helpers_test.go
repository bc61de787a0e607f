package cdr

import (
	"time"

	"github.com/rs/zerolog"
)

// recordingBackend captures every batch it is handed, for assertions.
type recordingBackend struct {
	name    string
	batches [][]PublicRecord
}

func (b *recordingBackend) Name() string { return b.name }

func (b *recordingBackend) Post(records []PublicRecord) error {
	cp := append([]PublicRecord(nil), records...)
	b.batches = append(b.batches, cp)
	return nil
}

func (b *recordingBackend) all() []PublicRecord {
	var out []PublicRecord
	for _, batch := range b.batches {
		out = append(out, batch...)
	}
	return out
}

// testClock is the engine's settable clock: at moves it to t and returns t,
// so one call both advances the engine's clock and supplies the event time.
type testClock struct {
	now time.Time
}

func (c *testClock) at(t time.Time) time.Time {
	c.now = t
	return t
}

func newTestEngine(cfg Config) (*Engine, *recordingBackend, *testClock) {
	e := NewEngine(cfg, zerolog.Nop())
	backend := &recordingBackend{name: "test"}
	e.RegisterBackend(backend)
	tc := &testClock{}
	tc.at(time.Unix(0, 0))
	e.SetClock(func() time.Time { return tc.now })
	return e, backend, tc
}

func newSnapshot(name string, up bool) *ChannelSnapshot {
	return &ChannelSnapshot{
		Name:         name,
		UniqueID:     name + "-uid",
		LinkedID:     name + "-linked",
		CallerNumber: "1000",
		CallerName:   "Caller",
		Exten:        "100",
		Context:      "default",
		Up:           up,
	}
}

func dialedSnapshot(name string) *ChannelSnapshot {
	s := newSnapshot(name, false)
	s.Flags.Outgoing = true
	return s
}
