package cdr

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBatchQueueFlushesOnSizeThreshold(t *testing.T) {
	cfg := NewConfig()
	cfg.Batch = true
	cfg.BatchSize = 2
	cfg.BatchTime = 3600
	cfg.SchedulerOnly = true
	cfg.LogUnanswered = true // the bare test records must survive the posting filter

	e := NewEngine(cfg, zerolog.Nop())
	backend := &recordingBackend{name: "size"}
	e.RegisterBackend(backend)

	e.queue.Enqueue([]PublicRecord{{Channel: "a"}})
	if len(backend.all()) != 0 {
		t.Fatalf("flushed before reaching size threshold")
	}
	e.queue.Enqueue([]PublicRecord{{Channel: "b"}})
	if len(backend.all()) != 2 {
		t.Fatalf("expected 2 records flushed at size threshold, got %d", len(backend.all()))
	}
}

func TestBatchQueueFlushesOnTick(t *testing.T) {
	cfg := NewConfig()
	cfg.Batch = true
	cfg.BatchSize = 100
	cfg.BatchTime = 1
	cfg.SchedulerOnly = true
	cfg.LogUnanswered = true

	e := NewEngine(cfg, zerolog.Nop())
	backend := &recordingBackend{name: "time"}
	e.RegisterBackend(backend)

	e.queue.Enqueue([]PublicRecord{{Channel: "a"}})
	if len(backend.all()) != 0 {
		t.Fatalf("flushed before any tick")
	}
	e.queue.Tick()
	if len(backend.all()) != 1 {
		t.Fatalf("expected flush on tick, got %d records", len(backend.all()))
	}
}

func TestBatchQueueSafeShutdownFlushesRemainder(t *testing.T) {
	cfg := NewConfig()
	cfg.Batch = true
	cfg.BatchSize = 100
	cfg.BatchTime = 3600
	cfg.SchedulerOnly = true
	cfg.SafeShutdown = true
	cfg.LogUnanswered = true

	e := NewEngine(cfg, zerolog.Nop())
	backend := &recordingBackend{name: "shutdown"}
	e.RegisterBackend(backend)

	e.queue.Enqueue([]PublicRecord{{Channel: "a"}, {Channel: "b"}})
	e.Shutdown()

	if len(backend.all()) != 2 {
		t.Fatalf("expected safe shutdown to flush remainder, got %d records", len(backend.all()))
	}
}

func TestBatchQueueStopWithoutFlushDropsRemainder(t *testing.T) {
	cfg := NewConfig()
	cfg.Batch = true
	cfg.BatchSize = 100
	cfg.BatchTime = 3600
	cfg.SchedulerOnly = true
	cfg.SafeShutdown = false
	cfg.LogUnanswered = true

	e := NewEngine(cfg, zerolog.Nop())
	backend := &recordingBackend{name: "noflush"}
	e.RegisterBackend(backend)

	e.queue.Enqueue([]PublicRecord{{Channel: "a"}})
	e.Shutdown()

	if len(backend.all()) != 0 {
		t.Fatalf("expected remainder dropped without safe shutdown, got %d records", len(backend.all()))
	}
	if e.queue.Depth() != 1 {
		t.Fatalf("expected dropped buffer to remain unflushed, depth = %d", e.queue.Depth())
	}
}

func TestBatchQueueDedicatedGoroutineFlushesOnInterval(t *testing.T) {
	cfg := NewConfig()
	cfg.LogUnanswered = true
	e := NewEngine(cfg, zerolog.Nop())
	backend := &recordingBackend{name: "goroutine"}
	e.RegisterBackend(backend)

	q := NewBatchQueue(e, 100, 20*time.Millisecond, false)
	q.Enqueue([]PublicRecord{{Channel: "a"}})

	deadline := time.After(2 * time.Second)
	for {
		if len(backend.all()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ticker-driven flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
	q.Stop()
}
