package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cdrengine/internal/cdr"
)

// timeLayout matches the flat-file timestamp format the rest of the pack's
// CDR tooling writes (no third-party CSV library appears anywhere in the
// pack, so this is the one place the stdlib encoding/csv writer is used
// directly rather than wrapped).
const timeLayout = "2006-01-02 15:04:05"

// LineSink writes one delimited line per record to an io.Writer — stdout
// or a file — the direct analogue of Asterisk's classic cdr_csv backend.
// It is the simplest C9 backend; cmd/cdrengine registers it alongside the
// MySQL sink when cdr.line_path is set.
type LineSink struct {
	mu  sync.Mutex
	w   *csv.Writer
	log zerolog.Logger
}

// NewLineSink wraps w. Callers are responsible for w's lifetime (closing a
// file, rotating it, etc.); LineSink only ever writes to it.
func NewLineSink(w io.Writer, log zerolog.Logger) *LineSink {
	return &LineSink{w: csv.NewWriter(w), log: log.With().Str("component", "cdr.sink.line").Logger()}
}

// Name identifies this backend to RegisterBackend/UnregisterBackend.
func (s *LineSink) Name() string { return "line" }

// Post writes one CSV row per record, in the traditional Asterisk
// master.csv column order, and flushes once per batch.
func (s *LineSink) Post(records []cdr.PublicRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		row := []string{
			r.AccountCode,
			r.Src,
			r.Dst,
			r.DContext,
			r.CLID,
			r.Channel,
			r.DstChannel,
			r.LastApp,
			r.LastData,
			formatLineTime(r.Start),
			formatLineTime(r.Answer),
			formatLineTime(r.End),
			strconv.FormatFloat(r.End.Sub(r.Start).Seconds(), 'f', 0, 64),
			strconv.FormatFloat(billSec(r).Seconds(), 'f', 0, 64),
			r.Disposition.String(),
			strconv.Itoa(r.AMAFlags),
			r.UniqueID,
			r.UserField,
		}
		if err := s.w.Write(row); err != nil {
			return fmt.Errorf("line sink: write row: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("line sink: flush: %w", err)
	}
	s.log.Debug().Int("count", len(records)).Msg("flushed records to line sink")
	return nil
}

func formatLineTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

// billSec is the answered duration: zero when the call was never answered,
// matching the disposition-derivation rule that only answered calls bill.
func billSec(r cdr.PublicRecord) time.Duration {
	if r.Answer.IsZero() {
		return 0
	}
	return r.End.Sub(r.Answer)
}
