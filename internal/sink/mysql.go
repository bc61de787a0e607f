// Package sink implements the backends (C9) that receive finalized public
// records from the cdr engine's batch queue.
package sink

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"cdrengine/internal/cdr"
)

// MySQLSink persists finalized records to the call-detail-record table, one
// bulk INSERT per flush, mirroring the connection-pool and bulk-statement
// style used by the rest of the repo's database layer.
type MySQLSink struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewMySQLSink wraps an already-open *sql.DB.
func NewMySQLSink(db *sql.DB, log zerolog.Logger) *MySQLSink {
	return &MySQLSink{db: db, log: log.With().Str("component", "cdr.sink.mysql").Logger()}
}

// Name identifies this backend to RegisterBackend/UnregisterBackend.
func (s *MySQLSink) Name() string { return "mysql" }

// Post bulk-inserts every record in one statement.
func (s *MySQLSink) Post(records []cdr.PublicRecord) error {
	if len(records) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*15)

	for _, r := range records {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			r.AccountCode, r.Channel, r.DstChannel, r.Src, r.Dst, r.DContext,
			r.LastApp, r.LastData, r.Start, r.Answer, r.End,
			r.Duration, r.BillSec, r.Disposition.String(), r.UniqueID,
		)
	}

	query := fmt.Sprintf(
		`INSERT INTO cdr_records
			(accountcode, channel, dstchannel, src, dst, dcontext,
			 lastapp, lastdata, start, answer, end, duration, billsec, disposition, uniqueid)
		 VALUES %s`,
		strings.Join(placeholders, ", "),
	)

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("mysql sink: bulk insert failed: %w", err)
	}
	s.log.Debug().Int("count", len(records)).Msg("flushed records to mysql")
	return nil
}
