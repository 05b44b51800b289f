package store

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// SyncFailureData describes a progress write that never reached the backend.
type SyncFailureData struct {
	Operation    string
	SentenceID   string
	DailySetID   string
	Payload      string
	StatusCode   int
	ErrorMessage string
}

// SyncFailureRecord is a stored sync failure.
type SyncFailureRecord struct {
	ID        int
	Sequence  int64
	Timestamp time.Time
	SyncFailureData
}

var syncFailureColumns = []string{
	"id", "sequence", "timestamp", "operation", "sentence_id", "daily_set_id",
	"payload", "status_code", "error_message",
}

func (r *eventRepo) AppendSyncFailure(ctx context.Context, data SyncFailureData) error {
	seqNum, err := r.seq.Next(ctx)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	err = exec(ctx, r.drv, builder().Insert("sync_failures").
		Columns(syncFailureColumns[1:]...).
		Values(seqNum, time.Now().UTC(), data.Operation, data.SentenceID, data.DailySetID,
			data.Payload, data.StatusCode, data.ErrorMessage))
	if err != nil {
		return fmt.Errorf("save sync failure: %w", err)
	}
	return nil
}

func (r *eventRepo) QuerySyncFailures(ctx context.Context, opts QueryOpts) ([]SyncFailureRecord, error) {
	sel := builder().Select(syncFailureColumns...).From(entsql.Table("sync_failures"))
	rows, err := query(ctx, r.drv, opts.apply(sel))
	if err != nil {
		return nil, fmt.Errorf("query sync failures: %w", err)
	}
	defer rows.Close()

	var records []SyncFailureRecord
	for rows.Next() {
		var rec SyncFailureRecord
		if err := rows.Scan(&rec.ID, &rec.Sequence, &rec.Timestamp, &rec.Operation,
			&rec.SentenceID, &rec.DailySetID, &rec.Payload, &rec.StatusCode, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan sync failure: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
