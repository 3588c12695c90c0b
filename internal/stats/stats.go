// Package stats is the Statistics Store: per-credential, per-civil-day
// counters of forwarded calls and throttle responses.
package stats

import (
	"context"
	"database/sql"
	"time"

	"github.com/portablestew/key-commune/internal/database"
	apperrors "github.com/portablestew/key-commune/internal/errors"
)

// dateLayout is the civil-date format persisted for a statistics row: a UTC
// calendar day with no time component.
const dateLayout = "2006-01-02"

// Today returns the current UTC civil date string.
func Today() string {
	return time.Now().UTC().Format(dateLayout)
}

// Record is one credential's counters for a single civil day.
type Record struct {
	CredentialID  int64
	Date          string
	CallCount     int
	ThrottleCount int
	LastSubnet    string
}

// Store persists Records against the shared database.
type Store struct {
	db *sql.DB
}

// NewStore constructs a Store writing through db.
func NewStore(db *database.DB) *Store {
	return &Store{db: db.Writer}
}

// GetToday returns credentialID's counters for the current civil day,
// defaulting to a zero-valued Record if no row exists yet (rows are created
// lazily on first increment).
func (s *Store) GetToday(ctx context.Context, credentialID int64) (Record, error) {
	return s.GetFor(ctx, credentialID, Today())
}

// GetFor returns credentialID's counters for date, defaulting to zero.
func (s *Store) GetFor(ctx context.Context, credentialID int64, date string) (Record, error) {
	querier := database.GetTx(ctx, s.db)

	var rec Record
	err := querier.QueryRowContext(ctx,
		`SELECT credential_id, date, call_count, throttle_count, last_subnet
		 FROM daily_statistics WHERE credential_id = ? AND date = ?`,
		credentialID, date,
	).Scan(&rec.CredentialID, &rec.Date, &rec.CallCount, &rec.ThrottleCount, &rec.LastSubnet)

	if err == sql.ErrNoRows {
		return Record{CredentialID: credentialID, Date: date}, nil
	}
	if err != nil {
		return Record{}, apperrors.Wrap(err, "failed to get daily statistics")
	}
	return rec, nil
}

// GetAllForToday returns every credential's counters for the current civil
// day, keyed by credential id. Credentials with no row (zero calls so far)
// are simply absent; callers default missing entries to zero per §4.5.
func (s *Store) GetAllForToday(ctx context.Context) (map[int64]Record, error) {
	querier := database.GetTx(ctx, s.db)

	rows, err := querier.QueryContext(ctx,
		`SELECT credential_id, date, call_count, throttle_count, last_subnet
		 FROM daily_statistics WHERE date = ?`,
		Today(),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query today's statistics")
	}
	defer rows.Close()

	out := make(map[int64]Record)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.CredentialID, &rec.Date, &rec.CallCount, &rec.ThrottleCount, &rec.LastSubnet); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan daily statistics row")
		}
		out[rec.CredentialID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate today's statistics")
	}
	return out, nil
}

// IncrementCallCount increments credentialID's call count for today,
// creating the row lazily, and records subnet as the last observed client
// subnet.
func (s *Store) IncrementCallCount(ctx context.Context, credentialID int64, subnet string) error {
	querier := database.GetTx(ctx, s.db)

	_, err := querier.ExecContext(ctx,
		`INSERT INTO daily_statistics (credential_id, date, call_count, throttle_count, last_subnet)
		 VALUES (?, ?, 1, 0, ?)
		 ON CONFLICT (credential_id, date) DO UPDATE SET
		   call_count = call_count + 1,
		   last_subnet = excluded.last_subnet`,
		credentialID, Today(), subnet,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to increment call count")
	}
	return nil
}

// IncrementThrottleCount increments credentialID's throttle count for
// today, creating the row lazily.
func (s *Store) IncrementThrottleCount(ctx context.Context, credentialID int64) error {
	querier := database.GetTx(ctx, s.db)

	_, err := querier.ExecContext(ctx,
		`INSERT INTO daily_statistics (credential_id, date, call_count, throttle_count, last_subnet)
		 VALUES (?, ?, 0, 1, '')
		 ON CONFLICT (credential_id, date) DO UPDATE SET
		   throttle_count = throttle_count + 1`,
		credentialID, Today(),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to increment throttle count")
	}
	return nil
}

// DeleteOlderThan deletes every statistics row whose civil date is more than
// days before now, returning the number of rows removed.
func (s *Store) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(dateLayout)

	querier := database.GetTx(ctx, s.db)
	result, err := querier.ExecContext(ctx, `DELETE FROM daily_statistics WHERE date < ?`, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete old statistics")
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read rows affected")
	}
	return n, nil
}
