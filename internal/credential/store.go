package credential

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/portablestew/key-commune/internal/cryptoutil"
	"github.com/portablestew/key-commune/internal/database"
	apperrors "github.com/portablestew/key-commune/internal/errors"
)

// Listener is the write-through hook the hot cache registers against the
// store so the two can cooperate without either owning the other (§9: the
// store publishes, the cache subscribes).
type Listener interface {
	OnCreate(rec Record)
	OnUpdate(rec Record)
	OnDelete(id int64)
}

// Store is the durable Credential Store. A single mutex serializes every
// mutation, satisfying the per-credential serializability requirement with
// the simplest correct strategy (§5, §9).
type Store struct {
	db     *sql.DB
	cipher cryptoutil.AEAD
	tx     database.TxManager

	mu        sync.Mutex
	listeners []Listener
}

// NewStore constructs a Store writing through db using cipher to seal
// material at rest.
func NewStore(db *database.DB, cipher cryptoutil.AEAD) *Store {
	return &Store{db: db.Writer, cipher: cipher, tx: database.NewTxManager(db.Writer)}
}

// AddListener registers a write-through subscriber. Not safe to call
// concurrently with store mutations; intended for use during startup wiring.
func (s *Store) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Store) notifyCreate(rec Record) {
	for _, l := range s.listeners {
		l.OnCreate(rec)
	}
}

func (s *Store) notifyUpdate(rec Record) {
	for _, l := range s.listeners {
		l.OnUpdate(rec)
	}
}

func (s *Store) notifyDelete(id int64) {
	for _, l := range s.listeners {
		l.OnDelete(id)
	}
}

// Create inserts a new credential record, encrypting material at rest.
// Fails with apperrors.ErrConflict if fingerprint already exists.
func (s *Store) Create(ctx context.Context, material, display string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fingerprint := Fingerprint(material)

	envelope, err := s.cipher.Encrypt([]byte(material))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encrypt credential material")
	}

	now := time.Now().UTC()
	querier := database.GetTx(ctx, s.db)

	result, err := querier.ExecContext(ctx,
		`INSERT INTO credentials (fingerprint, material, display, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		fingerprint, envelope, display, now.Unix(), now.Unix())
	if err != nil {
		if isUniqueConstraintErr(err) {
			return nil, apperrors.ErrConflict
		}
		return nil, apperrors.Wrap(err, "failed to create credential")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read new credential id")
	}

	rec := &Record{
		ID:          id,
		Fingerprint: fingerprint,
		Material:    material,
		Display:     display,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.notifyCreate(*rec)
	return rec, nil
}

const credentialColumns = `id, fingerprint, material, display, block_deadline, auth_failures, throttles, last_success_at, created_at, updated_at`

func (s *Store) scanRecord(row interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec                          Record
		envelope                     string
		blockDeadline, lastSuccessAt sql.NullInt64
		createdAt, updatedAt         int64
	)

	if err := row.Scan(
		&rec.ID, &rec.Fingerprint, &envelope, &rec.Display,
		&blockDeadline, &rec.AuthFailures, &rec.Throttles, &lastSuccessAt,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	plaintext, err := s.cipher.Decrypt(envelope)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to decrypt credential material")
	}
	rec.Material = string(plaintext)

	if blockDeadline.Valid {
		t := time.Unix(blockDeadline.Int64, 0).UTC()
		rec.BlockDeadline = &t
	}
	if lastSuccessAt.Valid {
		t := time.Unix(lastSuccessAt.Int64, 0).UTC()
		rec.LastSuccessAt = &t
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &rec, nil
}

// FindByID returns the record with id, or apperrors.ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id int64) (*Record, error) {
	querier := database.GetTx(ctx, s.db)
	row := querier.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)

	rec, err := s.scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to find credential by id")
	}
	return rec, nil
}

// FindByFingerprint returns the record with fingerprint, or apperrors.ErrNotFound.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*Record, error) {
	querier := database.GetTx(ctx, s.db)
	row := querier.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE fingerprint = ?`, fingerprint)

	rec, err := s.scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to find credential by fingerprint")
	}
	return rec, nil
}

// FindAllAvailable returns every record whose block deadline is absent or
// has already passed as of now.
func (s *Store) FindAllAvailable(ctx context.Context, now time.Time) ([]Record, error) {
	querier := database.GetTx(ctx, s.db)
	rows, err := querier.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE block_deadline IS NULL OR block_deadline <= ?`,
		now.Unix())
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query available credentials")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan available credential")
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate available credentials")
	}
	return out, nil
}

// Count returns the total number of persisted credentials.
func (s *Store) Count(ctx context.Context) (int, error) {
	querier := database.GetTx(ctx, s.db)
	var n int
	if err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&n); err != nil {
		return 0, apperrors.Wrap(err, "failed to count credentials")
	}
	return n, nil
}

// SetBlockDeadline sets or clears (deadline == nil) the block deadline for id.
func (s *Store) SetBlockDeadline(ctx context.Context, id int64, deadline *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deadlineVal sql.NullInt64
	if deadline != nil {
		deadlineVal = sql.NullInt64{Int64: deadline.Unix(), Valid: true}
	}

	querier := database.GetTx(ctx, s.db)
	now := time.Now().UTC()
	if _, err := querier.ExecContext(ctx,
		`UPDATE credentials SET block_deadline = ?, updated_at = ? WHERE id = ?`,
		deadlineVal, now.Unix(), id,
	); err != nil {
		return apperrors.Wrap(err, "failed to set block deadline")
	}

	rec, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	s.notifyUpdate(*rec)
	return nil
}

// IncrementAuthFailures increments id's consecutive-auth-failure counter and
// returns the new value.
func (s *Store) IncrementAuthFailures(ctx context.Context, id int64) (int, error) {
	return s.incrementCounter(ctx, id, "auth_failures")
}

// IncrementThrottles increments id's consecutive-throttle counter and
// returns the new value.
func (s *Store) IncrementThrottles(ctx context.Context, id int64) (int, error) {
	return s.incrementCounter(ctx, id, "throttles")
}

func (s *Store) incrementCounter(ctx context.Context, id int64, column string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	querier := database.GetTx(ctx, s.db)
	now := time.Now().UTC()
	if _, err := querier.ExecContext(ctx,
		`UPDATE credentials SET `+column+` = `+column+` + 1, updated_at = ? WHERE id = ?`,
		now.Unix(), id,
	); err != nil {
		return 0, apperrors.Wrap(err, "failed to increment "+column)
	}

	rec, err := s.FindByID(ctx, id)
	if err != nil {
		return 0, err
	}
	s.notifyUpdate(*rec)

	if column == "auth_failures" {
		return rec.AuthFailures, nil
	}
	return rec.Throttles, nil
}

// ResetCounters zeroes both counters, clears the block deadline, and stamps
// last-success on id. Called on any 2xx response against a pool-resident
// credential.
func (s *Store) ResetCounters(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	querier := database.GetTx(ctx, s.db)
	now := time.Now().UTC()
	if _, err := querier.ExecContext(ctx,
		`UPDATE credentials
		 SET auth_failures = 0, throttles = 0, block_deadline = NULL, last_success_at = ?, updated_at = ?
		 WHERE id = ?`,
		now.Unix(), now.Unix(), id,
	); err != nil {
		return apperrors.Wrap(err, "failed to reset credential counters")
	}

	rec, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	s.notifyUpdate(*rec)
	return nil
}

// Delete removes the record with id, cascading to its statistics rows.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	querier := database.GetTx(ctx, s.db)
	if _, err := querier.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(err, "failed to delete credential")
	}

	s.notifyDelete(id)
	return nil
}

// DeleteByFingerprint removes the record with fingerprint, if any.
func (s *Store) DeleteByFingerprint(ctx context.Context, fingerprint string) error {
	rec, err := s.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		return err
	}
	return s.Delete(ctx, rec.ID)
}

// CountLocked runs a read-then-insert sequence under the store's mutex and
// inside a database transaction, giving the caller an atomicity boundary for
// the pool-size gate on auto-enrollment (§5: "two concurrent 2xx responses
// ... must not both succeed"). The mutex alone serializes callers within
// this process; the transaction additionally makes the count-then-insert
// atomic against the database itself.
func (s *Store) CountLocked(ctx context.Context, fn func(count int) (material, display string, enroll bool)) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec *Record
	var enrolled bool

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		querier := database.GetTx(ctx, s.db)
		var n int
		if err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&n); err != nil {
			return apperrors.Wrap(err, "failed to count credentials")
		}

		material, display, enroll := fn(n)
		if !enroll {
			return nil
		}

		fingerprint := Fingerprint(material)
		envelope, err := s.cipher.Encrypt([]byte(material))
		if err != nil {
			return apperrors.Wrap(err, "failed to encrypt credential material")
		}

		now := time.Now().UTC()
		result, err := querier.ExecContext(ctx,
			`INSERT INTO credentials (fingerprint, material, display, last_success_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			fingerprint, envelope, display, now.Unix(), now.Unix(), now.Unix())
		if err != nil {
			if isUniqueConstraintErr(err) {
				return apperrors.ErrConflict
			}
			return apperrors.Wrap(err, "failed to auto-enroll credential")
		}

		id, err := result.LastInsertId()
		if err != nil {
			return apperrors.Wrap(err, "failed to read new credential id")
		}

		rec = &Record{
			ID:            id,
			Fingerprint:   fingerprint,
			Material:      material,
			Display:       display,
			LastSuccessAt: &now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		enrolled = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !enrolled {
		return nil, false, nil
	}

	s.notifyCreate(*rec)
	return rec, true, nil
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces constraint violations with this substring;
	// matching on it avoids importing the driver's internal error type.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
