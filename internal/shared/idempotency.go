package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// IdempotencyPort is implemented by IdempotencyStore and by the in-memory store.
// Keys are scoped per org and module; the same key in another org is unrelated.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, orgID uuid.UUID, key, module string) error
	Delete(ctx context.Context, orgID uuid.UUID, key, module string) error
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

type idempotencyExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	db  idempotencyExecer
	now func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(db idempotencyExecer) *IdempotencyStore {
	return &IdempotencyStore{db: db, now: time.Now}
}

// ErrIdempotencyConflict indicates a claimed key.
var ErrIdempotencyConflict = NewError(ErrConflict, "idempotent request already processed")

func validateIdempotencyKey(orgID uuid.UUID, key, module string) error {
	switch {
	case orgID == uuid.Nil:
		return errors.New("idempotency org required")
	case key == "":
		return errors.New("idempotency key required")
	case module == "":
		return errors.New("idempotency module required")
	}
	return nil
}

// CheckAndInsert claims key for org and module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, orgID uuid.UUID, key, module string) error {
	if s == nil || s.db == nil {
		return errors.New("idempotency store not initialised")
	}
	if err := validateIdempotencyKey(orgID, key, module); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (org_id, module, key, created_at) VALUES ($1, $2, $3, $4)`, orgID, module, key, s.now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := s.now().Add(-olderThan)
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}

// Delete releases a claimed key, typically after failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, orgID uuid.UUID, key, module string) error {
	if s == nil {
		return nil
	}
	if err := validateIdempotencyKey(orgID, key, module); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE org_id=$1 AND module=$2 AND key=$3`, orgID, module, key)
	return err
}
