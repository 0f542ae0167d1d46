package memstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Record implements the services' AuditPort.
func (s *Store) Record(ctx context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = s.now().UTC()
	}
	s.auditMu.Lock()
	s.audit = append(s.audit, log)
	s.auditMu.Unlock()
	return nil
}

// AuditLogs returns recorded entries, optionally narrowed to one action.
func (s *Store) AuditLogs(action string) []shared.AuditLog {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	out := []shared.AuditLog{}
	for _, l := range s.audit {
		if action == "" || l.Action == action {
			out = append(out, l)
		}
	}
	return out
}

// Idempotency returns the store as a shared.IdempotencyPort.
func (s *Store) Idempotency() shared.IdempotencyPort { return idempotency{s: s} }

type idempotency struct{ s *Store }

func idempotencyKey(orgID uuid.UUID, key, module string) (string, error) {
	if orgID == uuid.Nil || key == "" || module == "" {
		return "", errors.New("idempotency org, key and module required")
	}
	return orgID.String() + "/" + module + "/" + key, nil
}

func (i idempotency) CheckAndInsert(ctx context.Context, orgID uuid.UUID, key, module string) error {
	k, err := idempotencyKey(orgID, key, module)
	if err != nil {
		return err
	}
	i.s.idemMu.Lock()
	defer i.s.idemMu.Unlock()
	if _, ok := i.s.idem[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	i.s.idem[k] = i.s.now()
	return nil
}

func (i idempotency) Delete(ctx context.Context, orgID uuid.UUID, key, module string) error {
	k, err := idempotencyKey(orgID, key, module)
	if err != nil {
		return err
	}
	i.s.idemMu.Lock()
	delete(i.s.idem, k)
	i.s.idemMu.Unlock()
	return nil
}

func (i idempotency) Cleanup(ctx context.Context, olderThan time.Duration) error {
	i.s.idemMu.Lock()
	defer i.s.idemMu.Unlock()
	cutoff := i.s.now().Add(-olderThan)
	for k, at := range i.s.idem {
		if at.Before(cutoff) {
			delete(i.s.idem, k)
		}
	}
	return nil
}

// Obtain implements shared.Locker with process-local leases.
func (s *Store) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	now := s.now()
	if until, ok := s.locks[key]; ok && until.After(now) {
		return nil, shared.ErrLockNotObtained
	}
	until := now.Add(ttl)
	s.locks[key] = until
	return func(context.Context) error {
		s.lockMu.Lock()
		defer s.lockMu.Unlock()
		if cur, ok := s.locks[key]; ok && cur.Equal(until) {
			delete(s.locks, key)
		}
		return nil
	}, nil
}
