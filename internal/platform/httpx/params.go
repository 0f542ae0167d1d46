package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// UUIDParam parses a chi URL parameter as uuid.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, shared.NewError(shared.ErrValidation, "invalid "+name)
	}
	return id, nil
}

// UUIDQuery parses an optional query parameter as uuid.
func UUIDQuery(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, shared.NewError(shared.ErrValidation, "invalid "+name)
	}
	return id, nil
}

// DateQuery parses an optional YYYY-MM-DD query parameter.
func DateQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, shared.NewError(shared.ErrValidation, "invalid "+name)
	}
	return t, nil
}

// IntQuery parses an optional integer query parameter.
func IntQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.NewError(shared.ErrValidation, "invalid "+name)
	}
	return n, nil
}

// PageQuery reads limit/offset.
func PageQuery(r *http.Request) (shared.Page, error) {
	limit, err := IntQuery(r, "limit", 0)
	if err != nil {
		return shared.Page{}, err
	}
	offset, err := IntQuery(r, "offset", 0)
	if err != nil {
		return shared.Page{}, err
	}
	return shared.Page{Limit: limit, Offset: offset}.Normalize(), nil
}

// Principal returns the caller or an unauthorized error.
func Principal(r *http.Request) (shared.Principal, error) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		return shared.Principal{}, shared.ErrUnauthorized
	}
	return p, nil
}

// Date decodes JSON dates written as YYYY-MM-DD or RFC3339.
type Date struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
		if t, err := time.Parse(layout, raw); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return shared.NewError(shared.ErrValidation, "invalid date "+raw)
}

// Ptr returns nil for a missing or zero date.
func (d *Date) Ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}
