package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func TestDateAcceptsDateOnlyAndRFC3339(t *testing.T) {
	var body struct {
		Expiry  *Date `json:"expiry"`
		Arrival Date  `json:"arrival"`
		Missing *Date `json:"missing"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"expiry":"2024-03-20","arrival":"2024-03-21T08:30:00+07:00"}`), &body))
	require.NotNil(t, body.Expiry.Ptr())
	assert.Equal(t, "2024-03-20", body.Expiry.Ptr().Format("2006-01-02"))
	assert.Equal(t, 1, body.Arrival.Hour())
	assert.Nil(t, body.Missing.Ptr())

	err := json.Unmarshal([]byte(`{"expiry":"20/03/2024"}`), &body)
	require.Error(t, err)
}

func TestPageQueryRejectsGarbage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=ten", nil)
	_, err := PageQuery(req)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestDecodeAndValidateReportsFields(t *testing.T) {
	var target struct {
		Name string `json:"name" validate:"required"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	err := DecodeAndValidate(req, &target)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusFor(err))
	assert.Contains(t, err.Error(), "Name:required")

	rec := httptest.NewRecorder()
	RespondError(rec, shared.NewError(shared.ErrConflict, "already closed"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "already closed")

	rec = httptest.NewRecorder()
	RespondError(rec, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
