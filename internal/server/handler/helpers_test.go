package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polybet/internal/domain"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrZeroAmount, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrAlreadyClaimed, http.StatusConflict},
		{domain.ErrMarketClosed, http.StatusConflict},
		{domain.ErrNoActiveBet, http.StatusPreconditionFailed},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrRateLimited, http.StatusServiceUnavailable},
		{fmt.Errorf("market m1: %w", domain.ErrLoser), http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}

func TestCaller(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	_, ok := caller(w, r)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.Header.Set(IdentityHeader, " alice ")
	id, ok := caller(w, r)
	require.True(t, ok)
	assert.Equal(t, domain.Identity("alice"), id)
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	var v struct {
		Amount uint64 `json:"amount"`
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":5,"extra":1}`))
	assert.False(t, decodeJSON(w, r, &v))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.False(t, decodeJSON(w, r, &v))
	assert.Contains(t, w.Body.String(), "empty request body")
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=9000&offset=-3", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 500, opts.Limit)
	assert.Zero(t, opts.Offset)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, 50, parseListOpts(r).Limit)
}

func TestParseUint8(t *testing.T) {
	_, err := parseUint8("256")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	n, err := parseUint8("3")
	require.NoError(t, err)
	assert.Equal(t, uint8(3), n)
}
