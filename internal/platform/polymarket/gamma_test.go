package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polybet/internal/domain"
)

func gammaServer(t *testing.T, routes map[string]string) *GammaClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.Error(w, "missing", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewGammaClient(srv.URL)
}

func TestGetResolution(t *testing.T) {
	g := gammaServer(t, map[string]string{
		"/markets/open": `{"id":"open","closed":false,"active":"true",
			"outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.4\",\"0.6\"]"}`,
		"/markets/tokens": `{"id":"tokens","closed":true,
			"outcomes":"[\"Yes\",\"No\"]",
			"tokens":[{"token_id":"1","outcome":"Yes","winner":false},
			          {"token_id":"2","outcome":"No","winner":true}]}`,
		"/markets/prices": `{"id":"prices","closed":true,
			"outcomes":"[\"Red\",\"Green\",\"Blue\"]","outcomePrices":"[\"0\",\"0\",\"1\"]"}`,
		"/markets/split": `{"id":"split","closed":true,
			"outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.5\",\"0.5\"]"}`,
	})
	ctx := context.Background()

	res, err := g.GetResolution(ctx, "open")
	require.NoError(t, err)
	assert.False(t, res.Closed)
	assert.Equal(t, -1, res.Winner)
	assert.Equal(t, []string{"Yes", "No"}, res.Outcomes)

	res, err = g.GetResolution(ctx, "tokens")
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, 1, res.Winner)
	assert.Equal(t, "No", res.WinnerName())

	res, err = g.GetResolution(ctx, "prices")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Winner)
	assert.Equal(t, "Blue", res.WinnerName())

	res, err = g.GetResolution(ctx, "split")
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, -1, res.Winner)
	assert.Empty(t, res.WinnerName())

	_, err = g.GetResolution(ctx, "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
