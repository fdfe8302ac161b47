package coinmanager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrencies(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/currencies/", r.URL.Path)
		_, _ = w.Write([]byte(`{"count":2,"results":[{"symbol":"BTC","price":30000},{"symbol":"ETH","price":1800}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	currencies, err := c.Currencies(context.Background())
	require.NoError(t, err)
	require.Len(t, currencies, 2)
	assert.Equal(t, "BTC", currencies[0].Symbol)
	assert.Equal(t, 30000.0, currencies[0].Price)
}

func TestFiatRates(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/fiat/", r.URL.Path)
		_, _ = w.Write([]byte(`{"count":1,"results":[{"symbol":"EUR","rate":1.08}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	rates, err := c.FiatRates(context.Background())
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "EUR", rates[0].Symbol)
	assert.Equal(t, 1.08, rates[0].Rate)
}

func TestEmptyCount(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"count":0,"results":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Currencies(context.Background())
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Currencies(context.Background())
	assert.Error(t, err)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	for i := 0; i < 3; i++ {
		_, err := c.Currencies(context.Background())
		require.Error(t, err)
	}
	_, err := c.Currencies(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
