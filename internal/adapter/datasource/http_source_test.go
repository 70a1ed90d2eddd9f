package datasource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

func TestHTTPSource_SearchAuthor_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/authors/search", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"key": "k1", "name": "Jane Austen"},
		})
	}))
	defer srv.Close()

	src := NewHTTPSource("hardcover", srv.URL, "secret", time.Millisecond, time.Second, nil)
	results, err := src.SearchAuthor(context.Background(), "Jane Austen", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "k1", results[0].Key)
}

func TestHTTPSource_GetAuthor_NotFoundMapsToNilNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewHTTPSource("hardcover", srv.URL, "", time.Millisecond, time.Second, nil)
	data, err := src.GetAuthor(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestHTTPSource_RateLimited_MapsToErrSourceRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewHTTPSource("hardcover", srv.URL, "", time.Millisecond, time.Second, nil)
	_, err := src.SearchAuthor(context.Background(), "anyone", nil)
	require.ErrorIs(t, err, domain.ErrSourceRateLimit)
}

func TestHTTPSource_ServerError_MapsToErrSourceNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPSource("hardcover", srv.URL, "", time.Millisecond, time.Second, nil)
	_, err := src.SearchBook(context.Background(), "Dune", "", nil)
	require.ErrorIs(t, err, domain.ErrSourceNetwork)
}

func TestHTTPSource_Throttle_EnforcesMinInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer srv.Close()

	src := NewHTTPSource("hardcover", srv.URL, "", 50*time.Millisecond, time.Second, nil)
	start := time.Now()
	_, err := src.SearchAuthor(context.Background(), "a", nil)
	require.NoError(t, err)
	_, err = src.SearchAuthor(context.Background(), "b", nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
