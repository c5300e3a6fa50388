package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offlinecache/internal/domain"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestFetcherFetch(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Proxy-Authorization"))
		w.Header().Set("Content-Type", "image/avif")
		w.Header().Set("X-Path", r.URL.RequestURI())
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
		_, _ = w.Write([]byte("payload"))
	}))
	t.Cleanup(origin.Close)

	f := NewFetcher(mustParse(t, origin.URL), DefaultPoolConfig())
	t.Cleanup(f.CloseAll)

	t.Run("relative request goes to origin", func(t *testing.T) {
		req := &domain.Request{
			Method:  http.MethodGet,
			URL:     mustParse(t, "/img/hero.avif?w=2"),
			Headers: http.Header{"Proxy-Authorization": []string{"secret"}},
		}

		resp, err := f.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "payload", string(resp.Body))
		assert.Equal(t, "/img/hero.avif?w=2", resp.Headers.Get("X-Path"))
		assert.False(t, resp.FromCache)
	})

	t.Run("HTTP error status is not a failure", func(t *testing.T) {
		req := &domain.Request{Method: http.MethodGet, URL: mustParse(t, "/missing")}

		resp, err := f.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("absolute request keeps its host", func(t *testing.T) {
		req := &domain.Request{Method: http.MethodGet, URL: mustParse(t, origin.URL+"/css")}

		resp, err := f.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "/css", resp.Headers.Get("X-Path"))
	})
}

func TestFetcherStripsConditionalHeaders(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, name := range conditionalHeaders {
			assert.Empty(t, r.Header.Get(name), name)
		}
		assert.Equal(t, "image/avif", r.Header.Get("Accept"))
		if r.Header.Get("If-None-Match") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write([]byte("hero"))
	}))
	t.Cleanup(origin.Close)

	f := NewFetcher(mustParse(t, origin.URL), DefaultPoolConfig())
	t.Cleanup(f.CloseAll)

	req := &domain.Request{
		Method: http.MethodGet,
		URL:    mustParse(t, "/img/hero.avif"),
		Headers: http.Header{
			"Accept":              []string{"image/avif"},
			"If-None-Match":       []string{`"abc"`},
			"If-Modified-Since":   []string{"Mon, 01 Sep 2025 00:00:00 GMT"},
			"If-Match":            []string{`"abc"`},
			"If-Unmodified-Since": []string{"Mon, 01 Sep 2025 00:00:00 GMT"},
			"If-Range":            []string{`"abc"`},
			"Range":               []string{"bytes=0-1"},
		},
	}

	resp, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hero", string(resp.Body))
	assert.Equal(t, `"abc"`, req.Headers.Get("If-None-Match"))
}

func TestFetcherNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := NewFetcher(mustParse(t, addr), DefaultPoolConfig())
	_, err := f.Fetch(context.Background(), &domain.Request{Method: http.MethodGet, URL: mustParse(t, "/")})

	var fetchErr *domain.ErrFetchFailed
	require.True(t, errors.As(err, &fetchErr))
	assert.Contains(t, fetchErr.URL, addr)
}

func TestFetcherBodyLimit(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	t.Cleanup(origin.Close)

	config := DefaultPoolConfig()
	config.MaxBodySize = 10
	f := NewFetcher(mustParse(t, origin.URL), config)

	_, err := f.Fetch(context.Background(), &domain.Request{Method: http.MethodGet, URL: mustParse(t, "/")})
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestResolveTarget(t *testing.T) {
	origin := mustParse(t, "https://remyportfolio.me")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"relative", "/about?x=1", "https://remyportfolio.me/about?x=1"},
		{"absolute", "https://fonts.gstatic.com/s/inter.woff2", "https://fonts.gstatic.com/s/inter.woff2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveTarget(origin, mustParse(t, tt.in)).String())
		})
	}
}
