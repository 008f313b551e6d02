package downloader_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/journey/downloader"
)

// Serves an incrementing counter, and echoes the X-Key header.
func counterServer(t *testing.T) (*httptest.Server, *int32) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		n := atomic.AddInt32(&hits, 1)
		w.Write([]byte{byte('0' + n)})
		w.Write([]byte(r.Header.Get("X-Key")))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestHTTPGet(t *testing.T) {
	server, _ := counterServer(t)
	ctx := context.Background()

	body, err := downloader.HTTPGet(ctx, server.URL, map[string]string{"X-Key": "secret"}, downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1secret", string(body))

	_, err = downloader.HTTPGet(ctx, server.URL+"/missing", nil, downloader.GetOptions{})
	assert.Error(t, err)

	// Body of 7 bytes against a limit of 3
	_, err = downloader.HTTPGet(ctx, server.URL, map[string]string{"X-Key": "secret"}, downloader.GetOptions{MaxSize: 3})
	assert.True(t, errors.Is(err, downloader.ErrTooLarge))
}

func TestMemoryDownloaderCache(t *testing.T) {
	server, hits := counterServer(t)
	ctx := context.Background()

	now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	d := downloader.NewMemoryDownloader()
	d.TimeNow = func() time.Time { return now }

	opts := downloader.GetOptions{Cache: true, CacheTTL: time.Minute}

	body, err := d.Get(ctx, server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "1", string(body))

	body, err = d.Get(ctx, server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "1", string(body))
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	// Expired
	now = now.Add(2 * time.Minute)
	body, err = d.Get(ctx, server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "2", string(body))

	// Without caching, always fetched
	body, err = d.Get(ctx, server.URL, nil, downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "3", string(body))
}

func TestFilesystemCache(t *testing.T) {
	server, hits := counterServer(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")

	opts := downloader.GetOptions{Cache: true, CacheTTL: time.Hour}

	d, err := downloader.NewFilesystem(path)
	require.NoError(t, err)

	body, err := d.Get(ctx, server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "1", string(body))

	// A new instance picks up the cache from disk
	d, err = downloader.NewFilesystem(path)
	require.NoError(t, err)
	body, err = d.Get(ctx, server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "1", string(body))
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	// Expiry
	d.TimeNow = func() time.Time { return time.Now().Add(2 * time.Hour) }
	body, err = d.Get(ctx, server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "2", string(body))
}
