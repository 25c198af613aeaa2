package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, method, url string, params map[string]any) string {
	t.Helper()
	k, err := Key(method, url, params)
	require.NoError(t, err)
	return k
}

func TestKey_Deterministic(t *testing.T) {
	t.Parallel()

	a := mustKey(t, "GET", "https://api.example.org/orgs", map[string]any{"ein": "123", "page": 2})
	b := mustKey(t, "get", "https://api.example.org/orgs", map[string]any{"page": 2, "ein": "123"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, mustKey(t, "POST", "https://api.example.org/orgs", map[string]any{"ein": "123", "page": 2}))
	assert.NotEqual(t, a, mustKey(t, "GET", "https://api.example.org/orgs", map[string]any{"ein": "124", "page": 2}))
	assert.Equal(t, mustKey(t, "GET", "u", nil), mustKey(t, "GET", "u", map[string]any{}))
}

func TestKey_UnencodableParams(t *testing.T) {
	t.Parallel()

	_, err := Key("GET", "u", map[string]any{"cb": func() {}})
	require.Error(t, err)
	_, err = Key("GET", "u", map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "cache.db")})
	require.NoError(t, err)
	bg, err := Open(Config{Driver: "badger", Path: filepath.Join(dir, "badger")})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sq.Close()
		_ = bg.Close()
	})
	return map[string]Backend{"sqlite": sq, "badger": bg}
}

func TestBackends_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := b.Get(ctx, "propublica", "missing")
			require.NoError(t, err)
			assert.Nil(t, got)

			body := []byte(`{"organization":{"ein":123}}`)
			require.NoError(t, b.Put(ctx, "propublica", "k1", Entry{Status: 200, Body: body}))

			got, err = b.Get(ctx, "propublica", "k1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, 200, got.Status)
			assert.Equal(t, body, got.Body)
			assert.False(t, got.FetchedAt.IsZero())

			require.NoError(t, b.Put(ctx, "propublica", "k1", Entry{Status: 200, Body: []byte("v2")}))
			got, err = b.Get(ctx, "propublica", "k1")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got.Body)

			// Namespaces are independent.
			got, err = b.Get(ctx, "charity_nav", "k1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestBackends_ClearAndStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a", "b", "c"} {
				require.NoError(t, b.Put(ctx, "propublica", k, Entry{Status: 200, Body: []byte("x")}))
			}
			require.NoError(t, b.Put(ctx, "va_facilities", "a", Entry{Status: 200, Body: []byte("y")}))

			st, err := b.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, st.Entries["propublica"])
			assert.Equal(t, 1, st.Entries["va_facilities"])

			n, err := b.Clear(ctx, "propublica")
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			got, err := b.Get(ctx, "propublica", "a")
			require.NoError(t, err)
			assert.Nil(t, got)
			got, err = b.Get(ctx, "va_facilities", "a")
			require.NoError(t, err)
			assert.NotNil(t, got)

			n, err = b.ClearAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestBackends_Persist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	for _, driver := range []string{"sqlite", "badger"} {
		cfg := Config{Driver: driver, Path: filepath.Join(dir, driver)}
		b, err := Open(cfg)
		require.NoError(t, err)
		require.NoError(t, b.Put(ctx, "irs_bmf", "k", Entry{Status: 200, Body: []byte("persisted")}))
		require.NoError(t, b.Close())

		b, err = Open(cfg)
		require.NoError(t, err)
		got, err := b.Get(ctx, "irs_bmf", "k")
		require.NoError(t, err)
		require.NotNil(t, got, driver)
		assert.Equal(t, []byte("persisted"), got.Body)
		require.NoError(t, b.Close())
	}
}

func TestBackends_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					k, err := Key("GET", "u", map[string]any{"i": i})
					assert.NoError(t, err)
					assert.NoError(t, b.Put(ctx, "ns", k, Entry{Status: 200, Body: []byte{byte(i)}}))
					_, err = b.Get(ctx, "ns", k)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			st, err := b.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 20, st.Entries["ns"])
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Driver: "redis"})
	assert.Error(t, err)
}
