package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marksync/internal/entity"
)

// backends returns every Store implementation available in this environment.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	out := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemory()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			return s
		},
		"file": func(t *testing.T) Store {
			s, err := OpenFile(filepath.Join(t.TempDir(), "data"))
			require.NoError(t, err)
			return s
		},
	}
	if dsn := os.Getenv("MARKSYNC_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T) Store {
			s, err := OpenPostgres(context.Background(), dsn)
			require.NoError(t, err)
			ns := NamespaceFor(entity.KindLinks, "contract")
			require.NoError(t, s.Clear(context.Background(), ns))
			require.NoError(t, s.Clear(context.Background(), NamespaceFor(entity.KindLinks, "other")))
			return s
		}
	}
	return out
}

func TestStoreContract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ns := NamespaceFor(entity.KindLinks, "contract")
			other := NamespaceFor(entity.KindLinks, "other")

			t.Run("get missing", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				_, err := s.Get(ctx, ns, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("set get delete", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				require.NoError(t, s.Set(ctx, ns, "l1", []byte(`{"id":"l1"}`)))
				got, err := s.Get(ctx, ns, "l1")
				require.NoError(t, err)
				assert.JSONEq(t, `{"id":"l1"}`, string(got))

				require.NoError(t, s.Set(ctx, ns, "l1", []byte(`{"id":"l1","title":"x"}`)))
				got, err = s.Get(ctx, ns, "l1")
				require.NoError(t, err)
				assert.JSONEq(t, `{"id":"l1","title":"x"}`, string(got))

				require.NoError(t, s.Delete(ctx, ns, "l1"))
				_, err = s.Get(ctx, ns, "l1")
				assert.ErrorIs(t, err, ErrNotFound)

				assert.NoError(t, s.Delete(ctx, ns, "l1"), "deleting an absent key is not an error")
			})

			t.Run("keys sorted and namespaced", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				for _, k := range []string{"b", "a", "c"} {
					require.NoError(t, s.Set(ctx, ns, k, []byte(`{}`)))
				}
				require.NoError(t, s.Set(ctx, other, "z", []byte(`{}`)))

				keys, err := s.Keys(ctx, ns)
				require.NoError(t, err)
				assert.Equal(t, []string{"a", "b", "c"}, keys)

				keys, err = s.Keys(ctx, other)
				require.NoError(t, err)
				assert.Equal(t, []string{"z"}, keys)
			})

			t.Run("keys of empty namespace", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				keys, err := s.Keys(ctx, ns)
				require.NoError(t, err)
				assert.Empty(t, keys)
			})

			t.Run("clear only touches namespace", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				require.NoError(t, s.Set(ctx, ns, "a", []byte(`{}`)))
				require.NoError(t, s.Set(ctx, other, "z", []byte(`{}`)))
				require.NoError(t, s.Clear(ctx, ns))

				keys, err := s.Keys(ctx, ns)
				require.NoError(t, err)
				assert.Empty(t, keys)

				keys, err = s.Keys(ctx, other)
				require.NoError(t, err)
				assert.Equal(t, []string{"z"}, keys)
			})

			t.Run("apply batch", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				require.NoError(t, s.Set(ctx, ns, "old", []byte(`{}`)))
				require.NoError(t, s.Set(ctx, ns, "gone", []byte(`{}`)))

				b := NewBatch().Put("new", []byte(`{"n":1}`)).Delete("gone")
				require.NoError(t, s.Apply(ctx, ns, b))

				keys, err := s.Keys(ctx, ns)
				require.NoError(t, err)
				assert.Equal(t, []string{"new", "old"}, keys)
			})

			t.Run("apply reset batch replaces namespace", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				require.NoError(t, s.Set(ctx, ns, "stale", []byte(`{}`)))
				b := NewBatch().Reset().Put("l1", []byte(`{"id":"l1"}`)).Put("l2", []byte(`{"id":"l2"}`))
				require.NoError(t, s.Apply(ctx, ns, b))

				keys, err := s.Keys(ctx, ns)
				require.NoError(t, err)
				assert.Equal(t, []string{"l1", "l2"}, keys)
			})

			t.Run("closed store rejects operations", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Close())

				_, err := s.Get(ctx, ns, "a")
				assert.ErrorIs(t, err, ErrClosed)
				assert.ErrorIs(t, s.Set(ctx, ns, "a", nil), ErrClosed)
				assert.NoError(t, s.Close(), "double close is a no-op")
			})
		})
	}
}

func TestNamespaceFor(t *testing.T) {
	assert.Equal(t, Namespace("settings"), NamespaceFor(entity.KindSettings, ""))
	assert.Equal(t, Namespace("links/c1"), NamespaceFor(entity.KindLinks, "c1"))
	assert.Equal(t, Namespace("links/a%2Fb"), NamespaceFor(entity.KindLinks, "a/b"))
}

func TestBatch(t *testing.T) {
	b := NewBatch().Put("a", []byte("1")).Delete("b")

	assert.False(t, b.Resets())
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []BatchOp{{Key: "a", Value: []byte("1")}, {Key: "b", Delete: true}}, b.Ops())
	assert.True(t, b.Reset().Resets())
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Driver: DriverFile, Path: filepath.Join(t.TempDir(), "files")})
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)

	_, err = Open(ctx, Config{Driver: DriverPostgres})
	assert.Error(t, err, "postgres requires a dsn")

	_, err = Open(ctx, Config{Driver: "redis"})
	assert.Error(t, err)
}
