package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func bytesReader(s string) io.Reader { return strings.NewReader(s) }

func writeDir(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
	}
	return dir
}

func readDir(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	out := make(map[string][]byte)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		out[e.Name()] = data
	}
	return out
}

func TestArchiver_PushPullRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := New(store)

	files := map[string][]byte{
		"1.save": []byte("global"),
		"2.save": []byte("alpha records"),
	}
	src := writeDir(t, files)

	require.NoError(t, a.Push(ctx, src, "20260826T120000Z"))
	require.Equal(t, 2, store.Len())

	dst := t.TempDir()
	require.NoError(t, a.Pull(ctx, "20260826T120000Z", dst))
	require.Equal(t, files, readDir(t, dst))
}

func TestArchiver_PushIgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := New(store)

	src := writeDir(t, map[string][]byte{
		"1.save":     []byte("global"),
		"notes.txt":  []byte("junk"),
		"1.save.tmp": []byte("partial download"),
	})

	require.NoError(t, a.Push(ctx, src, "g1"))
	require.Equal(t, 1, store.Len())
}

func TestArchiver_Compression(t *testing.T) {
	for _, comp := range []Compression{CompressionZstd, CompressionLZ4} {
		t.Run(comp.String(), func(t *testing.T) {
			ctx := context.Background()
			store := NewMemoryStore()
			a := New(store, func(o *Options) {
				o.Compression = comp
			})

			files := map[string][]byte{
				"2.save": []byte("alpha alpha alpha alpha alpha alpha"),
			}
			src := writeDir(t, files)

			require.NoError(t, a.Push(ctx, src, "g1"))

			keys, err := store.List(ctx, "")
			require.NoError(t, err)
			require.Equal(t, []string{"g1/2.save" + comp.Ext()}, keys)

			dst := t.TempDir()
			require.NoError(t, a.Pull(ctx, "g1", dst))
			require.Equal(t, files, readDir(t, dst))
		})
	}
}

func TestArchiver_PullSkipsExistingFiles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := New(store)

	src := writeDir(t, map[string][]byte{
		"1.save": []byte("archived global"),
		"2.save": []byte("archived alpha"),
	})
	require.NoError(t, a.Push(ctx, src, "g1"))

	// The local directory already holds a newer 1.save.
	dst := writeDir(t, map[string][]byte{
		"1.save": []byte("local global"),
	})

	require.NoError(t, a.Pull(ctx, "g1", dst))
	require.Equal(t, map[string][]byte{
		"1.save": []byte("local global"),
		"2.save": []byte("archived alpha"),
	}, readDir(t, dst))
}

func TestArchiver_Latest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := New(store)

	latest, err := a.Latest(ctx)
	require.NoError(t, err)
	require.Empty(t, latest)

	src := writeDir(t, map[string][]byte{"1.save": []byte("x")})
	for _, gen := range []string{"20260825T000000Z", "20260826T000000Z", "20260824T000000Z"} {
		require.NoError(t, a.Push(ctx, src, gen))
	}

	latest, err = a.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "20260826T000000Z", latest)
}

func TestArchiver_GenerationsAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := New(store)

	src := writeDir(t, map[string][]byte{"1.save": []byte("x"), "2.save": []byte("y")})
	require.NoError(t, a.Push(ctx, src, "g1"))
	require.NoError(t, a.Push(ctx, src, "g2"))

	generations, err := a.Generations(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"g1", "g2"}, generations)

	require.NoError(t, a.Delete(ctx, "g1"))

	generations, err = a.Generations(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"g2"}, generations)
}

func TestDetectCompression(t *testing.T) {
	name, comp := DetectCompression("2.save.zst")
	require.Equal(t, "2.save", name)
	require.Equal(t, CompressionZstd, comp)

	name, comp = DetectCompression("2.save.lz4")
	require.Equal(t, "2.save", name)
	require.Equal(t, CompressionLZ4, comp)

	name, comp = DetectCompression("2.save")
	require.Equal(t, "2.save", name)
	require.Equal(t, CompressionNone, comp)
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	require.NoError(t, store.Put(ctx, "g1/1.save", bytesReader("hello")))
	require.NoError(t, store.Put(ctx, "g1/2.save", bytesReader("world")))
	require.NoError(t, store.Put(ctx, "g2/1.save", bytesReader("next")))

	r, err := store.Open(ctx, "g1/1.save")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(store.root, "g1", "1.save"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.NoError(t, r.Close())

	keys, err := store.List(ctx, "g1/")
	require.NoError(t, err)
	require.Equal(t, []string{"g1/1.save", "g1/2.save"}, keys)

	require.NoError(t, store.Delete(ctx, "g1/1.save"))
	require.NoError(t, store.Delete(ctx, "g1/1.save")) // idempotent

	_, err = store.Open(ctx, "g1/1.save")
	require.ErrorIs(t, err, ErrNotFound)
}
