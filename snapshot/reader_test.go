package snapshot_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/warmgo/internal/fs"
	"github.com/hupe1980/warmgo/pagecache"
	"github.com/hupe1980/warmgo/snapshot"
	"github.com/hupe1980/warmgo/testutil"
)

func replayCatalog() *testutil.MemoryCatalog {
	return testutil.NewMemoryCatalog(
		testutil.NamespaceSpec{
			ID:   100,
			Name: "alpha",
			Files: []testutil.FileSpec{
				{ID: 42, Forks: []testutil.ForkSpec{
					{Fork: 0, Blocks: 100},
					{Fork: 1, Blocks: 10},
				}},
				{ID: 43, Forks: []testutil.ForkSpec{
					{Fork: 0, Blocks: 5},
				}},
			},
		},
		testutil.NamespaceSpec{
			ID:   1,
			Name: "default",
			Files: []testutil.FileSpec{
				{ID: 9, Forks: []testutil.ForkSpec{{Fork: 0, Blocks: 50}}},
			},
		},
	)
}

func writeSaveFile(t *testing.T, dir string, id int, name string, records ...[]byte) string {
	t.Helper()
	path := snapshot.FilePath(dir, id)
	require.NoError(t, os.WriteFile(path, rawFile(name, records...), 0o600))
	return path
}

func tag(ns, file, fork, block uint32) pagecache.PageTag {
	return pagecache.PageTag{Namespace: ns, File: file, Fork: fork, Block: block}
}

func TestReplayer_RestoresBlocksInOrder(t *testing.T) {
	dir := t.TempDir()
	writeSaveFile(t, dir, 2, "alpha",
		rawRecord(snapshot.TagFile, 42),
		rawRecord(snapshot.TagFork, 0),
		rawRecord(snapshot.TagBlock, 10),
		rawRecord(snapshot.TagRange, 2),
	)

	fetcher := testutil.NewRecordingFetcher()
	r := snapshot.NewReplayer(fs.Default, dir, replayCatalog(), fetcher)

	stats, err := r.Replay(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, uint32(3), stats.BlocksRestored)

	require.Equal(t, []pagecache.PageTag{
		tag(100, 42, 0, 10),
		tag(100, 42, 0, 11),
		tag(100, 42, 0, 12),
	}, fetcher.Fetched())

	// A fully replayed save-file is gone.
	_, err = os.Stat(snapshot.FilePath(dir, 2))
	require.True(t, os.IsNotExist(err))
}

func TestReplayer_GlobalFileResolvesViaDefaultNamespace(t *testing.T) {
	dir := t.TempDir()
	writeSaveFile(t, dir, 1, "",
		rawRecord(snapshot.TagFile, 9),
		rawRecord(snapshot.TagFork, 0),
		rawRecord(snapshot.TagBlock, 0),
	)

	fetcher := testutil.NewRecordingFetcher()
	r := snapshot.NewReplayer(fs.Default, dir, replayCatalog(), fetcher)

	stats, err := r.Replay(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), stats.BlocksRestored)

	// File 9 resolved through the "default" namespace (ID 1), but a shared
	// page keeps the reserved namespace 0 in its tag.
	require.Equal(t, []pagecache.PageTag{tag(pagecache.GlobalNamespace, 9, 0, 0)}, fetcher.Fetched())
}

func TestReplayer_GlobalFileWithNameIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := writeSaveFile(t, dir, 1, "alpha")

	r := snapshot.NewReplayer(fs.Default, dir, replayCatalog(), testutil.NewRecordingFetcher())

	_, err := r.Replay(context.Background(), 1)
	var corrupt *snapshot.CorruptError
	require.ErrorAs(t, err, &corrupt)

	// Corrupt files are kept for inspection.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestReplayer_DroppedNamespaceDiscardsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSaveFile(t, dir, 2, "ghost",
		rawRecord(snapshot.TagFile, 42),
		rawRecord(snapshot.TagFork, 0),
		rawRecord(snapshot.TagBlock, 0),
	)

	fetcher := testutil.NewRecordingFetcher()
	r := snapshot.NewReplayer(fs.Default, dir, replayCatalog(), fetcher)

	stats, err := r.Replay(context.Background(), 2)
	require.NoError(t, err)
	require.Zero(t, stats.BlocksRestored)
	require.Empty(t, fetcher.Fetched())

	// Nothing in the file could ever be restored; it counts as processed.
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestReplayer_SkipsStaleFile(t *testing.T) {
	dir := t.TempDir()
	writeSaveFile(t, dir, 2, "alpha",
		rawRecord(snapshot.TagFile, 77), // rewritten since the snapshot
		rawRecord(snapshot.TagFork, 0),
		rawRecord(snapshot.TagBlock, 0),
		rawRecord(snapshot.TagRange, 3),
		rawRecord(snapshot.TagFile, 43), // still live
		rawRecord(snapshot.TagFork, 0),
		rawRecord(snapshot.TagBlock, 1),
	)

	fetcher := testutil.NewRecordingFetcher()
	r := snapshot.NewReplayer(fs.Default, dir, replayCatalog(), fetcher)

	stats, err := r.Replay(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, uint32(1), stats.BlocksRestored)
	require.Equal(t, []pagecache.PageTag{tag(100, 43, 0, 1)}, fetcher.Fetched())
}

func TestReplayer_SkipsAbsentFork(t *testing.T) {
	dir := t.TempDir()
	writeSaveFile(t, dir, 2, "alpha",
		rawRecord(snapshot.TagFile, 42),
		rawRecord(snapshot.TagFork, 3), // never existed
		rawRecord(snapshot.TagBlock, 0),
		rawRecord(snapshot.TagFork, 1),
		rawRecord(snapshot.TagBlock, 2),
	)

	fetcher := testutil.NewRecordingFetcher()
	r := snapshot.NewReplayer(fs.Default, dir, replayCatalog(), fetcher)

	stats, err := r.Replay(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, uint32(1), stats.BlocksRestored)
	require.Equal(t, []pagecache.PageTag{tag(100, 42, 1, 2)}, fetcher.Fetched())
}

func TestReplayer_TruncatedForkClampsBlocksAndRanges(t *testing.T) {
	dir := t.TempDir()
	// Fork 1 holds 10 blocks. Block 8 plus a range of 4 reaches past the
	// end; block 12 on its own is past the end entirely.
	writeSaveFile(t, dir, 2, "alpha",
		rawRecord(snapshot.TagFile, 42),
		rawRecord(snapshot.TagFork, 1),
		rawRecord(snapshot.TagBlock, 8),
		rawRecord(snapshot.TagRange, 4),
		rawRecord(snapshot.TagBlock, 12),
	)

	fetcher := testutil.NewRecordingFetcher()
	r := snapshot.NewReplayer(fs.Default, dir, replayCatalog(), fetcher)

	stats, err := r.Replay(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, uint32(2), stats.BlocksRestored)
	require.Equal(t, []pagecache.PageTag{
		tag(100, 42, 1, 8),
		tag(100, 42, 1, 9),
	}, fetcher.Fetched())
}

func TestReplayer_RecordOrderCorruption(t *testing.T) {
	tests := []struct {
		name    string
		records [][]byte
	}{
		{"fork without file", [][]byte{rawRecord(snapshot.TagFork, 0)}},
		{"block without fork", [][]byte{rawRecord(snapshot.TagFile, 42), rawRecord(snapshot.TagBlock, 0)}},
		{"range without block", [][]byte{
			rawRecord(snapshot.TagFile, 42),
			rawRecord(snapshot.TagFork, 0),
			rawRecord(snapshot.TagRange, 2),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeSaveFile(t, dir, 2, "alpha", tt.records...)

			r := snapshot.NewReplayer(fs.Default, dir, replayCatalog(), testutil.NewRecordingFetcher())

			_, err := r.Replay(context.Background(), 2)
			var corrupt *snapshot.CorruptError
			require.ErrorAs(t, err, &corrupt)

			_, err = os.Stat(path)
			require.NoError(t, err)
		})
	}
}

func TestReplayer_CanceledReplayKeepsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSaveFile(t, dir, 2, "alpha",
		rawRecord(snapshot.TagFile, 42),
		rawRecord(snapshot.TagFork, 0),
		rawRecord(snapshot.TagBlock, 0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := snapshot.NewReplayer(fs.Default, dir, replayCatalog(), testutil.NewRecordingFetcher())

	_, err := r.Replay(ctx, 2)
	require.ErrorIs(t, err, context.Canceled)

	// An interrupted replay leaves the file for the next startup.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestReplayer_OutOfRangeFetchIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeSaveFile(t, dir, 2, "alpha",
		rawRecord(snapshot.TagFile, 42),
		rawRecord(snapshot.TagFork, 0),
		rawRecord(snapshot.TagBlock, 0),
		rawRecord(snapshot.TagRange, 1),
	)

	fetcher := testutil.NewRecordingFetcher()
	// The file shrank between the catalog lookup and the fetch.
	fetcher.Fail(tag(100, 42, 0, 1), pagecache.ErrOutOfRange)

	r := snapshot.NewReplayer(fs.Default, dir, replayCatalog(), fetcher)

	stats, err := r.Replay(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, uint32(1), stats.BlocksRestored)
	require.Equal(t, []pagecache.PageTag{tag(100, 42, 0, 0)}, fetcher.Fetched())
}

func TestReplayer_FetchFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := writeSaveFile(t, dir, 2, "alpha",
		rawRecord(snapshot.TagFile, 42),
		rawRecord(snapshot.TagFork, 0),
		rawRecord(snapshot.TagBlock, 0),
	)

	fetcher := testutil.NewRecordingFetcher()
	failure := errors.New("device gone")
	fetcher.Fail(tag(100, 42, 0, 0), failure)

	r := snapshot.NewReplayer(fs.Default, dir, replayCatalog(), fetcher)

	_, err := r.Replay(context.Background(), 2)
	require.ErrorIs(t, err, failure)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestReplayer_MissingSaveFile(t *testing.T) {
	r := snapshot.NewReplayer(fs.Default, t.TempDir(), replayCatalog(), testutil.NewRecordingFetcher())

	_, err := r.Replay(context.Background(), 2)
	require.Error(t, err)
}

func TestSaveAndReplay_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	catalog := replayCatalog()

	refs := []pagecache.PageTag{
		tag(100, 42, 0, 30),
		tag(100, 42, 0, 31),
		tag(100, 42, 0, 32),
		tag(100, 42, 1, 0),
		tag(100, 43, 0, 4),
		tag(100, 42, 0, 2),
	}

	w := snapshot.NewWriter(fs.Default, dir, catalog, nil)
	stats, err := w.Save(ctx, append([]pagecache.PageTag(nil), refs...))
	require.NoError(t, err)
	require.Equal(t, snapshot.SaveStats{Pages: 6, Files: 2}, stats)

	fetcher := testutil.NewRecordingFetcher()
	r := snapshot.NewReplayer(fs.Default, dir, catalog, fetcher)

	ids, err := snapshot.DiscoverPending(fs.Default, dir)
	require.NoError(t, err)
	var restored uint32
	for _, id := range ids {
		rs, err := r.Replay(ctx, id)
		require.NoError(t, err)
		restored += rs.BlocksRestored
	}
	require.Equal(t, uint32(6), restored)

	// Replay visits exactly the saved pages in sorted order.
	require.Equal(t, []pagecache.PageTag{
		tag(100, 42, 0, 2),
		tag(100, 42, 0, 30),
		tag(100, 42, 0, 31),
		tag(100, 42, 0, 32),
		tag(100, 42, 1, 0),
		tag(100, 43, 0, 4),
	}, fetcher.Fetched())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSaveAndReplay_GlobalPagesKeepIdentity(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	catalog := replayCatalog() // the "default" namespace has ID 1

	refs := []pagecache.PageTag{
		tag(pagecache.GlobalNamespace, 9, 0, 4),
		tag(pagecache.GlobalNamespace, 9, 0, 3),
	}

	w := snapshot.NewWriter(fs.Default, dir, catalog, nil)
	stats, err := w.Save(ctx, refs)
	require.NoError(t, err)
	require.Equal(t, snapshot.SaveStats{Pages: 2, Files: 1}, stats)

	// Shared pages land in the global file, whose header carries no name.
	raw, err := os.ReadFile(snapshot.FilePath(dir, snapshot.GlobalFileID))
	require.NoError(t, err)
	require.Equal(t, rawFile("",
		rawRecord(snapshot.TagFile, 9),
		rawRecord(snapshot.TagFork, 0),
		rawRecord(snapshot.TagBlock, 3),
		rawRecord(snapshot.TagRange, 1),
	), raw)

	fetcher := testutil.NewRecordingFetcher()
	r := snapshot.NewReplayer(fs.Default, dir, catalog, fetcher)

	rs, err := r.Replay(ctx, snapshot.GlobalFileID)
	require.NoError(t, err)
	require.Equal(t, uint32(2), rs.BlocksRestored)

	// Replay resolves file 9 through the default namespace yet fetches the
	// pages under the same identity the scan recorded.
	require.Equal(t, []pagecache.PageTag{
		tag(pagecache.GlobalNamespace, 9, 0, 3),
		tag(pagecache.GlobalNamespace, 9, 0, 4),
	}, fetcher.Fetched())
}
