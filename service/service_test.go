package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagededup/database"
	"imagededup/grouping"
	"imagededup/imagehash"
	"imagededup/resolver"
	"imagededup/scanner"
	"imagededup/types"
)

// textExtractor reads "<hash> <phash> <width> <height>" from the file
type textExtractor struct{}

func (textExtractor) Extract(ctx context.Context, path string, _ types.EnrichOptions) (types.ImageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ImageRecord{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return types.ImageRecord{}, err
	}
	rec := types.ImageRecord{Path: path, FileSize: info.Size(), ModTime: info.ModTime()}
	if _, err := fmt.Sscanf(string(data), "%s %d %d %d", &rec.ContentHash, &rec.PerceptualHash, &rec.Width, &rec.Height); err != nil {
		return types.ImageRecord{}, fmt.Errorf("unreadable %s: %w", path, err)
	}
	rec.QualityScore = types.QualityScore(rec.Width, rec.Height, rec.FileSize, 0)
	return rec, nil
}

type fixture struct {
	dir string
	db  *database.DB
	svc *Service
	a   string
	b   string
	c   string
	d   string
}

func write(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir: dir,
		a:   write(t, filepath.Join(dir, "sub", "a.jpg"), "ha 0 4000 3000"),
		b:   write(t, filepath.Join(dir, "b.jpg"), "hb 1 1024 768"),
		c:   write(t, filepath.Join(dir, "c.jpg"), "hc 65535 800 600"),
		d:   write(t, filepath.Join(dir, "d.jpg"), "hc 65535 800 600"),
	}
	write(t, filepath.Join(dir, "bad.jpg"), "garbage")
	write(t, filepath.Join(dir, "notes.txt"), "not an image")

	db, err := database.InitDatabase(filepath.Join(t.TempDir(), "images.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	f.db = db
	f.svc = New(db, textExtractor{}, opts...)
	return f
}

func (f *fixture) scan(t *testing.T) ScanSummary {
	t.Helper()
	summary, err := f.svc.Scan(context.Background(), ScanRequest{Folders: []string{f.dir}}, scanner.NewToken(), nil)
	require.NoError(t, err)
	return summary
}

func TestScanIndexesAndRecordsRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	summary := f.scan(t)
	assert.Equal(t, 5, summary.Scanned)
	assert.Equal(t, 4, summary.Indexed)
	assert.Equal(t, 1, summary.Skipped)
	assert.False(t, summary.Stopped)
	assert.NotEmpty(t, summary.RunID)

	runs, err := f.db.RecentScans(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
	assert.Equal(t, database.ScanCompleted, runs[0].Status)
	assert.Equal(t, 4, runs[0].Indexed)
	assert.Equal(t, []string{f.dir}, runs[0].Folders)

	records, err := f.db.All(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestScanUsesRegisteredFolders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Scan(ctx, ScanRequest{}, scanner.NewToken(), nil)
	assert.ErrorIs(t, err, ErrNoFolders)

	require.NoError(t, f.db.AddFolder(ctx, f.dir))
	summary, err := f.svc.Scan(ctx, ScanRequest{}, scanner.NewToken(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Indexed)
}

func TestScanMissingFolders(t *testing.T) {
	f := newFixture(t)
	missing := filepath.Join(f.dir, "gone")

	_, err := f.svc.Scan(context.Background(), ScanRequest{Folders: []string{missing}}, scanner.NewToken(), nil)
	assert.ErrorIs(t, err, ErrNoFolders)

	summary, err := f.svc.Scan(context.Background(), ScanRequest{Folders: []string{f.dir, missing}}, scanner.NewToken(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{missing}, summary.Missing)
}

func TestScanStoppedIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token := scanner.NewToken()
	token.Stop()

	summary, err := f.svc.Scan(ctx, ScanRequest{Folders: []string{f.dir}}, token, nil)
	require.NoError(t, err)
	assert.True(t, summary.Stopped)
	assert.Zero(t, summary.Indexed)

	runs, err := f.db.RecentScans(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, database.ScanStopped, runs[0].Status)
}

func TestScanDisablesUnavailableEnrichment(t *testing.T) {
	f := newFixture(t)
	summary, err := f.svc.Scan(context.Background(), ScanRequest{
		Folders: []string{f.dir},
		Enrich:  types.EnrichOptions{Embeddings: true},
	}, scanner.NewToken(), nil)
	require.NoError(t, err)
	require.Len(t, summary.Disabled, 1)
	assert.Contains(t, summary.Disabled[0], "embeddings")
	assert.Equal(t, 4, summary.Indexed)
}

func TestScanRejectsOtherHashAlgorithm(t *testing.T) {
	f := newFixture(t)
	f.scan(t)

	dct := New(f.db, textExtractor{}, WithAlgorithm(imagehash.DCT))
	_, err := dct.Scan(context.Background(), ScanRequest{Folders: []string{f.dir}}, scanner.NewToken(), nil)
	assert.ErrorIs(t, err, database.ErrAlgorithmMismatch)
}

func TestGroupStrategies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scan(t)

	exact, err := f.svc.Group(ctx, "exact")
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.ElementsMatch(t, []string{f.c, f.d}, exact[0].Paths())

	perceptual, err := f.svc.Group(ctx, "perceptual")
	require.NoError(t, err)
	require.Len(t, perceptual, 2)

	semantic, err := f.svc.Group(ctx, "semantic")
	require.NoError(t, err)
	assert.Empty(t, semantic)

	all, err := f.svc.Group(ctx, StrategyAll)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, grouping.Exact, grouping.Strategy(all[0].Strategy))

	_, err = f.svc.Group(ctx, "fuzzy")
	assert.Error(t, err)
}

func abGroup(t *testing.T, f *fixture) types.DuplicateGroup {
	t.Helper()
	groups, err := f.svc.Group(context.Background(), "perceptual")
	require.NoError(t, err)
	for _, g := range groups {
		if _, ok := g.Find(f.a); ok {
			return g
		}
	}
	t.Fatal("no group holds a.jpg")
	return types.DuplicateGroup{}
}

func TestDeleteKeepsHigherResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scan(t)

	group := abGroup(t, f)
	assert.Equal(t, f.a, group.Best().Path)

	report, err := f.svc.Delete(ctx, group, f.a)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed())
	assert.NoFileExists(t, f.b)
	assert.FileExists(t, f.a)

	rec, err := f.db.Get(ctx, f.b)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDeleteLowerResolutionIsBlocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scan(t)

	_, err := f.svc.Delete(ctx, abGroup(t, f), f.b)
	var blocked *resolver.DeletionBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, f.a, blocked.Candidate)
	assert.FileExists(t, f.a)
	assert.FileExists(t, f.b)

	records, err := f.db.All(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestIgnoreKeepsFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scan(t)

	exact, err := f.svc.Group(ctx, "exact")
	require.NoError(t, err)
	require.Len(t, exact, 1)
	require.NoError(t, f.svc.Ignore(ctx, exact[0]))

	assert.FileExists(t, f.c)
	assert.FileExists(t, f.d)
	exact, err = f.svc.Group(ctx, "exact")
	require.NoError(t, err)
	assert.Empty(t, exact)
}

func TestResolveAndSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithCriteria(resolver.PreferDeeper))
	f.scan(t)
	group := abGroup(t, f)

	keep, ok := f.svc.Resolve(group)
	require.True(t, ok)
	assert.Equal(t, f.a, keep)

	session := f.svc.NewSession(group)
	keep, ok = session.AutoSelect()
	require.True(t, ok)
	require.NoError(t, session.RequestDeletion())
	report, err := f.svc.Execute(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, resolver.Resolved, session.State())
	assert.Equal(t, keep, report.Keep)
	assert.NoFileExists(t, f.b)

	_, err = f.svc.Execute(ctx, session)
	assert.True(t, errors.Is(err, resolver.ErrInvalidTransition))
}

func TestIgnoreSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scan(t)

	session := f.svc.NewSession(abGroup(t, f))
	_, ok := session.AutoSelect()
	assert.False(t, ok)
	require.NoError(t, f.svc.IgnoreSession(ctx, session))
	assert.Equal(t, resolver.Resolved, session.State())
	assert.FileExists(t, f.b)
}

// embeddingTextExtractor adds an embedding of a per-file length to textExtractor records
type embeddingTextExtractor struct {
	dims map[string]int
}

func (e embeddingTextExtractor) Extract(ctx context.Context, path string, opts types.EnrichOptions) (types.ImageRecord, error) {
	rec, err := textExtractor{}.Extract(ctx, path, opts)
	if err != nil {
		return rec, err
	}
	if n := e.dims[filepath.Base(path)]; n > 0 {
		rec.Embedding = make([]float32, n)
		rec.Embedding[n-1] = 1
	}
	return rec, nil
}

func TestScanOmitsMismatchedEmbedding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc = New(f.db, embeddingTextExtractor{dims: map[string]int{"b.jpg": 2, "c.jpg": 3, "d.jpg": 2, "a.jpg": 2}})

	summary := f.scan(t)
	assert.Equal(t, 4, summary.Indexed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, f.db.EmbeddingDim())

	c, err := f.db.Get(ctx, f.c)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.False(t, c.HasEmbedding())
	assert.Contains(t, c.EnrichmentError, database.ErrDimensionMismatch.Error())

	for _, path := range []string{f.a, f.b, f.d} {
		rec, err := f.db.Get(ctx, path)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Len(t, rec.Embedding, 2, path)
	}
}

// appendMerger stands in for a tag writer: it grows the kept file
type appendMerger struct{}

func (appendMerger) Merge(_ context.Context, keep string, candidates []string) (int, error) {
	f, err := os.OpenFile(keep, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.WriteString(" keywords=beach"); err != nil {
		return 0, err
	}
	return len(candidates), nil
}

func TestDeleteRefreshesMergedKeep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithResolverOptions(resolver.WithMerger(appendMerger{})))
	f.scan(t)

	report, err := f.svc.Delete(ctx, abGroup(t, f), f.a)
	require.NoError(t, err)
	assert.True(t, report.KeepRefreshed)

	info, err := os.Stat(f.a)
	require.NoError(t, err)
	rec, err := f.db.Get(ctx, f.a)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, info.Size(), rec.FileSize)
	assert.True(t, info.ModTime().Equal(rec.ModTime))
	assert.Equal(t, "ha", rec.ContentHash)
}
