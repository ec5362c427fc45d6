package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagededup/types"
)

type memStore struct {
	deleted   []string
	upserted  []types.ImageRecord
	ops       []string
	commits   int
	failOn    string
	commitErr error
}

func (m *memStore) Upsert(_ context.Context, rec types.ImageRecord) error {
	if rec.Path == m.failOn {
		return errors.New("disk I/O error")
	}
	m.upserted = append(m.upserted, rec)
	m.ops = append(m.ops, "upsert "+filepath.Base(rec.Path))
	return nil
}

func (m *memStore) Delete(_ context.Context, path string) error {
	if path == m.failOn {
		return errors.New("disk I/O error")
	}
	m.deleted = append(m.deleted, path)
	m.ops = append(m.ops, "delete "+filepath.Base(path))
	return nil
}

func (m *memStore) Commit(context.Context) error {
	m.commits++
	return m.commitErr
}

type fakeMerger struct {
	calls     [][]string
	err       error
	filesSeen []bool
}

func (f *fakeMerger) Merge(_ context.Context, keep string, candidates []string) (int, error) {
	f.calls = append(f.calls, append([]string{keep}, candidates...))
	for _, c := range candidates {
		_, err := os.Stat(c)
		f.filesSeen = append(f.filesSeen, err == nil)
	}
	return len(candidates), f.err
}

func group(records ...types.ImageRecord) types.DuplicateGroup {
	types.SortByQuality(records)
	return types.DuplicateGroup{Strategy: "exact", Records: records}
}

func TestSelectEmptyCriteria(t *testing.T) {
	g := group(
		types.ImageRecord{Path: "/a/b/c.jpg", FileSize: 10, ModTime: time.Unix(0, 0)},
		types.ImageRecord{Path: "/d.jpg", FileSize: 1, ModTime: time.Unix(100, 0)},
	)
	_, ok := Select(g, 0)
	assert.False(t, ok)
}

func TestSelectDominantRecord(t *testing.T) {
	base := time.Unix(1_600_000_000, 0)
	g := group(
		types.ImageRecord{Path: "/photos/2019/trip/a.jpg", FileSize: 5_000_000, ModTime: base},
		types.ImageRecord{Path: "/photos/b.jpg", FileSize: 4_000_000, ModTime: base.Add(time.Hour)},
		types.ImageRecord{Path: "/c.jpg", FileSize: 1_000, ModTime: base.Add(48 * time.Hour)},
	)
	keep, ok := Select(g, PreferOlder|PreferLarger|PreferDeeper)
	require.True(t, ok)
	assert.Equal(t, "/photos/2019/trip/a.jpg", keep)

	for _, c := range []Criteria{PreferOlder, PreferLarger, PreferDeeper} {
		keep, ok := Select(g, c)
		require.True(t, ok, c.String())
		assert.Equal(t, "/photos/2019/trip/a.jpg", keep)
	}
}

func TestSelectTieIsAmbiguous(t *testing.T) {
	base := time.Unix(1_600_000_000, 0)
	g := group(
		types.ImageRecord{Path: "/x/a.jpg", FileSize: 100, ModTime: base},
		types.ImageRecord{Path: "/x/b.jpg", FileSize: 100, ModTime: base.Add(500 * time.Millisecond)},
	)
	// both are within one second of the oldest and equally large
	_, ok := Select(g, PreferOlder|PreferLarger)
	assert.False(t, ok)

	// older wins for a, larger for b: one point each
	g.Records[1].FileSize = 200
	g.Records[1].ModTime = base.Add(time.Minute)
	_, ok = Select(g, PreferOlder|PreferLarger)
	assert.False(t, ok)
}

func TestSelectOlderTolerance(t *testing.T) {
	base := time.Unix(1_600_000_000, 0)
	g := group(
		types.ImageRecord{Path: "/a.jpg", ModTime: base},
		types.ImageRecord{Path: "/b.jpg", ModTime: base.Add(time.Second)},
	)
	keep, ok := Select(g, PreferOlder)
	require.True(t, ok)
	assert.Equal(t, "/a.jpg", keep)

	scores := Scores(g, PreferOlder)
	assert.Equal(t, map[string]int{"/a.jpg": 1, "/b.jpg": 0}, scores)
}

func TestCriteriaString(t *testing.T) {
	assert.Equal(t, "none", Criteria(0).String())
	assert.Equal(t, "older,deeper", (PreferOlder | PreferDeeper).String())
}

func TestCheckDeletionAnyComposition(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		keep := types.ImageRecord{Path: "/keep.jpg", Width: 1 + r.Intn(4000), Height: 1 + r.Intn(4000)}
		var candidates []types.ImageRecord
		bigger := false
		for j := 0; j < 1+r.Intn(5); j++ {
			c := types.ImageRecord{Path: fmt.Sprintf("/c%d.jpg", j), Width: 1 + r.Intn(4000), Height: 1 + r.Intn(4000)}
			if c.Area() > keep.Area() {
				bigger = true
			}
			candidates = append(candidates, c)
		}
		err := CheckDeletion(keep, candidates)
		var blocked *DeletionBlockedError
		assert.Equal(t, bigger, errors.As(err, &blocked))
	}
}

func writeFiles(t *testing.T, names ...string) map[string]string {
	t.Helper()
	dir := t.TempDir()
	paths := make(map[string]string)
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte(n), 0o644))
		paths[n] = p
	}
	return paths
}

func scenarioGroup(paths map[string]string) types.DuplicateGroup {
	a := types.ImageRecord{Path: paths["a.jpg"], Width: 1920, Height: 1080, FileSize: 2_000_000, QualityScore: 30.0}
	b := types.ImageRecord{Path: paths["b.jpg"], Width: 800, Height: 600, FileSize: 500_000, QualityScore: 8.8}
	return group(a, b)
}

func TestDeleteKeepHigherResolution(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	store := &memStore{}
	merger := &fakeMerger{}
	r := New(store, WithMerger(merger))

	report, err := r.Delete(context.Background(), scenarioGroup(paths), paths["a.jpg"])
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].FileRemoved)
	assert.True(t, report.Results[0].RecordRemoved)
	assert.Equal(t, 1, report.Removed())
	assert.Empty(t, report.MergeWarning)
	assert.Equal(t, 1, report.MergedFields)

	// merge ran while the candidate still existed
	require.Len(t, merger.calls, 1)
	assert.Equal(t, []string{paths["a.jpg"], paths["b.jpg"]}, merger.calls[0])
	assert.Equal(t, []bool{true}, merger.filesSeen)

	assert.NoFileExists(t, paths["b.jpg"])
	assert.FileExists(t, paths["a.jpg"])
	assert.Equal(t, []string{paths["b.jpg"]}, store.deleted)
	assert.Equal(t, 1, store.commits)
}

func TestDeleteKeepLowerResolutionBlocked(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	store := &memStore{}
	merger := &fakeMerger{}
	r := New(store, WithMerger(merger))

	_, err := r.Delete(context.Background(), scenarioGroup(paths), paths["b.jpg"])
	var blocked *DeletionBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, paths["a.jpg"], blocked.Candidate)
	assert.Equal(t, 1920, blocked.CandidateWidth)
	assert.Equal(t, 800, blocked.KeepWidth)
	assert.Contains(t, err.Error(), "1920x1080")
	assert.Contains(t, err.Error(), "800x600")

	// no side effects at all
	assert.Empty(t, merger.calls)
	assert.Empty(t, store.deleted)
	assert.Zero(t, store.commits)
	assert.FileExists(t, paths["a.jpg"])
	assert.FileExists(t, paths["b.jpg"])
}

func TestDeleteKeepNotInGroup(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	r := New(&memStore{})
	_, err := r.Delete(context.Background(), scenarioGroup(paths), "/elsewhere.jpg")
	assert.ErrorIs(t, err, ErrKeepNotInGroup)
}

func TestDeletePartialFailure(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg", "c.jpg")
	g := group(
		types.ImageRecord{Path: paths["a.jpg"], Width: 100, Height: 100, QualityScore: 3},
		types.ImageRecord{Path: paths["b.jpg"], Width: 100, Height: 100, QualityScore: 2},
		types.ImageRecord{Path: paths["c.jpg"], Width: 100, Height: 100, QualityScore: 1},
	)
	store := &memStore{}
	remove := func(p string) error {
		if p == paths["b.jpg"] {
			return os.ErrPermission
		}
		return os.Remove(p)
	}
	r := New(store, WithMerger(&fakeMerger{}), WithRemoveFunc(remove))

	report, err := r.Delete(context.Background(), g, paths["a.jpg"])
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, paths["b.jpg"], failed[0].Path)
	assert.False(t, failed[0].RecordRemoved)

	assert.Equal(t, []string{paths["c.jpg"]}, store.deleted, "only removed files leave the store")
	assert.FileExists(t, paths["b.jpg"])
	assert.NoFileExists(t, paths["c.jpg"])
}

func TestDeleteMissingFileStillDropsRecord(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	require.NoError(t, os.Remove(paths["b.jpg"]))
	store := &memStore{}
	merger := &fakeMerger{}
	r := New(store, WithMerger(merger))

	report, err := r.Delete(context.Background(), scenarioGroup(paths), paths["a.jpg"])
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Missing)
	assert.True(t, report.Results[0].RecordRemoved)
	assert.Empty(t, merger.calls, "nothing left to merge from")
	assert.Equal(t, []string{paths["b.jpg"]}, store.deleted)
}

func TestDeleteMergeFailure(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	mergeErr := errors.New("exiftool not found")

	// warning recorded, deletion proceeds
	store := &memStore{}
	r := New(store, WithMerger(&fakeMerger{err: mergeErr}))
	report, err := r.Delete(context.Background(), scenarioGroup(paths), paths["a.jpg"])
	require.NoError(t, err)
	assert.Contains(t, report.MergeWarning, "exiftool not found")
	assert.NoFileExists(t, paths["b.jpg"])

	// required merge aborts before anything is removed
	paths = writeFiles(t, "a.jpg", "b.jpg")
	store = &memStore{}
	r = New(store, WithMerger(&fakeMerger{err: mergeErr}), WithRequireMerge(true))
	_, err = r.Delete(context.Background(), scenarioGroup(paths), paths["a.jpg"])
	require.ErrorIs(t, err, mergeErr)
	assert.FileExists(t, paths["b.jpg"])
	assert.Empty(t, store.deleted)
}

func TestDeleteWithoutMergerWarns(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	r := New(&memStore{})
	report, err := r.Delete(context.Background(), scenarioGroup(paths), paths["a.jpg"])
	require.NoError(t, err)
	assert.NotEmpty(t, report.MergeWarning)
}

func TestDeleteStoreErrorStops(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	store := &memStore{failOn: paths["b.jpg"]}
	r := New(store, WithMerger(&fakeMerger{}))
	_, err := r.Delete(context.Background(), scenarioGroup(paths), paths["a.jpg"])
	require.Error(t, err)
	assert.Zero(t, store.commits)
}

func TestIgnore(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	store := &memStore{}
	r := New(store)
	g := scenarioGroup(paths)

	require.NoError(t, r.Ignore(context.Background(), g))
	assert.ElementsMatch(t, g.Paths(), store.deleted)
	assert.Equal(t, 1, store.commits)
	assert.FileExists(t, paths["a.jpg"])
	assert.FileExists(t, paths["b.jpg"])
}

func TestMergeFields(t *testing.T) {
	target := map[string]any{"Artist": "Me", "FileSize": "2 MB"}
	candidates := []map[string]any{
		{"Artist": "Someone else", "Keywords": []interface{}{"beach"}, "FileName": "b.jpg"},
		{"Keywords": []interface{}{"sunset"}, "GPSLatitude": 48.85},
	}
	got := MergeFields(target, candidates)
	assert.Equal(t, map[string]any{
		"Keywords":    []interface{}{"beach"},
		"GPSLatitude": 48.85,
	}, got)

	assert.Empty(t, MergeFields(target, nil))
}

func TestExiftoolValue(t *testing.T) {
	assert.Equal(t, []string{"a", "1"}, exiftoolValue([]interface{}{"a", 1}))
	assert.Equal(t, "48.85", exiftoolValue(48.85))
	assert.Equal(t, "x", exiftoolValue("x"))
}

func TestSessionFlow(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	g := scenarioGroup(paths)
	g.Records[0].FileSize = 2_000_000
	store := &memStore{}
	r := New(store, WithMerger(&fakeMerger{}))

	s := NewSession(g, PreferLarger)
	assert.Equal(t, Presented, s.State())

	keep, ok := s.AutoSelect()
	require.True(t, ok)
	assert.Equal(t, paths["a.jpg"], keep)
	assert.Equal(t, AutoSelected, s.State())

	_, err := s.Execute(context.Background(), r)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.RequestDeletion())
	assert.Equal(t, Confirmed, s.State())

	_, err = s.Execute(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Resolved, s.State())
	assert.ErrorIs(t, s.Choose(paths["a.jpg"]), ErrInvalidTransition)
}

func TestSessionBlockedThenRechoose(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	s := NewSession(scenarioGroup(paths), 0)

	_, ok := s.AutoSelect()
	assert.False(t, ok)
	assert.Equal(t, NoWinner, s.State())
	assert.ErrorIs(t, s.RequestDeletion(), ErrInvalidTransition)

	require.NoError(t, s.Choose(paths["b.jpg"]))
	err := s.RequestDeletion()
	var blocked *DeletionBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, Blocked, s.State())
	assert.Equal(t, err, s.BlockedBy())

	require.NoError(t, s.Choose(paths["a.jpg"]))
	assert.Nil(t, s.BlockedBy())
	require.NoError(t, s.RequestDeletion())
	assert.Equal(t, Confirmed, s.State())

	assert.ErrorIs(t, s.Choose("/not/a/member.jpg"), ErrInvalidTransition)
}

func TestSessionIgnore(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	store := &memStore{}
	s := NewSession(scenarioGroup(paths), 0)
	require.NoError(t, s.Ignore(context.Background(), New(store)))
	assert.Equal(t, Resolved, s.State())
	assert.Len(t, store.deleted, 2)
	assert.ErrorIs(t, s.Ignore(context.Background(), New(store)), ErrInvalidTransition)
	assert.Equal(t, "resolved", s.State().String())
}

// statExtractor rebuilds a record from the file on disk
type statExtractor struct {
	calls int
	err   error
}

func (e *statExtractor) Extract(_ context.Context, path string, _ types.EnrichOptions) (types.ImageRecord, error) {
	e.calls++
	if e.err != nil {
		return types.ImageRecord{}, e.err
	}
	info, err := os.Stat(path)
	if err != nil {
		return types.ImageRecord{}, err
	}
	return types.ImageRecord{Path: path, ContentHash: "rewritten", Width: 1920, Height: 1080,
		FileSize: info.Size(), ModTime: info.ModTime()}, nil
}

func TestDeleteRefreshesKeptRecordAfterMerge(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	g := scenarioGroup(paths)
	g.Records[0].Embedding = []float32{0.6, 0.8}
	g.Records[0].Faces = []types.Detection{{Label: "face", Confidence: 0.9}}
	require.NoError(t, os.WriteFile(paths["a.jpg"], []byte("a.jpg with merged tags"), 0o644))

	store := &memStore{}
	ext := &statExtractor{}
	r := New(store, WithMerger(&fakeMerger{}), WithReindex(ext))

	report, err := r.Delete(context.Background(), g, paths["a.jpg"])
	require.NoError(t, err)
	assert.True(t, report.KeepRefreshed)
	assert.Equal(t, 1, ext.calls)

	require.Len(t, store.upserted, 1)
	fresh := store.upserted[0]
	assert.Equal(t, paths["a.jpg"], fresh.Path)
	assert.Equal(t, "rewritten", fresh.ContentHash)
	assert.Equal(t, int64(len("a.jpg with merged tags")), fresh.FileSize)
	assert.Equal(t, []float32{0.6, 0.8}, fresh.Embedding)
	assert.Len(t, fresh.Faces, 1)

	// the kept record is written before any candidate leaves the store
	assert.Equal(t, []string{"upsert a.jpg", "delete b.jpg"}, store.ops)
	assert.Equal(t, 1, store.commits)
}

func TestDeleteSkipsRefreshWithoutMergedFields(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	store := &memStore{}
	ext := &statExtractor{}
	r := New(store, WithReindex(ext))

	report, err := r.Delete(context.Background(), scenarioGroup(paths), paths["a.jpg"])
	require.NoError(t, err)
	assert.False(t, report.KeepRefreshed)
	assert.Zero(t, ext.calls)
	assert.Empty(t, store.upserted)
	assert.Equal(t, 1, report.Removed())
}

func TestDeleteRefreshFailureStillDeletes(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	store := &memStore{}
	r := New(store, WithMerger(&fakeMerger{}), WithReindex(&statExtractor{err: errors.New("cannot decode")}))

	report, err := r.Delete(context.Background(), scenarioGroup(paths), paths["a.jpg"])
	require.NoError(t, err)
	assert.False(t, report.KeepRefreshed)
	assert.Empty(t, store.upserted)
	assert.Equal(t, 1, report.Removed())
	assert.NoFileExists(t, paths["b.jpg"])
}

func TestDeleteRefreshStoreErrorStopsBeforeRemoval(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	store := &memStore{failOn: paths["a.jpg"]}
	r := New(store, WithMerger(&fakeMerger{}), WithReindex(&statExtractor{}))

	_, err := r.Delete(context.Background(), scenarioGroup(paths), paths["a.jpg"])
	require.Error(t, err)
	assert.Empty(t, store.deleted)
	assert.FileExists(t, paths["b.jpg"])
}
