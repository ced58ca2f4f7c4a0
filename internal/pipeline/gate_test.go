package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/kalambet/sdsx/internal/loader"
	"github.com/kalambet/sdsx/internal/splitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateFixture struct {
	loader   *countingLoader
	splitter *countingSplitter
	index    *memIndex
	gate     *Gate
}

func newGateFixture(t *testing.T, method string) *gateFixture {
	t.Helper()
	f := &gateFixture{
		loader:   &countingLoader{},
		splitter: &countingSplitter{},
		index:    newMemIndex(),
	}
	f.gate = NewGate(method, f.loader, f.splitter, f.index, DirResolver(t.TempDir()), quietLogger())
	return f
}

func TestEnsureIngested_Idempotent(t *testing.T) {
	f := newGateFixture(t, splitter.MethodRecursive)
	ctx := context.Background()

	first, err := f.gate.EnsureIngested(ctx, "sample.pdf")
	require.NoError(t, err)
	second, err := f.gate.EnsureIngested(ctx, "sample.pdf")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, CollectionID(splitter.MethodRecursive, "sample.pdf"), first)
	assert.EqualValues(t, 1, f.loader.calls.Load())
	assert.EqualValues(t, 1, f.splitter.calls.Load())
	assert.EqualValues(t, 1, f.index.puts.Load())
}

func TestEnsureIngested_ConcurrentCallsShareIngestion(t *testing.T) {
	f := newGateFixture(t, splitter.MethodSemantic)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = f.gate.EnsureIngested(context.Background(), "acetone.pdf")
		}()
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.EqualValues(t, 1, f.index.puts.Load())
}

// heldLoader blocks every Load until release is closed.
type heldLoader struct {
	countingLoader
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *heldLoader) Load(ctx context.Context, path string) ([]loader.TextBlock, error) {
	l.once.Do(func() { close(l.entered) })
	select {
	case <-l.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return l.countingLoader.Load(ctx, path)
}

func TestEnsureIngested_CallerCancelDoesNotFailOthers(t *testing.T) {
	l := &heldLoader{entered: make(chan struct{}), release: make(chan struct{})}
	idx := newMemIndex()
	g := NewGate(splitter.MethodRecursive, l, &countingSplitter{}, idx, DirResolver(t.TempDir()), quietLogger())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := g.EnsureIngested(firstCtx, "sample.pdf")
		firstErr <- err
	}()
	<-l.entered

	secondErr := make(chan error, 1)
	go func() {
		_, err := g.EnsureIngested(context.Background(), "sample.pdf")
		secondErr <- err
	}()

	cancelFirst()
	err := <-firstErr
	require.ErrorIs(t, err, context.Canceled)
	var ierr *IngestionError
	require.ErrorAs(t, err, &ierr)

	close(l.release)
	require.NoError(t, <-secondErr)

	exists, err := idx.Exists(context.Background(), g.Collection("sample.pdf"))
	require.NoError(t, err)
	assert.True(t, exists)
	assert.EqualValues(t, 1, l.calls.Load())
}

func TestEnsureIngested_MethodIsPartOfIdentity(t *testing.T) {
	idx := newMemIndex()
	l, s := &countingLoader{}, &countingSplitter{}
	dir := t.TempDir()
	recursive := NewGate(splitter.MethodRecursive, l, s, idx, DirResolver(dir), quietLogger())
	semantic := NewGate(splitter.MethodSemantic, l, s, idx, DirResolver(dir), quietLogger())

	a, err := recursive.EnsureIngested(context.Background(), "sample.pdf")
	require.NoError(t, err)
	b, err := semantic.EnsureIngested(context.Background(), "sample.pdf")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.EqualValues(t, 2, idx.puts.Load())
}

func TestEnsureIngested_Failures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(f *gateFixture)
		doc   string
		stage string
	}{
		{"loader", func(f *gateFixture) { f.loader.err = &loader.LoadError{Path: "x", Err: boom} }, "sample.pdf", "load"},
		{"no text", func(f *gateFixture) { f.loader.blocks = []loader.TextBlock{} }, "sample.pdf", "load"},
		{"splitter", func(f *gateFixture) { f.splitter.err = boom }, "sample.pdf", "split"},
		{"index", func(f *gateFixture) { f.index.putErr = boom }, "sample.pdf", "index"},
		{"path traversal", func(*gateFixture) {}, "../etc/passwd", "resolve"},
		{"empty name", func(*gateFixture) {}, "  ", "resolve"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGateFixture(t, splitter.MethodRecursive)
			tt.setup(f)

			id, err := f.gate.EnsureIngested(context.Background(), tt.doc)
			assert.Empty(t, id)
			var ierr *IngestionError
			require.ErrorAs(t, err, &ierr)
			assert.Equal(t, tt.stage, ierr.Stage)

			exists, _ := f.index.Exists(context.Background(), CollectionID(splitter.MethodRecursive, tt.doc))
			assert.False(t, exists, "failed ingestion must not leave a collection")
		})
	}
}

func TestEnsureIngested_RetriesAfterFailure(t *testing.T) {
	f := newGateFixture(t, splitter.MethodRecursive)
	f.splitter.err = errors.New("transient")
	_, err := f.gate.EnsureIngested(context.Background(), "sample.pdf")
	require.Error(t, err)

	f.splitter.err = nil
	_, err = f.gate.EnsureIngested(context.Background(), "sample.pdf")
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.loader.calls.Load())
}

func TestCollectionID(t *testing.T) {
	id := CollectionID("recursive", "Acetone SDS (2024).PDF")
	assert.Regexp(t, regexp.MustCompile(`^recursive_acetone_sds_2024_[0-9a-f]{8}$`), id)
	assert.Equal(t, id, CollectionID("recursive", "Acetone SDS (2024).PDF"))

	assert.NotEqual(t, CollectionID("recursive", "a-b.pdf"), CollectionID("recursive", "a_b.pdf"))
	assert.NotEqual(t, CollectionID("recursive", "x.pdf"), CollectionID("semantic", "x.pdf"))
	assert.Regexp(t, `^semantic_doc_[0-9a-f]{8}$`, CollectionID("semantic", "???.pdf"))

	long := CollectionID("recursive", "a_very_long_document_name_that_keeps_going_and_going_forever.pdf")
	assert.LessOrEqual(t, len(long), len("recursive_")+maxNameLen+9)
}

func TestDirResolver(t *testing.T) {
	dir := t.TempDir()
	resolve := DirResolver(dir)

	p, err := resolve("sample.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sample.pdf"), p)

	for _, bad := range []string{"", ".", "..", "../x.pdf", "sub/x.pdf"} {
		_, err := resolve(bad)
		assert.Error(t, err, "name %q", bad)
	}
}
