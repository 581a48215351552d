package clone_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/odvcencio/grit/pkg/clone"
	"github.com/odvcencio/grit/pkg/object"
	"github.com/odvcencio/grit/pkg/remote"
	"github.com/odvcencio/grit/pkg/remote/remotetest"
	"github.com/odvcencio/grit/pkg/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	deltaBase   = "line one\nline two\nline three\n"
	deltaTarget = "line one\nline two\nline three\nline four\n"
)

var author = object.Signature{
	Name:  "Grace Hopper",
	Email: "grace@example.com",
	When:  time.Unix(1700000000, 0).UTC(),
}

// fixture is a small source repository with two commits, served as one
// pack in which deltaTarget travels as a ref-delta against deltaBase.
type fixture struct {
	first, second object.Hash
	secondTree    object.Hash
	pack          []byte
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	srcDir := t.TempDir()
	src, err := repo.Init(srcDir)
	require.NoError(t, err)

	write := func(rel, content string, perm os.FileMode) {
		p := filepath.Join(srcDir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), perm))
		require.NoError(t, os.Chmod(p, perm))
	}
	write("README.md", "hello\n", 0o644)
	write("src/main.go", "package main\n", 0o644)
	write("notes/base.txt", deltaBase, 0o644)

	tree1, err := src.WriteTree()
	require.NoError(t, err)
	first, err := src.CommitTree(tree1, nil, "initial\n", author, author)
	require.NoError(t, err)

	write("README.md", "hello, world\n", 0o644)
	write("bin/run.sh", "#!/bin/sh\necho run\n", 0o755)
	write("notes/target.txt", deltaTarget, 0o644)
	tree2, err := src.WriteTree()
	require.NoError(t, err)
	second, err := src.CommitTree(tree2, []object.Hash{first}, "second\n", author, author)
	require.NoError(t, err)

	return fixture{
		first:      first,
		second:     second,
		secondTree: tree2,
		pack:       packReachable(t, src.Store, second),
	}
}

func packReachable(t *testing.T, store *object.Store, tip object.Hash) []byte {
	t.Helper()
	set, err := store.ReachableSet([]object.Hash{tip})
	require.NoError(t, err)
	ids := make([]object.Hash, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b object.Hash) int { return bytes.Compare(a[:], b[:]) })

	baseID := object.HashObject(object.TypeBlob, []byte(deltaBase))
	targetID := object.HashObject(object.TypeBlob, []byte(deltaTarget))
	delta := object.NewDeltaBuilder(uint64(len(deltaBase)), uint64(len(deltaTarget))).
		Copy(0, uint32(len(deltaBase))).
		Add([]byte("line four\n")).
		Bytes()

	var buf bytes.Buffer
	pw, err := object.NewPackWriter(&buf, uint32(len(ids)))
	require.NoError(t, err)
	for _, id := range ids {
		if id == targetID {
			require.NoError(t, pw.WriteRefDelta(baseID, delta))
			continue
		}
		obj, err := store.Read(id)
		require.NoError(t, err)
		require.NoError(t, pw.WriteObject(obj))
	}
	_, err = pw.Finish()
	require.NoError(t, err)
	return buf.Bytes()
}

func (f fixture) refs() []remote.Ref {
	return []remote.Ref{
		{Name: "HEAD", Hash: f.second},
		{Name: "refs/heads/main", Hash: f.second},
		{Name: "refs/heads/old", Hash: f.first},
		{Name: "refs/pull/1/head", Hash: f.first},
		{Name: "refs/tags/v1", Hash: f.first},
		{Name: "refs/tags/v1^{}", Hash: f.first},
	}
}

func newCloner(t *testing.T, srv *remotetest.Server, opts clone.Options) *clone.Cloner {
	t.Helper()
	client, err := remote.NewClient(srv.RepoURL(), remote.ClientOptions{})
	require.NoError(t, err)
	if opts.URL == "" {
		opts.URL = srv.RepoURL()
	}
	return &clone.Cloner{Transport: client, Options: opts}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCloneEndToEnd(t *testing.T) {
	f := newFixture(t)
	srv := remotetest.NewServer(t, remotetest.Repo{Refs: f.refs(), Pack: f.pack})

	var states []clone.State
	var progress bytes.Buffer
	c := newCloner(t, srv, clone.Options{})
	c.OnState = func(s clone.State) { states = append(states, s) }
	c.Progress = &progress

	dest := filepath.Join(t.TempDir(), "work")
	res, err := c.Run(context.Background(), dest)
	require.NoError(t, err)

	assert.Equal(t, []clone.State{
		clone.Discovering, clone.Negotiating, clone.Decoding, clone.Storing,
		clone.ResolvingDeltas, clone.WritingRefs, clone.CheckingOut, clone.Done,
	}, states)

	assert.Equal(t, "refs/heads/main", res.HeadRef)
	assert.Equal(t, f.second, res.HeadID)
	assert.Equal(t, int64(len(f.pack)), res.PackBytes)
	assert.Equal(t, 1, res.Stats.Resolved)
	assert.Zero(t, res.Stats.SkippedOfsDeltas)
	assert.Contains(t, progress.String(), "Resolving deltas: 1, done.")

	// Working tree matches the second commit, byte for byte and mode for mode.
	assert.Equal(t, "hello, world\n", readFile(t, filepath.Join(dest, "README.md")))
	assert.Equal(t, deltaTarget, readFile(t, filepath.Join(dest, "notes", "target.txt")))
	rp, err := repo.Open(dest)
	require.NoError(t, err)
	tree, err := rp.WriteTree()
	require.NoError(t, err)
	assert.Equal(t, f.secondTree, tree)

	gitDir := filepath.Join(dest, ".git")
	assert.Equal(t, "ref: refs/heads/main\n", readFile(t, filepath.Join(gitDir, "HEAD")))
	assert.Equal(t, f.second.String()+"\n", readFile(t, filepath.Join(gitDir, "refs", "heads", "main")))
	assert.Equal(t, f.second.String()+"\n", readFile(t, filepath.Join(gitDir, "refs", "remotes", "origin", "main")))
	assert.Equal(t, f.first.String()+"\n", readFile(t, filepath.Join(gitDir, "refs", "remotes", "origin", "old")))
	assert.Equal(t, f.first.String()+"\n", readFile(t, filepath.Join(gitDir, "refs", "remotes", "origin", "pull", "1", "head")))
	assert.Equal(t, f.first.String()+"\n", readFile(t, filepath.Join(gitDir, "refs", "tags", "v1")))
	assert.Equal(t, "ref: refs/remotes/origin/main\n", readFile(t, filepath.Join(gitDir, "refs", "remotes", "origin", "HEAD")))
	assert.NoFileExists(t, filepath.Join(gitDir, "refs", "tags", "v1^{}"))

	cfg, err := rp.ReadConfig()
	require.NoError(t, err)
	assert.Equal(t, srv.RepoURL(), cfg.Remotes["origin"].URL)
	assert.Equal(t, "origin", cfg.Branches["main"].Remote)

	reflog, err := rp.ReadReflog("refs/heads/main", 0)
	require.NoError(t, err)
	require.Len(t, reflog, 1)
	assert.Equal(t, "clone: from "+srv.RepoURL(), reflog[0].Message)

	// Only the first advertised ref was requested.
	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 1, bytes.Count(reqs[1].Body, []byte("want ")))
}

func TestCloneAllRefsRequestsDistinctIDs(t *testing.T) {
	f := newFixture(t)
	srv := remotetest.NewServer(t, remotetest.Repo{Refs: f.refs(), Pack: f.pack})

	c := newCloner(t, srv, clone.Options{AllRefs: true, RemoteName: "upstream"})
	res, err := c.Run(context.Background(), filepath.Join(t.TempDir(), "all"))
	require.NoError(t, err)

	body := srv.Requests()[1].Body
	assert.Equal(t, 2, bytes.Count(body, []byte("want ")))
	assert.Contains(t, string(body), "want "+f.first.String())
	assert.Contains(t, res.Written, "refs/remotes/upstream/main")
}

func TestCloneNoRefs(t *testing.T) {
	srv := remotetest.NewServer(t, remotetest.Repo{})
	dest := filepath.Join(t.TempDir(), "empty")

	_, err := newCloner(t, srv, clone.Options{}).Run(context.Background(), dest)

	var failure *clone.Failure
	require.True(t, errors.As(err, &failure), "got %v", err)
	assert.Equal(t, clone.Discovering, failure.State)
	assert.ErrorIs(t, err, clone.ErrNoRefs)
	assert.NoDirExists(t, dest)
}

func TestCloneNoHeadTarget(t *testing.T) {
	f := newFixture(t)
	srv := remotetest.NewServer(t, remotetest.Repo{
		Refs: []remote.Ref{{Name: "HEAD", Hash: f.second}},
		Pack: f.pack,
	})

	_, err := newCloner(t, srv, clone.Options{}).Run(context.Background(), filepath.Join(t.TempDir(), "w"))

	var failure *clone.Failure
	require.True(t, errors.As(err, &failure), "got %v", err)
	assert.Equal(t, clone.CheckingOut, failure.State)
	assert.ErrorIs(t, err, clone.ErrNoHeadTarget)
}

func TestCloneHeadTargetSelection(t *testing.T) {
	f := newFixture(t)
	refs := []remote.Ref{
		{Name: "HEAD", Hash: f.second},
		{Name: "refs/tags/snapshot", Hash: f.second},
		{Name: "refs/heads/aaa", Hash: f.second},
		{Name: "refs/heads/main", Hash: f.second},
	}

	tests := []struct {
		name string
		caps string
		want string
	}{
		{"symref capability wins", remotetest.DefaultCapabilities, "refs/heads/main"},
		{"first branch without symref", "multi_ack side-band-64k", "refs/heads/aaa"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := remotetest.NewServer(t, remotetest.Repo{Refs: refs, Capabilities: tc.caps, Pack: f.pack})
			res, err := newCloner(t, srv, clone.Options{}).Run(context.Background(), filepath.Join(t.TempDir(), "w"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.HeadRef)
		})
	}
}

func TestCloneRemoteError(t *testing.T) {
	f := newFixture(t)
	srv := remotetest.NewServer(t, remotetest.Repo{
		Refs:  f.refs(),
		Pack:  f.pack[:40],
		Error: "pack-objects died",
	})

	_, err := newCloner(t, srv, clone.Options{}).Run(context.Background(), filepath.Join(t.TempDir(), "w"))

	var remoteErr *remote.RemoteError
	require.True(t, errors.As(err, &remoteErr), "got %v", err)
	assert.Equal(t, "pack-objects died", remoteErr.Message)
}

func TestCloneMissingDeltaBase(t *testing.T) {
	var buf bytes.Buffer
	pw, err := object.NewPackWriter(&buf, 1)
	require.NoError(t, err)
	missingBase := object.HashObject(object.TypeBlob, []byte("not in this pack"))
	delta := object.NewDeltaBuilder(16, 3).Add([]byte("abc")).Bytes()
	require.NoError(t, pw.WriteRefDelta(missingBase, delta))
	_, err = pw.Finish()
	require.NoError(t, err)

	srv := remotetest.NewServer(t, remotetest.Repo{
		Refs: []remote.Ref{{Name: "HEAD", Hash: missingBase}},
		Pack: buf.Bytes(),
	})
	_, err = newCloner(t, srv, clone.Options{}).Run(context.Background(), filepath.Join(t.TempDir(), "w"))

	var failure *clone.Failure
	require.True(t, errors.As(err, &failure), "got %v", err)
	assert.Equal(t, clone.ResolvingDeltas, failure.State)
	assert.ErrorIs(t, err, object.ErrNotFound)
}

func TestCloneRefusesNonEmptyDestination(t *testing.T) {
	f := newFixture(t)
	srv := remotetest.NewServer(t, remotetest.Repo{Refs: f.refs(), Pack: f.pack})

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "existing"), []byte("x"), 0o644))

	_, err := newCloner(t, srv, clone.Options{}).Run(context.Background(), dest)
	require.Error(t, err)
	assert.Empty(t, srv.Requests())
}

func TestLocalRefName(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"HEAD", "", false},
		{"refs/tags/v1^{}", "", false},
		{"refs/tags/v1", "refs/tags/v1", true},
		{"refs/tags/release/2.0", "refs/tags/release/2.0", true},
		{"refs/heads/main", "refs/remotes/origin/main", true},
		{"refs/heads/feature/x", "refs/remotes/origin/feature/x", true},
		{"refs/pull/7/head", "refs/remotes/origin/pull/7/head", true},
	}
	for _, tc := range tests {
		got, ok := clone.LocalRefName("origin", tc.in)
		assert.Equal(t, tc.wantOK, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "resolving deltas", clone.ResolvingDeltas.String())
	assert.Equal(t, "State(42)", clone.State(42).String())

	err := &clone.Failure{State: clone.Storing, Err: errors.New("disk full")}
	assert.Equal(t, "clone failed while storing: disk full", err.Error())
}

func TestCloneSkipsRefsWithoutObjects(t *testing.T) {
	f := newFixture(t)
	unrelated := object.HashObject(object.TypeCommit, []byte("tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n\nelsewhere\n"))
	refs := append(f.refs(),
		remote.Ref{Name: "refs/heads/feature", Hash: unrelated},
		remote.Ref{Name: "refs/tags/v9", Hash: unrelated},
	)
	srv := remotetest.NewServer(t, remotetest.Repo{Refs: refs, Pack: f.pack})

	dest := filepath.Join(t.TempDir(), "work")
	res, err := newCloner(t, srv, clone.Options{}).Run(context.Background(), dest)
	require.NoError(t, err)

	assert.Contains(t, res.Written, "refs/remotes/origin/main")
	assert.Contains(t, res.Written, "refs/tags/v1")
	assert.NotContains(t, res.Written, "refs/remotes/origin/feature")
	assert.NotContains(t, res.Written, "refs/tags/v9")

	gitDir := filepath.Join(dest, ".git")
	assert.NoFileExists(t, filepath.Join(gitDir, "refs", "remotes", "origin", "feature"))
	assert.NoFileExists(t, filepath.Join(gitDir, "refs", "tags", "v9"))

	rp, err := repo.Open(dest)
	require.NoError(t, err)
	_, err = rp.ResolveRef("refs/tags/v9")
	assert.ErrorIs(t, err, repo.ErrRefNotFound)
}

func TestCloneAllRefsWithDeltifiedAnnotatedTags(t *testing.T) {
	f := newFixture(t)

	tag1 := []byte("object " + f.first.String() + "\ntype commit\ntag v1\ntagger " + author.String() + "\n\nrelease\n")
	tag2 := []byte("object " + f.first.String() + "\ntype commit\ntag v2\ntagger " + author.String() + "\n\nrelease\n")
	tag1ID := object.HashObject(object.TypeTag, tag1)
	tag2ID := object.HashObject(object.TypeTag, tag2)
	at := bytes.Index(tag1, []byte("tag v1")) + len("tag v")
	delta := object.NewDeltaBuilder(uint64(len(tag1)), uint64(len(tag2))).
		Copy(0, uint32(at)).Add([]byte("2")).Copy(uint32(at+1), uint32(len(tag1)-at-1)).Bytes()

	// Re-frame the fixture pack with two annotated tags appended, the second
	// sent as a ref-delta against the first.
	pr, err := object.NewPackReader(bytes.NewReader(f.pack))
	require.NoError(t, err)
	var buf bytes.Buffer
	pw, err := object.NewPackWriter(&buf, pr.Header().NumObjects+2)
	require.NoError(t, err)
	for {
		obj, err := pr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if obj.Type == object.PackRefDelta {
			require.NoError(t, pw.WriteRefDelta(obj.BaseHash, obj.Data))
			continue
		}
		require.NoError(t, pw.WriteEntry(obj.Type, obj.Data))
	}
	require.NoError(t, pw.WriteRefDelta(tag1ID, delta))
	require.NoError(t, pw.WriteEntry(object.PackTag, tag1))
	_, err = pw.Finish()
	require.NoError(t, err)

	refs := []remote.Ref{
		{Name: "HEAD", Hash: f.second},
		{Name: "refs/heads/main", Hash: f.second},
		{Name: "refs/tags/v1", Hash: tag1ID},
		{Name: "refs/tags/v1^{}", Hash: f.first},
		{Name: "refs/tags/v2", Hash: tag2ID},
		{Name: "refs/tags/v2^{}", Hash: f.first},
	}
	srv := remotetest.NewServer(t, remotetest.Repo{Refs: refs, Pack: buf.Bytes()})

	dest := filepath.Join(t.TempDir(), "work")
	res, err := newCloner(t, srv, clone.Options{AllRefs: true}).Run(context.Background(), dest)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.SkippedTags)
	assert.Equal(t, 1, res.Stats.Resolved)
	assert.Equal(t, "refs/heads/main", res.HeadRef)
	assert.Equal(t, "hello, world\n", readFile(t, filepath.Join(dest, "README.md")))
	assert.NotContains(t, res.Written, "refs/tags/v1")
	assert.NotContains(t, res.Written, "refs/tags/v2")

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 3, bytes.Count(reqs[1].Body, []byte("want ")))
}
