package repo

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/odvcencio/grit/pkg/object"
)

func TestWriteTree_Layout(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	writeFile(t, filepath.Join(dir, "README.md"), []byte("# hi\n"), 0o644)
	writeFile(t, filepath.Join(dir, "run.sh"), []byte("#!/bin/sh\n"), 0o755)
	writeFile(t, filepath.Join(dir, "src", "main.go"), []byte("package main\n"), 0o644)
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	root, err := r.WriteTree()
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}

	tree, err := r.Store.ReadTree(root)
	if err != nil {
		t.Fatalf("ReadTree: %v", err)
	}
	want := []struct{ name, mode string }{
		{"README.md", object.TreeModeFile},
		{"run.sh", object.TreeModeExecutable},
		{"src", object.TreeModeDir},
	}
	if len(tree.Entries) != len(want) {
		t.Fatalf("root entries = %+v, want %d entries", tree.Entries, len(want))
	}
	for i, w := range want {
		e := tree.Entries[i]
		if e.Name != w.name || e.Mode != w.mode {
			t.Errorf("entry %d = %s %s, want %s %s", i, e.Mode, e.Name, w.mode, w.name)
		}
	}

	if got := tree.Entries[0].Hash; got != object.HashObject(object.TypeBlob, []byte("# hi\n")) {
		t.Errorf("README blob = %s", got)
	}

	sub, err := r.Store.ReadTree(tree.Entries[2].Hash)
	if err != nil {
		t.Fatalf("ReadTree(src): %v", err)
	}
	if len(sub.Entries) != 1 || sub.Entries[0].Name != "main.go" {
		t.Errorf("src entries = %+v", sub.Entries)
	}
}

func TestWriteTree_Deterministic(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	for _, d := range []string{dirA, dirB} {
		writeFile(t, filepath.Join(d, "b.txt"), []byte("b"), 0o644)
		writeFile(t, filepath.Join(d, "a", "x.txt"), []byte("x"), 0o644)
	}

	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h1, err := r.WriteTreeDir(dirA)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := r.WriteTreeDir(dirB)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("same content gave different trees: %s vs %s", h1, h2)
	}
}

func TestWriteTree_EmptyDirectory(t *testing.T) {
	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h, err := r.WriteTree()
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	if want := object.MustParseHash("4b825dc642cb6eb9a060e54bf8d69288fbee4904"); h != want {
		t.Fatalf("empty tree = %s, want %s", h, want)
	}
}

func TestWriteTree_HonorsGitignore(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, ".gitignore"), []byte("*.log\nout/\n"), 0o644)
	writeFile(t, filepath.Join(dir, "keep.txt"), []byte("k"), 0o644)
	writeFile(t, filepath.Join(dir, "noise.log"), []byte("n"), 0o644)
	writeFile(t, filepath.Join(dir, "out", "bin"), []byte("b"), 0o644)
	writeFile(t, filepath.Join(dir, "pkg", ".gitignore"), []byte("gen.go\n"), 0o644)
	writeFile(t, filepath.Join(dir, "pkg", "gen.go"), []byte("g"), 0o644)
	writeFile(t, filepath.Join(dir, "pkg", "lib.go"), []byte("l"), 0o644)

	h, err := r.WriteTree()
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	files, err := r.FlattenTree(h)
	if err != nil {
		t.Fatalf("FlattenTree: %v", err)
	}

	got := make(map[string]bool)
	for _, f := range files {
		got[f.Path] = true
	}
	for _, want := range []string{".gitignore", "keep.txt", "pkg/.gitignore", "pkg/lib.go"} {
		if !got[want] {
			t.Errorf("missing %q in %v", want, got)
		}
	}
	for _, unwanted := range []string{"noise.log", "out/bin", "pkg/gen.go"} {
		if got[unwanted] {
			t.Errorf("ignored path %q was stored", unwanted)
		}
	}
	for p := range got {
		if filepath.Base(filepath.Dir(p)) == ".git" || p == ".git" {
			t.Errorf("repository metadata stored: %q", p)
		}
	}
}

func TestWriteTree_Symlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "target.txt"), []byte("t"), 0o644)
	if err := os.Symlink("target.txt", filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}

	h, err := r.WriteTree()
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	tree, err := r.Store.ReadTree(h)
	if err != nil {
		t.Fatal(err)
	}
	var link *object.TreeEntry
	for i := range tree.Entries {
		if tree.Entries[i].Name == "link" {
			link = &tree.Entries[i]
		}
	}
	if link == nil {
		t.Fatalf("no link entry in %+v", tree.Entries)
	}
	if link.Mode != object.TreeModeSymlink {
		t.Errorf("link mode = %s, want %s", link.Mode, object.TreeModeSymlink)
	}
	if link.Hash != object.HashObject(object.TypeBlob, []byte("target.txt")) {
		t.Errorf("link blob does not hold the link target")
	}
}
