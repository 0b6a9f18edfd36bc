package decree

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeRepository struct {
	files map[string][]byte
	err   error
}

func (r *fakeRepository) GetFile(path string) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	c, ok := r.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return c, nil
}

func (r *fakeRepository) GetFiles(path string) (map[string][]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := map[string][]byte{}
	for p, c := range r.files {
		if rel, err := filepath.Rel(path, p); err == nil && rel != ".." && len(rel) > 0 && rel[0] != '.' {
			out[p] = c
		}
	}
	return out, nil
}

func TestFileCreatesMissingFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app.conf")

	d, err := NewFile("p.star", 1, target, "", "0644", "", []byte("hello\n"), false)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello\n" {
		t.Errorf("expected contents written, got %q", got)
	}
	if !d.Updated() {
		t.Error("expected Updated() true after creating a missing file")
	}
}

func TestFileNoopWhenAlreadyCorrect(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app.conf")
	if err := os.WriteFile(target, []byte("same\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewFile("p.star", 1, target, "", "0644", "", []byte("same\n"), false)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Updated() {
		t.Error("expected Updated() false when content and mode already match")
	}
}

func TestFileMetadataOnlyChangeDoesNotTruncateContent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app.conf")
	if err := os.WriteFile(target, []byte("keep-me\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := NewFile("p.star", 1, target, "", "0644", "", []byte("keep-me\n"), false)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "keep-me\n" {
		t.Errorf("expected content preserved across a mode-only change, got %q", got)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("expected mode 0644, got %o", info.Mode().Perm())
	}
}

func TestFileMakeDirsCreatesParent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "deeper", "app.conf")

	d, err := NewFile("p.star", 1, target, "", "", "", []byte("x"), true)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := os.ReadFile(target); err != nil {
		t.Fatalf("expected file to exist under created parents: %v", err)
	}
}

func TestFileRejectsContentsAndSourceTogether(t *testing.T) {
	_, err := NewFile("p.star", 1, "/tmp/x", "", "", "some/source", []byte("x"), false)
	if err == nil {
		t.Error("expected error when both contents and source are set")
	}
}

func TestFileSourceFetchedFromRepository(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "from-repo.conf")
	repo := &fakeRepository{files: map[string][]byte{"files/app.conf": []byte("from repo\n")}}

	d, err := NewFile("p.star", 1, target, "", "", "files/app.conf", nil, false)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	d.Provision(repo)
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "from repo\n" {
		t.Errorf("expected repo content written, got %q", got)
	}
}

func TestFileDryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app.conf")

	d, err := NewFile("p.star", 1, target, "", "", "", []byte("x"), false)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if _, err := d.Apply(context.Background(), true); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !d.Updated() {
		t.Error("expected Updated() true even in dry run")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("expected dry run not to create the file")
	}
}

func TestRecursiveFilesAppliesEveryEntry(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "dest")
	repo := &fakeRepository{files: map[string][]byte{
		"tree/a.txt":         []byte("a"),
		"tree/sub/b.txt":     []byte("b"),
		"tree/sub/deep/c.txt": []byte("c"),
	}}

	d, err := NewRecursiveFiles("p.star", 1, target, "", "0644", "tree")
	if err != nil {
		t.Fatalf("NewRecursiveFiles: %v", err)
	}
	d.Provision(repo)
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	for rel, want := range map[string]string{
		"a.txt":         "a",
		"sub/b.txt":     "b",
		"sub/deep/c.txt": "c",
	} {
		got, err := os.ReadFile(filepath.Join(target, rel))
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", rel, err)
		}
		if string(got) != want {
			t.Errorf("%s: expected %q, got %q", rel, want, got)
		}
	}
}

func TestRecursiveFilesSummaryKeyedByIndividualTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "dest")
	repo := &fakeRepository{files: map[string][]byte{
		"tree/a.txt": []byte("a"),
		"tree/b.txt": []byte("b"),
	}}

	d, err := NewRecursiveFiles("p.star", 1, target, "", "", "tree")
	if err != nil {
		t.Fatalf("NewRecursiveFiles: %v", err)
	}
	d.Provision(repo)
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	s := d.Summary()
	updated, ok := s["updated"].(Summary)
	if !ok {
		t.Fatalf("expected updated detail map, got %#v", s)
	}
	wantA := filepath.Join(target, "a.txt")
	wantB := filepath.Join(target, "b.txt")
	if _, ok := updated[wantA]; !ok {
		t.Errorf("expected entry keyed by %s", wantA)
	}
	if _, ok := updated[wantB]; !ok {
		t.Errorf("expected entry keyed by %s", wantB)
	}
}
