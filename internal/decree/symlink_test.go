package decree

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSymlinkCreatesMissing(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "link")

	d, err := NewSymlink("p.star", 1, target, "", "/etc/motd", false)
	if err != nil {
		t.Fatalf("NewSymlink: %v", err)
	}
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := os.Readlink(target)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if got != "/etc/motd" {
		t.Errorf("expected /etc/motd, got %q", got)
	}
}

func TestSymlinkNoopWhenAlreadyCorrect(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "link")
	if err := os.Symlink("/etc/motd", target); err != nil {
		t.Fatal(err)
	}

	d, err := NewSymlink("p.star", 1, target, "", "/etc/motd", false)
	if err != nil {
		t.Fatalf("NewSymlink: %v", err)
	}
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Updated() {
		t.Error("expected Updated() false when link already points at the right target")
	}
}

func TestSymlinkReplacesWrongTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "link")
	if err := os.Symlink("/etc/wrong", target); err != nil {
		t.Fatal(err)
	}

	d, err := NewSymlink("p.star", 1, target, "", "/etc/motd", false)
	if err != nil {
		t.Fatalf("NewSymlink: %v", err)
	}
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := os.Readlink(target)
	if err != nil {
		t.Fatal(err)
	}
	if got != "/etc/motd" {
		t.Errorf("expected retargeted link, got %q", got)
	}
}

func TestSymlinkUpdateNeededWithNoOwnerManagementStillDetectsCreate(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "link")

	d, err := NewSymlink("p.star", 1, target, "", "/etc/motd", false)
	if err != nil {
		t.Fatalf("NewSymlink: %v", err)
	}
	needed, err := d.UpdateNeeded(context.Background())
	if err != nil {
		t.Fatalf("UpdateNeeded: %v", err)
	}
	if !needed {
		t.Error("expected UpdateNeeded true for a missing symlink even with no owner to manage")
	}
}

func TestDirectoryCreatesMissing(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub")

	d, err := NewDirectory("p.star", 1, target, "", "0755")
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected a directory to have been created")
	}
}

func TestDirectoryReplacesFileAtPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewDirectory("p.star", 1, target, "", "")
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Error("expected the file to be replaced by a directory")
	}
}

func TestPermissionsMissingOKSkipsError(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "missing")

	d, err := NewPermissions("p.star", 1, target, "", "0644", true)
	if err != nil {
		t.Fatalf("NewPermissions: %v", err)
	}
	needed, err := d.UpdateNeeded(context.Background())
	if err != nil {
		t.Fatalf("unexpected error for missing target with MissingOK: %v", err)
	}
	if needed {
		t.Error("expected no update needed for a missing target")
	}
}

func TestPermissionsMissingNotOKErrors(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "missing")

	d, err := NewPermissions("p.star", 1, target, "", "0644", false)
	if err != nil {
		t.Fatalf("NewPermissions: %v", err)
	}
	if _, err := d.UpdateNeeded(context.Background()); err == nil {
		t.Error("expected an error for a missing target without MissingOK")
	}
}

func TestPermissionsChangesMode(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "f")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := NewPermissions("p.star", 1, target, "", "0644", false)
	if err != nil {
		t.Fatalf("NewPermissions: %v", err)
	}
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("expected mode 0644, got %o", info.Mode().Perm())
	}
}

func TestDeleteRemovesExisting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gone")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDelete("p.star", 1, target, false)
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("expected target to be removed")
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "never-existed")

	d := NewDelete("p.star", 1, target, false)
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Updated() {
		t.Error("expected Updated() false for a target that never existed")
	}
}

func TestDeleteNonEmptyDirWithoutForceErrors(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nonempty")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "child"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDelete("p.star", 1, target, false)
	if _, err := d.Apply(context.Background(), false); err == nil {
		t.Error("expected an error removing a non-empty directory without Force")
	}
}

func TestDeleteNonEmptyDirWithForceSucceeds(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nonempty")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "child"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDelete("p.star", 1, target, true)
	if _, err := d.Apply(context.Background(), false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("expected non-empty directory to be removed with Force")
	}
}
