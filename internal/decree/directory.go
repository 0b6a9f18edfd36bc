package decree

import (
	"context"
	"fmt"
	"os"
)

// Directory manages a directory's existence, owner, and mode, replacing
// whatever non-directory currently occupies the path.
type Directory struct {
	Base
	Target string
	Owner  string
	Mode   string

	resolvedOwner Ownership
	resolvedMode  int
	needsRemove   bool
	needsCreate   bool
	needsChown    bool
	needsChmod    bool
}

func NewDirectory(file string, line int, target, owner, mode string) (*Directory, error) {
	ro, err := ParseOwner(owner)
	if err != nil {
		return nil, fmt.Errorf("directory %s: %w", target, err)
	}
	rm, err := ParseMode(mode)
	if err != nil {
		return nil, fmt.Errorf("directory %s: %w", target, err)
	}
	return &Directory{
		Base:          NewBase(file, line),
		Target:        target,
		Owner:         owner,
		Mode:          mode,
		resolvedOwner: ro,
		resolvedMode:  rm,
	}, nil
}

func (d *Directory) UpdateNeeded(context.Context) (bool, error) {
	uid, gid := d.resolvedOwner.UID, d.resolvedOwner.GID
	mode := d.resolvedMode

	info, err := os.Lstat(d.Target)
	switch {
	case err != nil && !os.IsNotExist(err):
		return false, err
	case err != nil:
		d.needsCreate = true
	case info.IsDir():
		ownerUID, ownerGID := rawOwner(info)
		d.needsChown = (uid != -1 && ownerUID != uid) || (gid != -1 && ownerGID != gid)
		d.needsChmod = mode != -1 && rawMode(info) != mode
	default:
		d.needsRemove = true
		d.needsCreate = true
	}

	if d.needsCreate {
		d.needsChown = uid != -1 || gid != -1
		d.needsChmod = mode != -1
	}

	return d.needsCreate || d.needsChown || d.needsChmod, nil
}

func (d *Directory) Update(context.Context) error {
	if d.needsRemove {
		if err := os.Remove(d.Target); err != nil {
			return err
		}
	}
	if d.needsCreate {
		perm := os.FileMode(0o755)
		if d.needsChmod {
			perm = 0o700
		}
		if err := os.Mkdir(d.Target, perm); err != nil {
			return err
		}
	}
	if d.needsChown {
		uid, gid := chownArgs(d.resolvedOwner)
		if err := os.Chown(d.Target, uid, gid); err != nil {
			return err
		}
	}
	if d.needsChmod {
		if err := os.Chmod(d.Target, os.FileMode(d.resolvedMode)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Directory) Apply(ctx context.Context, dryRun bool) (Summary, error) {
	return d.Base.Apply(d, ctx, dryRun)
}

func (d *Directory) Summary() Summary { return d.BaseSummary() }
