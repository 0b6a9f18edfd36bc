package decree

import (
	"context"
	"fmt"
	"os"
)

// Symlink manages a symbolic link's target path and owner, replacing
// whatever currently occupies the path (file, directory, or a link
// pointing elsewhere) if it doesn't already match.
type Symlink struct {
	Base
	Target   string
	Owner    string
	Contents string
	Force    bool

	resolvedOwner Ownership
	needsRemove   bool
	needsCreate   bool
	needsChown    bool
}

func NewSymlink(file string, line int, target, owner, contents string, force bool) (*Symlink, error) {
	ro, err := ParseOwner(owner)
	if err != nil {
		return nil, fmt.Errorf("symlink %s: %w", target, err)
	}
	return &Symlink{
		Base:          NewBase(file, line),
		Target:        target,
		Owner:         owner,
		Contents:      contents,
		Force:         force,
		resolvedOwner: ro,
	}, nil
}

func (d *Symlink) UpdateNeeded(context.Context) (bool, error) {
	uid, gid := d.resolvedOwner.UID, d.resolvedOwner.GID

	info, err := os.Lstat(d.Target)
	switch {
	case err != nil && !os.IsNotExist(err):
		return false, err
	case err != nil:
		d.needsCreate = true
	case info.Mode()&os.ModeSymlink != 0:
		link, rerr := os.Readlink(d.Target)
		if rerr != nil {
			return false, rerr
		}
		if link == d.Contents {
			ownerUID, ownerGID := rawOwner(info)
			d.needsChown = (uid != -1 && ownerUID != uid) || (gid != -1 && ownerGID != gid)
		} else {
			d.needsRemove = true
		}
	default:
		d.needsRemove = true
	}

	if d.needsRemove {
		d.needsCreate = true
	}
	if d.needsCreate {
		d.needsChown = uid != -1 || gid != -1
	}

	return d.needsCreate || d.needsRemove || d.needsChown, nil
}

func (d *Symlink) Update(context.Context) error {
	if d.needsRemove {
		if err := os.Remove(d.Target); err != nil {
			if isNotEmptyErr(err) && d.Force {
				if err := os.RemoveAll(d.Target); err != nil {
					return err
				}
			} else {
				return err
			}
		}
	}
	if d.needsCreate {
		if err := os.Symlink(d.Contents, d.Target); err != nil {
			return err
		}
	}
	if d.needsChown {
		uid, gid := chownArgs(d.resolvedOwner)
		if err := os.Lchown(d.Target, uid, gid); err != nil {
			return err
		}
	}
	return nil
}

func (d *Symlink) Apply(ctx context.Context, dryRun bool) (Summary, error) {
	return d.Base.Apply(d, ctx, dryRun)
}

func (d *Symlink) Summary() Summary { return d.BaseSummary() }
