package decree

import (
	"context"
	"fmt"
	"os"
)

// Permissions manages only the owner and mode of an existing path, neither
// creating nor removing it. MissingOK controls whether a missing target is
// an error or a silent no-op.
type Permissions struct {
	Base
	Target    string
	Owner     string
	Mode      string
	MissingOK bool

	resolvedOwner Ownership
	resolvedMode  int
	needsChown    bool
	needsChmod    bool
}

func NewPermissions(file string, line int, target, owner, mode string, missingOK bool) (*Permissions, error) {
	ro, err := ParseOwner(owner)
	if err != nil {
		return nil, fmt.Errorf("permissions %s: %w", target, err)
	}
	rm, err := ParseMode(mode)
	if err != nil {
		return nil, fmt.Errorf("permissions %s: %w", target, err)
	}
	return &Permissions{
		Base:          NewBase(file, line),
		Target:        target,
		Owner:         owner,
		Mode:          mode,
		MissingOK:     missingOK,
		resolvedOwner: ro,
		resolvedMode:  rm,
	}, nil
}

func (d *Permissions) UpdateNeeded(context.Context) (bool, error) {
	info, err := os.Lstat(d.Target)
	if err != nil {
		if os.IsNotExist(err) && d.MissingOK {
			return false, nil
		}
		return false, err
	}

	uid, gid := d.resolvedOwner.UID, d.resolvedOwner.GID
	mode := d.resolvedMode
	ownerUID, ownerGID := rawOwner(info)
	d.needsChown = (uid != -1 && ownerUID != uid) || (gid != -1 && ownerGID != gid)
	d.needsChmod = mode != -1 && rawMode(info) != mode
	return d.needsChown || d.needsChmod, nil
}

func (d *Permissions) Update(context.Context) error {
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

func (d *Permissions) Apply(ctx context.Context, dryRun bool) (Summary, error) {
	return d.Base.Apply(d, ctx, dryRun)
}

func (d *Permissions) Summary() Summary { return d.BaseSummary() }
