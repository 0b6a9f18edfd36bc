package decree

import (
	"context"
	"os"
)

// Delete removes a path if it exists. Force permits recursively removing a
// non-empty directory; without it, a non-empty directory is left in place
// and reported as an error.
type Delete struct {
	Base
	Target string
	Force  bool
}

func NewDelete(file string, line int, target string, force bool) *Delete {
	return &Delete{Base: NewBase(file, line), Target: target, Force: force}
}

func (d *Delete) UpdateNeeded(context.Context) (bool, error) {
	_, err := os.Lstat(d.Target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *Delete) Update(context.Context) error {
	err := os.Remove(d.Target)
	if err == nil {
		return nil
	}
	if isNotEmptyErr(err) && d.Force {
		return os.RemoveAll(d.Target)
	}
	return err
}

func (d *Delete) Apply(ctx context.Context, dryRun bool) (Summary, error) {
	return d.Base.Apply(d, ctx, dryRun)
}

func (d *Delete) Summary() Summary { return d.BaseSummary() }
