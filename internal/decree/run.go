package decree

import (
	"context"
	"fmt"
)

// Run executes a command whenever the policy it belongs to activates,
// independent of whether anything else actually changed. Set Shell for a
// one-line `/bin/sh -ec` script, or Args for a direct argv invocation with
// no shell involved.
type Run struct {
	Base
	Shell string
	Args  []string

	// ActivateIf gates whether this decree activates at all, mirroring
	// the reference implementation's activate_if override. Nil means
	// "always activate", matching the default of True.
	ActivateIf *bool

	Runner CommandRunner
}

func NewRun(file string, line int, shell string, args []string, activateIf *bool, runner CommandRunner) (*Run, error) {
	if (shell == "") == (len(args) == 0) {
		return nil, fmt.Errorf("run decree needs exactly one of a shell command or an argv")
	}
	if runner == nil {
		runner = OSCommandRunner{}
	}
	return &Run{
		Base:       NewBase(file, line),
		Shell:      shell,
		Args:       args,
		ActivateIf: activateIf,
		Runner:     runner,
	}, nil
}

func (d *Run) ShouldActivate() bool {
	if d.ActivateIf == nil {
		return true
	}
	return *d.ActivateIf
}

func (d *Run) Activate(ctx context.Context) error {
	var name string
	var args []string
	if d.Shell != "" {
		name = "/bin/sh"
		args = []string{"-ec", d.Shell, d.Name()}
	} else {
		name = d.Args[0]
		args = d.Args[1:]
	}
	_, err := d.Runner.Output(ctx, name, args, nil)
	return err
}

func (d *Run) Apply(ctx context.Context, dryRun bool) (Summary, error) {
	return d.Base.Apply(d, ctx, dryRun)
}

func (d *Run) Summary() Summary { return d.BaseSummary() }
