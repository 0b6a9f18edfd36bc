package decree

import (
	"context"
	"fmt"
	"strings"
)

// Service reconciles a systemd unit's enable/active/mask state and,
// optionally, reloads or restarts it once the rest of a policy run has
// changed the files it depends on.
type Service struct {
	Base
	Unit    string
	Reload  bool
	Restart bool
	Enable  *bool
	Active  *bool
	Mask    *bool

	Runner CommandRunner

	changeEnable *bool
	changeActive *bool
	changeMask   *bool
	wasActive    bool
}

func boolDeref(p *bool) bool   { return p != nil && *p }
func boolIsFalse(p *bool) bool { return p != nil && !*p }

// NewService constructs a Service decree, rejecting combinations that can
// never be satisfied: a masked unit can't also be enabled or activated,
// and a unit being deactivated can't also be reloaded or restarted.
func NewService(file string, line int, unit string, reload, restart bool, enable, active, mask *bool, runner CommandRunner) (*Service, error) {
	if runner == nil {
		runner = OSCommandRunner{}
	}
	if boolDeref(mask) && (boolDeref(enable) || boolDeref(active)) {
		return nil, fmt.Errorf("service %s: masked units can't be enabled or activated", unit)
	}
	if boolIsFalse(active) && (reload || restart) {
		return nil, fmt.Errorf("service %s: deactivated units can't be reloaded or restarted", unit)
	}
	return &Service{
		Base:    NewBase(file, line),
		Unit:    unit,
		Reload:  reload,
		Restart: restart,
		Enable:  enable,
		Active:  active,
		Mask:    mask,
		Runner:  runner,
	}, nil
}

// systemctlIsEnabled mirrors `systemctl is-enabled <unit>`: a non-zero exit
// with empty stdout and returncode 1 means the unit is simply disabled (or
// doesn't exist yet), anything else unexpected is an error.
func (d *Service) systemctlIsEnabled(ctx context.Context) (string, error) {
	out, code, err := d.Runner.Run(ctx, "systemctl", []string{"is-enabled", d.Unit})
	if err != nil {
		return "", err
	}
	if out == "" && code != 0 {
		if code == 1 {
			return "disabled", nil
		}
		return "", fmt.Errorf("systemctl is-enabled %s: exit %d", d.Unit, code)
	}
	return out, nil
}

// systemctlIsActive mirrors `systemctl is-active --quiet <unit>`: exit 0
// means active, exit 3 means inactive, anything else is an error.
func (d *Service) systemctlIsActive(ctx context.Context) (bool, error) {
	_, code, err := d.Runner.Run(ctx, "systemctl", []string{"is-active", "--quiet", d.Unit})
	if err != nil {
		return false, err
	}
	switch code {
	case 0:
		return true, nil
	case 3:
		return false, nil
	default:
		return false, fmt.Errorf("systemctl is-active %s: exit %d", d.Unit, code)
	}
}

func (d *Service) UpdateNeeded(ctx context.Context) (bool, error) {
	d.changeEnable, d.changeActive, d.changeMask = nil, nil, nil
	d.wasActive = false

	if d.Enable != nil || d.Mask != nil {
		enabled, err := d.systemctlIsEnabled(ctx)
		if err != nil {
			return false, err
		}
		if d.Mask != nil {
			want := *d.Mask
			if (enabled == "masked") != want {
				v := want
				d.changeMask = &v
			}
		}
		if d.Enable != nil {
			want := *d.Enable
			if enabled == "masked" || (enabled == "enabled") != want {
				v := want
				d.changeEnable = &v
			}
		}
	}

	if d.Active != nil || d.Reload || d.Restart {
		active, err := d.systemctlIsActive(ctx)
		if err != nil {
			return false, err
		}
		if active {
			d.wasActive = true
		}
		if d.Active != nil && *d.Active != active {
			v := *d.Active
			d.changeActive = &v
		}
	}

	return d.changeMask != nil || d.changeEnable != nil || d.changeActive != nil, nil
}

func (d *Service) Update(ctx context.Context) error {
	run := func(args ...string) error {
		_, err := d.Runner.Output(ctx, "systemctl", args, nil)
		return err
	}

	if d.changeMask != nil {
		if *d.changeMask {
			if err := run("mask", d.Unit); err != nil {
				return err
			}
		} else {
			if err := run("unmask", d.Unit); err != nil {
				return err
			}
			// Unmasking can reveal a unit that was already enabled before
			// it was masked; re-check so we don't issue a redundant enable.
			if d.changeEnable != nil {
				enabled, err := d.systemctlIsEnabled(ctx)
				if err != nil {
					return err
				}
				if enabled == "enabled" && *d.changeEnable {
					d.changeEnable = nil
				}
			}
		}
	}

	if d.changeEnable != nil || d.changeActive != nil {
		var args []string
		switch {
		case d.changeEnable != nil && *d.changeEnable:
			args = []string{"enable"}
			if d.changeActive != nil && *d.changeActive {
				args = append(args, "--now")
			}
		case d.changeEnable != nil && !*d.changeEnable:
			args = []string{"disable"}
			if d.changeActive != nil && !*d.changeActive {
				args = append(args, "--now")
			}
		case d.changeActive != nil && *d.changeActive:
			args = []string{"start"}
		default:
			args = []string{"stop"}
		}
		args = append(args, d.Unit)
		if err := run(args...); err != nil {
			return err
		}
	}

	return nil
}

// ShouldActivate suppresses reload/restart when a start/stop/enable/disable
// just ran (nothing more to do), or when the unit wasn't active to begin
// with (there's nothing running to reload or restart).
func (d *Service) ShouldActivate() bool {
	if !d.Reload && !d.Restart {
		return false
	}
	if d.changeActive != nil {
		return false
	}
	if !d.wasActive {
		return false
	}
	return true
}

func (d *Service) Activate(ctx context.Context) error {
	var method string
	switch {
	case d.Reload && d.Restart:
		method = "try-reload-or-restart"
	case d.Reload:
		method = "reload"
	default:
		method = "try-restart"
	}
	_, err := d.Runner.Output(ctx, "systemctl", []string{method, d.Unit}, nil)
	return err
}

func (d *Service) Apply(ctx context.Context, dryRun bool) (Summary, error) {
	return d.Base.Apply(d, ctx, dryRun)
}

func (d *Service) Summary() Summary {
	s := d.BaseSummary()

	detail := Summary{}
	if d.changeEnable != nil {
		detail["enable"] = *d.changeEnable
	}
	if d.changeActive != nil {
		detail["active"] = *d.changeActive
	}
	if d.changeMask != nil {
		detail["mask"] = *d.changeMask
	}
	if len(detail) > 0 {
		s["updated"] = detail
	}

	if d.Activated() {
		var methods []string
		if d.Reload {
			methods = append(methods, "reload")
		}
		if d.Restart {
			methods = append(methods, "restart")
		}
		s["activated"] = strings.Join(methods, "-or-")
	}

	return s
}
