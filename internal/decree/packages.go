package decree

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Packages reconciles a Debian/Ubuntu host's installed package set against
// a desired install/remove map via dpkg-query and apt-get.
type Packages struct {
	Base
	// Install maps a package (optionally "name:arch") to true (install it
	// if missing) or false (remove it if present). A package absent from
	// the map is left alone entirely.
	Install    map[string]bool
	Purge      *bool
	Recommends *bool
	Update     bool
	Clean      bool
	Gentle     bool

	Runner CommandRunner

	installSet []string
	removeSet  []string
}

// NewPackages constructs a Packages decree with update taken as given. The
// Packages policy builtin passes update=true unless the policy overrides
// it, matching the reference implementation's default of always refreshing
// the package index before installing something new.
func NewPackages(file string, line int, install map[string]bool, purge, recommends *bool, update, clean, gentle bool, runner CommandRunner) *Packages {
	if runner == nil {
		runner = OSCommandRunner{}
	}
	return &Packages{
		Base:       NewBase(file, line),
		Install:    install,
		Purge:      purge,
		Recommends: recommends,
		Update:     update,
		Clean:      clean,
		Gentle:     gentle,
		Runner:     runner,
	}
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func (d *Packages) installedSet(ctx context.Context) (map[string]bool, error) {
	archOut, err := d.Runner.Output(ctx, "dpkg", []string{"--print-architecture"}, nil)
	if err != nil {
		return nil, fmt.Errorf("dpkg --print-architecture: %w", err)
	}
	nativeArch := strings.TrimSpace(archOut)
	defaultArchs := map[string]bool{nativeArch: true, "all": true}

	found := map[string]bool{}

	if d.Gentle {
		out, err := d.Runner.Output(ctx, "apt-mark", []string{"showmanual"}, nil)
		if err != nil {
			return nil, fmt.Errorf("apt-mark showmanual: %w", err)
		}
		for _, fullname := range splitLines(out) {
			name, arch, hasArch := strings.Cut(fullname, ":")
			if hasArch {
				found[fullname] = true
				if defaultArchs[arch] {
					found[name] = true
				}
			} else {
				found[name] = true
				for a := range defaultArchs {
					found[fmt.Sprintf("%s:%s", name, a)] = true
				}
			}
		}
		return found, nil
	}

	out, err := d.Runner.Output(ctx, "dpkg-query", []string{
		"-f", "${Package} ${Architecture} ${Version} ${Status} ${Essential}\n", "-W",
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("dpkg-query: %w", err)
	}
	for _, line := range splitLines(out) {
		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}
		name, arch, errState, status := fields[0], fields[1], fields[4], fields[5]
		if errState != "ok" {
			return nil, fmt.Errorf("package %s:%s is in error state %s", name, arch, errState)
		}
		switch status {
		case "installed":
			found[fmt.Sprintf("%s:%s", name, arch)] = true
			if defaultArchs[arch] {
				found[name] = true
			}
		case "config-files":
			// purged-but-not-removed; treated as absent
		default:
			return nil, fmt.Errorf("package %s:%s has unknown status %q", name, arch, status)
		}
	}
	return found, nil
}

func (d *Packages) computeInstallRemove(ctx context.Context) ([]string, []string, error) {
	found, err := d.installedSet(ctx)
	if err != nil {
		return nil, nil, err
	}
	var install, remove []string
	for pkg, want := range d.Install {
		if want {
			if !found[pkg] {
				install = append(install, pkg)
			}
		} else if found[pkg] {
			remove = append(remove, pkg)
		}
	}
	sort.Strings(install)
	sort.Strings(remove)
	return install, remove, nil
}

func (d *Packages) UpdateNeeded(ctx context.Context) (bool, error) {
	install, remove, err := d.computeInstallRemove(ctx)
	if err != nil {
		return false, err
	}
	d.installSet, d.removeSet = install, remove
	return len(install) > 0 || len(remove) > 0, nil
}

func (d *Packages) Update(ctx context.Context) error {
	install, remove := d.installSet, d.removeSet

	run := func(name string, args []string, env []string) error {
		_, err := d.Runner.Output(ctx, name, args, env)
		return err
	}

	if d.Clean {
		if err := run("apt-get", []string{"clean"}, nil); err != nil {
			return err
		}
	}
	if len(install) > 0 && d.Update {
		if err := run("apt-get", []string{"-qq", "update"}, nil); err != nil {
			return err
		}
	}

	env := []string{"UCF_FORCE_CONFFOLD=1", "DEBIAN_FRONTEND=noninteractive"}

	options := []string{"--option=Dpkg::Options::=--force-confold", "-qy"}
	if len(remove) > 0 && d.Purge != nil {
		if *d.Purge {
			options = append(options, "--purge")
		} else {
			options = append(options, "--no-purge")
		}
	}
	if d.Recommends != nil {
		if *d.Recommends {
			options = append(options, "--install-recommends")
		} else {
			options = append(options, "--no-install-recommends")
		}
	}

	if d.Gentle {
		if len(remove) > 0 {
			if err := run("apt-mark", append([]string{"auto"}, remove...), nil); err != nil {
				return err
			}
			options = append(options, "--auto-remove")
		}
		args := append(append([]string{}, options...), "install")
		args = append(args, install...)
		if err := run("apt-get", args, env); err != nil {
			return err
		}
	} else {
		args := append(append([]string{}, options...), "install")
		args = append(args, install...)
		for _, pkg := range remove {
			args = append(args, pkg+"-")
		}
		if err := run("apt-get", args, env); err != nil {
			return err
		}
	}

	if len(install) > 0 && d.Clean {
		if err := run("apt-get", []string{"clean"}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (d *Packages) Apply(ctx context.Context, dryRun bool) (Summary, error) {
	return d.Base.Apply(d, ctx, dryRun)
}

func (d *Packages) Summary() Summary {
	s := d.BaseSummary()
	detail := Summary{}
	if len(d.installSet) > 0 {
		detail["install"] = d.installSet
	}
	if len(d.removeSet) > 0 {
		detail["remove"] = d.removeSet
	}
	if len(detail) > 0 {
		s["updated"] = detail
	}
	return s
}
