package decree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// File manages the content, owner, and mode of a single target path.
// Content comes from either Contents (a literal payload) or Source (a
// repository-relative path fetched during Provision); setting both is an
// error.
type File struct {
	Base
	Target   string
	Owner    string
	Mode     string
	Source   string
	Contents []byte
	MakeDirs bool

	resolvedOwner Ownership
	resolvedMode  int
	sourceContent []byte
	provisionErr  error
	action        *fileAction
}

// NewFile validates and constructs a File decree. owner/mode follow
// ParseOwner/ParseMode syntax; pass "" for either to leave it unmanaged.
func NewFile(file string, line int, target, owner, mode, source string, contents []byte, makeDirs bool) (*File, error) {
	if source != "" && contents != nil {
		return nil, fmt.Errorf("file %s: must set either contents or source, not both", target)
	}
	ro, err := ParseOwner(owner)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", target, err)
	}
	rm, err := ParseMode(mode)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", target, err)
	}
	return &File{
		Base:          NewBase(file, line),
		Target:        target,
		Owner:         owner,
		Mode:          mode,
		Source:        source,
		Contents:      contents,
		MakeDirs:      makeDirs,
		resolvedOwner: ro,
		resolvedMode:  rm,
	}, nil
}

func (d *File) Provision(repo Repository) {
	if d.Source == "" {
		return
	}
	content, err := repo.GetFile(d.Source)
	if err != nil {
		d.provisionErr = fmt.Errorf("file %s: fetching %s: %w", d.Target, d.Source, err)
		return
	}
	d.sourceContent = content
}

func (d *File) computedContents() []byte {
	if d.Contents != nil {
		return d.Contents
	}
	return d.sourceContent
}

func (d *File) UpdateNeeded(context.Context) (bool, error) {
	if d.provisionErr != nil {
		return false, d.provisionErr
	}
	action, err := checkFile(d.Target, d.computedContents(), d.resolvedOwner, d.resolvedMode)
	if err != nil {
		return false, err
	}
	d.action = action
	return action.needed(), nil
}

func (d *File) Update(context.Context) error {
	if d.MakeDirs {
		if err := d.action.apply(); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(d.Target), 0o755); err != nil {
				return err
			}
			return d.action.apply()
		}
		return nil
	}
	return d.action.apply()
}

func (d *File) Apply(ctx context.Context, dryRun bool) (Summary, error) {
	return d.Base.Apply(d, ctx, dryRun)
}

func (d *File) Summary() Summary {
	s := d.BaseSummary()
	if d.action != nil && len(d.action.summary) > 0 {
		s["updated"] = d.action.summary
	}
	return s
}

// RecursiveFiles mirrors an entire repository directory tree under Target,
// fetching every file under Source during Provision and reconciling each
// one independently.
type RecursiveFiles struct {
	Base
	Target string
	Owner  string
	Mode   string
	Source string

	resolvedOwner Ownership
	resolvedMode  int
	files         map[string][]byte
	provisionErr  error
	actions       []*fileAction
}

func NewRecursiveFiles(file string, line int, target, owner, mode, source string) (*RecursiveFiles, error) {
	ro, err := ParseOwner(owner)
	if err != nil {
		return nil, fmt.Errorf("recursive files %s: %w", target, err)
	}
	rm, err := ParseMode(mode)
	if err != nil {
		return nil, fmt.Errorf("recursive files %s: %w", target, err)
	}
	return &RecursiveFiles{
		Base:          NewBase(file, line),
		Target:        target,
		Owner:         owner,
		Mode:          mode,
		Source:        source,
		resolvedOwner: ro,
		resolvedMode:  rm,
	}, nil
}

func (d *RecursiveFiles) Provision(repo Repository) {
	if d.Source == "" {
		return
	}
	files, err := repo.GetFiles(d.Source)
	if err != nil {
		d.provisionErr = fmt.Errorf("recursive files %s: fetching %s: %w", d.Target, d.Source, err)
		return
	}
	d.files = files
}

func (d *RecursiveFiles) UpdateNeeded(context.Context) (bool, error) {
	if d.provisionErr != nil {
		return false, d.provisionErr
	}
	var actions []*fileAction
	for filename, contents := range d.files {
		rel, err := filepath.Rel(d.Source, filename)
		if err != nil {
			return false, fmt.Errorf("recursive files %s: %w", d.Target, err)
		}
		targetPath := filepath.Join(d.Target, rel)
		action, err := checkFile(targetPath, contents, d.resolvedOwner, d.resolvedMode)
		if err != nil {
			return false, err
		}
		if action.needed() {
			actions = append(actions, action)
		}
	}
	sortActionsByTarget(actions)
	d.actions = actions
	return len(actions) > 0, nil
}

func (d *RecursiveFiles) Update(context.Context) error {
	existing := map[string]bool{}
	if info, err := os.Stat(d.Target); err == nil && info.IsDir() {
		existing[filepath.Clean(d.Target)] = true
	}
	for _, a := range d.actions {
		if a.create {
			continue
		}
		for p := filepath.Dir(a.target); !existing[p]; {
			existing[p] = true
			parent := filepath.Dir(p)
			if parent == p {
				break
			}
			p = parent
		}
	}

	for _, a := range d.actions {
		if err := a.apply(); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return err
		}

		var create []string
		p := filepath.Dir(a.target)
		for !existing[p] {
			create = append(create, p)
			parent := filepath.Dir(p)
			if parent == p {
				break
			}
			p = parent
		}
		for i := len(create) - 1; i >= 0; i-- {
			if err := os.Mkdir(create[i], 0o755); err != nil && !os.IsExist(err) {
				return err
			}
			existing[create[i]] = true
		}
		if err := a.apply(); err != nil {
			return err
		}
	}
	return nil
}

func (d *RecursiveFiles) Apply(ctx context.Context, dryRun bool) (Summary, error) {
	return d.Base.Apply(d, ctx, dryRun)
}

func (d *RecursiveFiles) Summary() Summary {
	s := d.BaseSummary()
	if len(d.actions) > 0 {
		detail := Summary{}
		for _, a := range d.actions {
			detail[a.target] = a.summary
		}
		s["updated"] = detail
	}
	return s
}

func sortActionsByTarget(actions []*fileAction) {
	for i := 1; i < len(actions); i++ {
		for j := i; j > 0 && actions[j-1].target > actions[j].target; j-- {
			actions[j-1], actions[j] = actions[j], actions[j-1]
		}
	}
}
