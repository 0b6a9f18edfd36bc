package decree

import (
	"bytes"
	"os"
	"syscall"
	"time"
)

// fileAction is the detected delta between a target's on-disk state and the
// desired content/owner/mode: what write(s), if any, bring it into line.
type fileAction struct {
	target   string
	create   bool
	chown    *Ownership
	chmod    *int
	contents []byte
	summary  Summary
}

// needed reports whether applying this action would change anything.
func (a *fileAction) needed() bool {
	return a.create || a.chown != nil || a.chmod != nil || a.contents != nil
}

// apply performs the write, chown, and chmod this action computed, in that
// order. A bare ownership/mode change on an already-correct file never
// rewrites its content — unlike a naive truncate-then-rewrite, this can't
// lose data when only metadata changed.
func (a *fileAction) apply() error {
	if a.contents != nil {
		perm := os.FileMode(0o666)
		if a.chmod != nil {
			perm = os.FileMode(0o600)
		}
		if err := os.WriteFile(a.target, a.contents, perm); err != nil {
			return err
		}
	}
	if a.chown != nil {
		uid, gid := -1, -1
		if a.chown.UID != -1 {
			uid = a.chown.UID
		}
		if a.chown.GID != -1 {
			gid = a.chown.GID
		}
		if err := os.Chown(a.target, uid, gid); err != nil {
			return err
		}
	}
	if a.chmod != nil {
		if err := os.Chmod(a.target, os.FileMode(*a.chmod)); err != nil {
			return err
		}
	}
	return nil
}

func rawMode(info os.FileInfo) int {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int(st.Mode & 07777)
	}
	return int(info.Mode().Perm())
}

func rawOwner(info os.FileInfo) (uid, gid int) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int(st.Uid), int(st.Gid)
	}
	return -1, -1
}

// checkFile compares target's current content, owner, and mode against the
// desired state and returns the action needed to reconcile them. owner.UID/
// GID of -1 mean "don't manage"; mode of -1 means the same.
func checkFile(target string, newContents []byte, owner Ownership, mode int) (*fileAction, error) {
	action := &fileAction{target: target}
	summary := Summary{}

	info, err := os.Lstat(target)
	var oldContents []byte
	var needsChown, needsChmod, needsContents bool

	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		action.create = true
		needsChown = owner.UID != -1 || owner.GID != -1
		needsChmod = mode != -1
		needsContents = true
	} else {
		oldContents, err = os.ReadFile(target)
		if err != nil {
			return nil, err
		}
		uid, gid := rawOwner(info)
		needsChown = (owner.UID != -1 && uid != owner.UID) || (owner.GID != -1 && gid != owner.GID)
		needsChmod = mode != -1 && rawMode(info) != mode
		needsContents = !bytes.Equal(oldContents, newContents)
	}

	if needsChown {
		if owner.UID != -1 {
			ownerSummary := Summary{"new": owner.UID}
			if !action.create {
				oldUID, _ := rawOwner(info)
				ownerSummary["old"] = oldUID
			}
			summary["owner"] = ownerSummary
		}
		if owner.GID != -1 {
			groupSummary := Summary{"new": owner.GID}
			if !action.create {
				_, oldGID := rawOwner(info)
				groupSummary["old"] = oldGID
			}
			summary["group"] = groupSummary
		}
		action.chown = &owner
	}

	if needsChmod {
		modeSummary := Summary{"new": mode}
		if !action.create {
			modeSummary["old"] = rawMode(info)
		}
		summary["mode"] = modeSummary
		m := mode
		action.chmod = &m
	}

	if needsContents {
		action.contents = newContents
		var modTime time.Time
		if info != nil {
			modTime = info.ModTime()
		}
		summary["contents"] = describeContentChange(target, oldContents, newContents, modTime, action.create)
	}

	action.summary = summary
	return action, nil
}
