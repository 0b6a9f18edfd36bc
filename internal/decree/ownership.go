package decree

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"
)

// Ownership is a resolved (uid, gid) pair, either component of which may be
// -1 to mean "leave this one alone" on chown.
type Ownership struct {
	UID int
	GID int
}

// ParseOwner accepts "user", "user:group", "uid", "uid:gid", ":group", or ""
// and resolves it to numeric ids. An empty owner string means "don't
// manage ownership at all" and is reported as (-1, -1).
func ParseOwner(owner string) (Ownership, error) {
	if owner == "" {
		return Ownership{UID: -1, GID: -1}, nil
	}

	ownerPart, groupPart, hasGroup := strings.Cut(owner, ":")

	uid := -1
	var resolvedUser *user.User
	switch {
	case ownerPart == "":
		// no user given, only ":group"
	case isDecimal(ownerPart):
		n, err := strconv.Atoi(ownerPart)
		if err != nil {
			return Ownership{}, fmt.Errorf("invalid uid %q: %w", ownerPart, err)
		}
		uid = n
	default:
		u, err := user.Lookup(ownerPart)
		if err != nil {
			return Ownership{}, fmt.Errorf("unknown user %q: %w", ownerPart, err)
		}
		resolvedUser = u
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return Ownership{}, fmt.Errorf("user %q has non-numeric uid %q", ownerPart, u.Uid)
		}
	}

	gid := -1
	if hasGroup {
		switch {
		case groupPart == "":
			if uid != -1 {
				if resolvedUser == nil {
					u, err := user.LookupId(strconv.Itoa(uid))
					if err != nil {
						return Ownership{}, fmt.Errorf("uid %d has no passwd entry: %w", uid, err)
					}
					resolvedUser = u
				}
				n, err := strconv.Atoi(resolvedUser.Gid)
				if err != nil {
					return Ownership{}, fmt.Errorf("user has non-numeric gid %q", resolvedUser.Gid)
				}
				gid = n
			}
		case isDecimal(groupPart):
			n, err := strconv.Atoi(groupPart)
			if err != nil {
				return Ownership{}, fmt.Errorf("invalid gid %q: %w", groupPart, err)
			}
			gid = n
		default:
			g, err := user.LookupGroup(groupPart)
			if err != nil {
				return Ownership{}, fmt.Errorf("unknown group %q: %w", groupPart, err)
			}
			n, err := strconv.Atoi(g.Gid)
			if err != nil {
				return Ownership{}, fmt.Errorf("group %q has non-numeric gid %q", groupPart, g.Gid)
			}
			gid = n
		}
	}

	return Ownership{UID: uid, GID: gid}, nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseMode accepts an octal string ("0644", "644") and returns the low 12
// bits (permissions + setuid/setgid/sticky), matching S_IMODE. An empty
// string means "don't manage mode", reported as -1.
func ParseMode(mode string) (int, error) {
	if mode == "" {
		return -1, nil
	}
	n, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", mode, err)
	}
	return int(n) & 07777, nil
}
