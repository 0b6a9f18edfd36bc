package decree

import (
	"errors"
	"syscall"
)

func isNotEmptyErr(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY)
}

func chownArgs(o Ownership) (uid, gid int) {
	uid, gid = -1, -1
	if o.UID != -1 {
		uid = o.UID
	}
	if o.GID != -1 {
		gid = o.GID
	}
	return uid, gid
}
