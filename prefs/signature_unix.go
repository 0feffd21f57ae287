//go:build unix

package prefs

import (
	"io/fs"
	"syscall"
)

func fileIdentity(info fs.FileInfo) (uint64, uint64) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return uint64(st.Dev), uint64(st.Ino)
}
