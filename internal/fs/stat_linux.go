//go:build linux

package fs

import (
	"os"
	"syscall"
	"time"
)

// fillFromSys copies the fields only the platform stat structure carries.
func fillFromSys(info os.FileInfo, attr *Attr) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	attr.Atime = time.Unix(st.Atim.Unix())
	attr.Ctime = time.Unix(st.Ctim.Unix())
	attr.Nlink = safeUint64ToUint32(uint64(st.Nlink))
	attr.Uid = st.Uid
	attr.Gid = st.Gid
	attr.Rdev = safeUint64ToUint32(uint64(st.Rdev))
	attr.Blocks = safeInt64ToUint64(st.Blocks)
}
