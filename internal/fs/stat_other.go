//go:build !linux

package fs

import "os"

func fillFromSys(os.FileInfo, *Attr) {}
