package fs

import (
	"bazil.org/fuse/fs"

	"mapperfs/internal/tree"
)

// Snapshots provides the tree currently in service. Every call may return a
// different snapshot; callers load once per operation.
type Snapshots interface {
	Current() *tree.Snapshot
}

// Directory is the set of FUSE interfaces a virtual directory answers.
// Mutating operations all fail with EROFS.
type Directory interface {
	fs.Node
	fs.NodeRequestLookuper
	fs.HandleReadDirAller
	fs.NodeAccesser
	fs.NodeSetattrer
	fs.NodeMkdirer
	fs.NodeCreater
	fs.NodeRemover
	fs.NodeRenamer
	fs.NodeSymlinker
	fs.NodeLinker
	fs.NodeMknoder
	fs.NodeSetxattrer
	fs.NodeRemovexattrer
}

// FileInterface represents a mapped file.
type FileInterface interface {
	fs.Node
	fs.NodeOpener
	fs.NodeAccesser
	fs.NodeSetattrer
	fs.NodeFsyncer
}

// FileHandleInterface represents an open file handle.
type FileHandleInterface interface {
	fs.Handle
	fs.HandleReader
	fs.HandleWriter
	fs.HandleReleaser
}

var (
	_ fs.FS               = (*MapperFS)(nil)
	_ fs.FSStatfser       = (*MapperFS)(nil)
	_ Directory           = (*Dir)(nil)
	_ FileInterface       = (*File)(nil)
	_ FileHandleInterface = (*FileHandle)(nil)
)
