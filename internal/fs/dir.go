package fs

import (
	"context"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"mapperfs/internal/logging"
	"mapperfs/internal/tree"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is a synthesized directory of the virtual tree.
type Dir struct {
	fs   *MapperFS
	path string
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.path)

	attr, err := d.fs.adapter.Attributes(d.path)
	if err != nil {
		return ToFuseError(err)
	}
	d.fs.fillAttr(d.path, attr, a)
	return nil
}

// Lookup implements the NodeRequestLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, req *fuse.LookupRequest, resp *fuse.LookupResponse) (fusefs.Node, error) {
	childPath := tree.Join(d.path, req.Name)
	dirLogger.Debug("Looking up %q in directory %q", req.Name, d.path)

	node, err := d.fs.adapter.Lookup(childPath)
	if err != nil {
		dirLogger.Trace("Path not found: %q", childPath)
		return nil, ToFuseError(err)
	}

	resp.EntryValid = d.fs.attrValid
	if node.IsDir() {
		return &Dir{fs: d.fs, path: childPath}, nil
	}
	return &File{fs: d.fs, path: childPath}, nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path)

	entries, err := d.fs.adapter.ListDirectory(d.path)
	if err != nil {
		return nil, ToFuseError(err)
	}

	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		dirent := fuse.Dirent{Name: e.Name, Type: fuse.DT_File}
		if e.Dir {
			dirent.Type = fuse.DT_Dir
		}
		switch e.Name {
		case ".":
			dirent.Inode = inode(d.path)
		case "..":
			dirent.Inode = inode(tree.Parent(d.path))
		default:
			dirent.Inode = inode(tree.Join(d.path, e.Name))
		}
		dirents = append(dirents, dirent)
	}

	dirLogger.Trace("Directory %q contains %d entries", d.path, len(dirents))
	return dirents, nil
}

// Access implements the NodeAccesser interface.
func (d *Dir) Access(_ context.Context, req *fuse.AccessRequest) error {
	return ToFuseError(d.fs.adapter.Access(d.path, req.Mask))
}

func (d *Dir) readOnly(op, name string) error {
	dirLogger.Debug("Refusing %s of %q in %q", op, name, d.path)
	d.fs.adapter.record(op, ErrReadOnly)
	return ToFuseError(ErrReadOnly)
}

// Setattr implements the NodeSetattrer interface.
func (d *Dir) Setattr(_ context.Context, _ *fuse.SetattrRequest, _ *fuse.SetattrResponse) error {
	return d.readOnly("setattr", "")
}

// Mkdir implements the NodeMkdirer interface.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	return nil, d.readOnly("mkdir", req.Name)
}

// Create implements the NodeCreater interface.
func (d *Dir) Create(_ context.Context, req *fuse.CreateRequest, _ *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	return nil, nil, d.readOnly("create", req.Name)
}

// Remove implements the NodeRemover interface.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	return d.readOnly("remove", req.Name)
}

// Rename implements the NodeRenamer interface.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, _ fusefs.Node) error {
	return d.readOnly("rename", req.OldName)
}

// Symlink implements the NodeSymlinker interface.
func (d *Dir) Symlink(_ context.Context, req *fuse.SymlinkRequest) (fusefs.Node, error) {
	return nil, d.readOnly("symlink", req.NewName)
}

// Link implements the NodeLinker interface.
func (d *Dir) Link(_ context.Context, req *fuse.LinkRequest, _ fusefs.Node) (fusefs.Node, error) {
	return nil, d.readOnly("link", req.NewName)
}

// Mknod implements the NodeMknoder interface.
func (d *Dir) Mknod(_ context.Context, req *fuse.MknodRequest) (fusefs.Node, error) {
	return nil, d.readOnly("mknod", req.Name)
}

// Setxattr implements the NodeSetxattrer interface.
func (d *Dir) Setxattr(_ context.Context, req *fuse.SetxattrRequest) error {
	return d.readOnly("setxattr", req.Name)
}

// Removexattr implements the NodeRemovexattrer interface.
func (d *Dir) Removexattr(_ context.Context, req *fuse.RemovexattrRequest) error {
	return d.readOnly("removexattr", req.Name)
}
