package fs

import (
	"context"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"mapperfs/internal/logging"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File is a virtual path redirecting to a source file. The source is looked
// up again on every request.
type File struct {
	fs   *MapperFS
	path string
}

// Attr implements the Node interface, returning the source file's attributes.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for file: %q", f.path)

	attr, err := f.fs.adapter.Attributes(f.path)
	if err != nil {
		fileLogger.Debug("Getattr %q: %v", f.path, err)
		return ToFuseError(err)
	}
	f.fs.fillAttr(f.path, attr, a)

	fileLogger.Trace("File attributes: mode=%v, size=%d, mtime=%v",
		a.Mode, a.Size, a.Mtime)
	return nil
}

// Open implements the NodeOpener interface, opening the source file.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, _ *fuse.OpenResponse) (fusefs.Handle, error) {
	fileLogger.Debug("Opening file %q with flags %v", f.path, req.Flags)

	h, err := f.fs.adapter.Open(f.path, int(req.Flags))
	if err != nil {
		fileLogger.Debug("Open %q: %v", f.path, err)
		return nil, ToFuseError(err)
	}
	return &FileHandle{fs: f.fs, handle: h}, nil
}

// Access implements the NodeAccesser interface.
func (f *File) Access(_ context.Context, req *fuse.AccessRequest) error {
	return ToFuseError(f.fs.adapter.Access(f.path, req.Mask))
}

// Setattr implements the NodeSetattrer interface.
func (f *File) Setattr(_ context.Context, _ *fuse.SetattrRequest, _ *fuse.SetattrResponse) error {
	fileLogger.Debug("Refusing setattr of %q", f.path)
	f.fs.adapter.record("setattr", ErrReadOnly)
	return ToFuseError(ErrReadOnly)
}

// Fsync implements the NodeFsyncer interface. There is nothing to flush.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	return nil
}

// FileHandle is an open source file.
type FileHandle struct {
	fs     *MapperFS
	handle *Handle
}

// Read implements the HandleReader interface, reading data from the source.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes from file %q at offset %d",
		req.Size, fh.handle.Path(), req.Offset)

	data, err := fh.fs.adapter.Read(fh.handle, req.Offset, req.Size)
	if err != nil {
		fileLogger.Error("Failed to read from file: %v", err)
		return ToFuseError(err)
	}
	resp.Data = data
	return nil
}

// Write implements the HandleWriter interface.
func (fh *FileHandle) Write(_ context.Context, _ *fuse.WriteRequest, _ *fuse.WriteResponse) error {
	fh.fs.adapter.record(OpWrite, ErrReadOnly)
	return ToFuseError(ErrReadOnly)
}

// Release implements the HandleReleaser interface, closing the source.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fileLogger.Debug("Closing file %q", fh.handle.Path())
	return ToFuseError(fh.fs.adapter.Release(fh.handle))
}
