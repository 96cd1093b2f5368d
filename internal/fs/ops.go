package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maruel/natural"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"mapperfs/internal/logging"
	"mapperfs/internal/metrics"
	"mapperfs/internal/tree"
)

var (
	opsLogger = logging.GetLogger().WithPrefix("ops")
)

const (
	blockSize = 4096
	nameMax   = 255

	// writeFlags are the open flags that would modify a file.
	writeFlags = unix.O_WRONLY | unix.O_RDWR | unix.O_APPEND | unix.O_CREAT | unix.O_TRUNC
)

// Attr holds the attributes reported for a virtual path.
type Attr struct {
	Mode   os.FileMode
	Size   uint64
	Blocks uint64
	Nlink  uint32
	Uid    uint32
	Gid    uint32
	Rdev   uint32
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
}

// DirEntry is one name in a directory listing.
type DirEntry struct {
	Name string
	Dir  bool
}

// StatfsInfo holds the synthetic totals reported for the mount.
type StatfsInfo struct {
	Files     uint64
	BlockSize uint32
	NameLen   uint32
}

// Handle is an open source file. It stays readable after a rebuild removes
// its virtual path, until released.
type Handle struct {
	file   afero.File
	path   string
	source string
	mu     sync.Mutex
	closed bool
}

// Path returns the virtual path the handle was opened through.
func (h *Handle) Path() string {
	return h.path
}

// Adapter answers filesystem queries against the current snapshot. It is
// independent of the FUSE transport; every method loads the snapshot once
// and works on that consistent view.
type Adapter struct {
	fs      afero.Fs
	trees   Snapshots
	uid     uint32
	gid     uint32
	metrics *metrics.Metrics
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithOwner sets the owner reported for synthesized directories.
func WithOwner(uid, gid uint32) AdapterOption {
	return func(a *Adapter) {
		a.uid = uid
		a.gid = gid
	}
}

// WithMetrics records operation outcomes in m.
func WithMetrics(m *metrics.Metrics) AdapterOption {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// NewAdapter returns an adapter reading sources through fs.
func NewAdapter(fs afero.Fs, trees Snapshots, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		fs:    fs,
		trees: trees,
		uid:   safeIntToUint32(os.Geteuid()),
		gid:   safeIntToUint32(os.Getegid()),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) record(op string, err error) {
	a.metrics.Operation(op, resultLabel(err))
}

// target is a resolved virtual path. info is nil for synthesized
// directories and for sources that could not be stat'ed.
type target struct {
	tree.Node
	info os.FileInfo
}

// synthesized reports whether the target is a directory of the snapshot
// itself rather than a directory on the host.
func (t target) synthesized() bool {
	return t.IsDir() && t.Source == ""
}

// resolve finds p in snap. Paths below a listed source directory resolve to
// the host entry underneath it. A source that is itself a directory is
// reported as one.
func (a *Adapter) resolve(snap *tree.Snapshot, op, p string) (target, error) {
	if snap == nil {
		return target{}, NewFSError(op, p, ErrPathNotFound)
	}

	node, ok := snap.Lookup(p)
	passThrough := false
	if !ok {
		if node, ok = underSource(snap, p); !ok {
			return target{}, NewFSError(op, p, ErrPathNotFound)
		}
		passThrough = true
	}
	if node.IsDir() {
		return target{Node: node}, nil
	}

	info, err := a.fs.Stat(node.Source)
	if err != nil {
		if passThrough {
			return target{}, NewFSError(op, p, ErrPathNotFound)
		}
		return target{Node: node}, nil
	}
	if info.IsDir() {
		node.Kind = tree.Directory
	}
	return target{Node: node, info: info}, nil
}

// underSource walks up from p to the nearest snapshot node. When that node
// is a file, the rest of p is taken relative to its source on the host.
func underSource(snap *tree.Snapshot, p string) (tree.Node, bool) {
	p = tree.Clean(p)
	for dir := tree.Parent(p); ; dir = tree.Parent(dir) {
		anc, ok := snap.Lookup(dir)
		if ok {
			if anc.IsDir() {
				return tree.Node{}, false
			}
			rel := strings.TrimPrefix(p, dir+"/")
			return tree.Node{
				Kind:   tree.File,
				Name:   tree.Base(p),
				Source: filepath.Join(anc.Source, filepath.FromSlash(rel)),
			}, true
		}
		if tree.IsRoot(dir) {
			return tree.Node{}, false
		}
	}
}

// Lookup resolves a virtual path to its node.
func (a *Adapter) Lookup(p string) (tree.Node, error) {
	t, err := a.resolve(a.trees.Current(), OpLookup, p)
	a.record(OpLookup, err)
	return t.Node, err
}

// Attributes reports the attributes of a virtual path. Snapshot directory
// attributes are synthesized; everything else comes from the host on every
// call.
func (a *Adapter) Attributes(p string) (Attr, error) {
	attr, err := a.attributes(p)
	a.record(OpGetattr, err)
	return attr, err
}

func (a *Adapter) attributes(p string) (Attr, error) {
	snap := a.trees.Current()
	t, err := a.resolve(snap, OpGetattr, p)
	if err != nil {
		return Attr{}, err
	}

	if t.synthesized() {
		built := snap.BuiltAt()
		return Attr{
			Mode:  os.ModeDir | 0o555,
			Nlink: safeIntToUint32(2 + snap.Subdirs(p)),
			Uid:   a.uid,
			Gid:   a.gid,
			Atime: built,
			Mtime: built,
			Ctime: built,
		}, nil
	}

	if t.info == nil {
		opsLogger.Debug("Source %q of %q unavailable", t.Source, p)
		return Attr{}, NewFSError(OpGetattr, p, ErrStaleSource)
	}

	info := t.info
	attr := Attr{
		Mode:   info.Mode().Type() | info.Mode().Perm()&^0o222,
		Size:   safeInt64ToUint64(info.Size()),
		Blocks: safeInt64ToUint64((info.Size() + 511) / 512),
		Nlink:  1,
		Uid:    a.uid,
		Gid:    a.gid,
		Atime:  info.ModTime(),
		Mtime:  info.ModTime(),
		Ctime:  info.ModTime(),
	}
	fillFromSys(info, &attr)
	return attr, nil
}

// ListDirectory returns ".", ".." and the children of a directory.
func (a *Adapter) ListDirectory(p string) ([]DirEntry, error) {
	entries, err := a.listDirectory(p)
	a.record(OpReadDir, err)
	return entries, err
}

func (a *Adapter) listDirectory(p string) ([]DirEntry, error) {
	snap := a.trees.Current()
	t, err := a.resolve(snap, OpReadDir, p)
	if err != nil {
		return nil, err
	}
	if !t.IsDir() {
		return nil, NewFSError(OpReadDir, p, ErrNotDirectory)
	}

	entries := []DirEntry{{Name: ".", Dir: true}, {Name: "..", Dir: true}}
	if !t.synthesized() {
		return a.listSource(entries, t.Source, p)
	}

	kids, err := snap.ListChildren(p)
	if err != nil {
		return nil, NewFSError(OpReadDir, p, err)
	}
	for _, kid := range kids {
		entries = append(entries, DirEntry{Name: kid.Name, Dir: kid.Kind == tree.Directory})
	}
	return entries, nil
}

func (a *Adapter) listSource(entries []DirEntry, source, p string) ([]DirEntry, error) {
	infos, err := afero.ReadDir(a.fs, source)
	if err != nil {
		opsLogger.Debug("Cannot list source %q of %q: %v", source, p, err)
		return nil, NewFSError(OpReadDir, p, fmt.Errorf("%w: %w", ErrStaleSource, err))
	}
	sort.Slice(infos, func(i, j int) bool {
		return natural.Less(infos[i].Name(), infos[j].Name())
	})
	for _, info := range infos {
		entries = append(entries, DirEntry{Name: info.Name(), Dir: info.IsDir()})
	}
	return entries, nil
}

// Open opens the source behind a virtual file for reading. Any flag that
// could modify the file is refused.
func (a *Adapter) Open(p string, flags int) (*Handle, error) {
	h, err := a.open(p, flags)
	a.record(OpOpen, err)
	return h, err
}

func (a *Adapter) open(p string, flags int) (*Handle, error) {
	if flags&writeFlags != 0 {
		opsLogger.Debug("Refusing write open of %q (flags %#o)", p, flags)
		return nil, NewFSError(OpOpen, p, ErrReadOnly)
	}

	t, err := a.resolve(a.trees.Current(), OpOpen, p)
	if err != nil {
		return nil, err
	}
	if t.IsDir() {
		return nil, NewFSError(OpOpen, p, ErrPathNotFound)
	}

	f, err := a.fs.Open(t.Source)
	if err != nil {
		opsLogger.Debug("Cannot open source %q of %q: %v", t.Source, p, err)
		return nil, NewFSError(OpOpen, p, fmt.Errorf("%w: %w", ErrStaleSource, err))
	}

	opsLogger.Trace("Opened %q -> %q", p, t.Source)
	return &Handle{file: f, path: p, source: t.Source}, nil
}

// Read returns up to size bytes at offset. The result is short only at end
// of file.
func (a *Adapter) Read(h *Handle, offset int64, size int) ([]byte, error) {
	data, err := h.readAt(offset, size)
	a.record(OpRead, err)
	a.metrics.Read(len(data))
	return data, err
}

func (h *Handle) readAt(offset int64, size int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, NewFSError(OpRead, h.path, os.ErrClosed)
	}

	// Not every afero.File reports a read past the end as io.EOF.
	info, err := h.file.Stat()
	if err != nil {
		return nil, NewFSError(OpRead, h.path, err)
	}
	if offset >= info.Size() {
		return []byte{}, nil
	}

	buf := make([]byte, size)
	n, err := h.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, NewFSError(OpRead, h.path, err)
	}
	return buf[:n], nil
}

// Release closes the handle. Releasing twice is a no-op.
func (a *Adapter) Release(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	err := h.file.Close()
	if err != nil {
		err = NewFSError(OpRelease, h.path, err)
	}
	a.record(OpRelease, err)
	return err
}

// Access checks a permission mask. Write access is always refused.
func (a *Adapter) Access(p string, mask uint32) error {
	err := a.access(p, mask)
	a.record(OpAccess, err)
	return err
}

func (a *Adapter) access(p string, mask uint32) error {
	if mask&unix.W_OK != 0 {
		return NewFSError(OpAccess, p, ErrReadOnly)
	}

	t, err := a.resolve(a.trees.Current(), OpAccess, p)
	if err != nil {
		return err
	}
	if !t.synthesized() && t.info == nil {
		return NewFSError(OpAccess, p, ErrStaleSource)
	}
	return nil
}

// Statfs reports synthetic totals for the mount.
func (a *Adapter) Statfs() StatfsInfo {
	info := StatfsInfo{BlockSize: blockSize, NameLen: nameMax}
	if snap := a.trees.Current(); snap != nil {
		info.Files = uint64(snap.Len() + snap.Dirs())
	}
	a.record(OpStatfs, nil)
	return info
}
