package fs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/cespare/xxhash/v2"

	"mapperfs/internal/logging"
	"mapperfs/internal/tree"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// MapperFS is the FUSE filesystem. Its nodes carry only a virtual path and
// resolve it against the current snapshot on every request, so a rebuild is
// visible as soon as the kernel caches expire.
type MapperFS struct {
	adapter   *Adapter
	attrValid time.Duration

	mu         sync.Mutex
	conn       *fuse.Conn
	mountPoint string
}

// New creates the filesystem. attrValid bounds how long the kernel may cache
// attributes and directory entries.
func New(adapter *Adapter, attrValid time.Duration) *MapperFS {
	return &MapperFS{
		adapter:   adapter,
		attrValid: attrValid,
	}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (m *MapperFS) Root() (fusefs.Node, error) {
	return &Dir{fs: m, path: tree.Root}, nil
}

// Statfs implements the fusefs.FSStatfser interface.
func (m *MapperFS) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	info := m.adapter.Statfs()
	resp.Files = info.Files
	resp.Bsize = info.BlockSize
	resp.Frsize = info.BlockSize
	resp.Namelen = info.NameLen
	return nil
}

// Mount attaches the filesystem to mountPoint. Serve must be called next.
func (m *MapperFS) Mount(mountPoint string, allowOther bool) error {
	vfsLogger.Info("Mounting filesystem on %s", mountPoint)

	mountOpts := []fuse.MountOption{
		fuse.FSName("mapperfs"),
		fuse.Subtype("mapperfs"),
		fuse.ReadOnly(),
	}
	if allowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}

	m.mu.Lock()
	m.conn = c
	m.mountPoint = mountPoint
	m.mu.Unlock()
	return nil
}

// Serve answers FUSE requests until the filesystem is unmounted.
func (m *MapperFS) Serve() error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return fmt.Errorf("serve: filesystem is not mounted")
	}
	defer c.Close()

	config := &fusefs.Config{}
	if vfsLogger.Enabled(logging.LevelTrace) {
		config.Debug = func(msg interface{}) {
			vfsLogger.Trace("%v", msg)
		}
	}

	vfsLogger.Info("Serving filesystem")
	err := fusefs.New(c, config).Serve(m)

	m.mu.Lock()
	m.conn = nil
	m.mountPoint = ""
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	vfsLogger.Debug("FUSE server stopped")
	return nil
}

// Unmount detaches the filesystem, which makes Serve return. It is a no-op
// once Serve has returned.
func (m *MapperFS) Unmount() error {
	m.mu.Lock()
	mountPoint := m.mountPoint
	m.mu.Unlock()
	if mountPoint == "" {
		return nil
	}

	vfsLogger.Info("Unmounting filesystem from: %s", mountPoint)
	if err := fuse.Unmount(mountPoint); err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
		return err
	}
	return nil
}

// inode derives a stable inode number from a virtual path.
func inode(p string) uint64 {
	if p == tree.Root {
		return 1
	}
	n := xxhash.Sum64String(p)
	if n <= 1 {
		n += 2
	}
	return n
}

func (m *MapperFS) fillAttr(p string, attr Attr, a *fuse.Attr) {
	a.Valid = m.attrValid
	a.Inode = inode(p)
	a.Mode = attr.Mode
	a.Size = attr.Size
	a.Blocks = attr.Blocks
	a.Nlink = attr.Nlink
	a.Uid = attr.Uid
	a.Gid = attr.Gid
	a.Rdev = attr.Rdev
	a.Atime = attr.Atime
	a.Mtime = attr.Mtime
	a.Ctime = attr.Ctime
	a.BlockSize = blockSize
}
