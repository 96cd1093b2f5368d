package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"mapperfs/internal/mapping"
	"mapperfs/internal/metrics"
	"mapperfs/internal/tree"
)

// staticTrees serves a fixed snapshot.
type staticTrees struct {
	snap *tree.Snapshot
}

func (s staticTrees) Current() *tree.Snapshot { return s.snap }

func newAdapter(t *testing.T, m *metrics.Metrics, files map[string]string, entries ...mapping.Entry) *Adapter {
	t.Helper()
	host := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(host, name, []byte(content), 0o644))
	}
	built := time.Date(2024, 11, 28, 0, 0, 0, 0, time.UTC)
	snap := tree.Build(entries, tree.WithTime(built), tree.WithGeneration(1))
	return NewAdapter(host, staticTrees{snap}, WithOwner(7, 8), WithMetrics(m))
}

func TestAdapterDirectoryAttributes(t *testing.T) {
	a := newAdapter(t, nil, nil,
		mapping.Entry{Virtual: "/d/one", Source: "/s/one"},
		mapping.Entry{Virtual: "/d/sub/two", Source: "/s/two"},
		mapping.Entry{Virtual: "/d/sub2/three", Source: "/s/three"},
	)

	attr, err := a.Attributes("/d")
	require.NoError(t, err)
	assert.Equal(t, os.ModeDir|0o555, attr.Mode)
	assert.Equal(t, uint32(4), attr.Nlink)
	assert.Zero(t, attr.Size)
	assert.Equal(t, uint32(7), attr.Uid)
	assert.Equal(t, uint32(8), attr.Gid)
	assert.Equal(t, 2024, attr.Mtime.Year())
}

func TestAdapterListDirectory(t *testing.T) {
	a := newAdapter(t, nil, nil,
		mapping.Entry{Virtual: "/track10.mp3", Source: "/s/10"},
		mapping.Entry{Virtual: "/track2.mp3", Source: "/s/2"},
		mapping.Entry{Virtual: "/album/x", Source: "/s/x"},
	)

	entries, err := a.ListDirectory("/")
	require.NoError(t, err)
	assert.Equal(t, []DirEntry{
		{Name: ".", Dir: true},
		{Name: "..", Dir: true},
		{Name: "album", Dir: true},
		{Name: "track2.mp3"},
		{Name: "track10.mp3"},
	}, entries)

	_, err = a.ListDirectory("/track2.mp3")
	assert.ErrorIs(t, err, ErrNotDirectory)
	assert.Equal(t, unix.ENOTDIR, ToFuseError(err))

	_, err = a.ListDirectory("/missing")
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestAdapterOpenAndRead(t *testing.T) {
	m := metrics.New()
	a := newAdapter(t, m, map[string]string{"/s/song": "0123456789"},
		mapping.Entry{Virtual: "/song", Source: "/s/song"},
		mapping.Entry{Virtual: "/dir/gone", Source: "/s/gone"},
	)

	h, err := a.Open("/song", os.O_RDONLY)
	require.NoError(t, err)

	data, err := a.Read(h, 8, 16)
	require.NoError(t, err)
	assert.Equal(t, "89", string(data))

	data, err = a.Read(h, 20, 4)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, a.Release(h))
	require.NoError(t, a.Release(h))
	_, err = a.Read(h, 0, 1)
	assert.Error(t, err)

	for _, flags := range []int{os.O_WRONLY, os.O_RDWR, os.O_APPEND, os.O_CREATE, os.O_TRUNC} {
		_, err := a.Open("/song", flags)
		assert.ErrorIs(t, err, ErrReadOnly)
		assert.Equal(t, unix.EROFS, ToFuseError(err))
	}

	_, err = a.Open("/dir", os.O_RDONLY)
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = a.Open("/dir/gone", os.O_RDONLY)
	assert.ErrorIs(t, err, ErrStaleSource)
	assert.Equal(t, unix.ENOENT, ToFuseError(err))

	require.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(`
# HELP mapperfs_operations_total Number of filesystem operations by operation and errno class.
# TYPE mapperfs_operations_total counter
mapperfs_operations_total{op="open",result="ENOENT"} 2
mapperfs_operations_total{op="open",result="EROFS"} 5
mapperfs_operations_total{op="open",result="ok"} 1
mapperfs_operations_total{op="read",result="EIO"} 1
mapperfs_operations_total{op="read",result="ok"} 2
mapperfs_operations_total{op="release",result="ok"} 1
# HELP mapperfs_read_bytes_total Number of bytes read through the mount.
# TYPE mapperfs_read_bytes_total counter
mapperfs_read_bytes_total 2
`), "mapperfs_operations_total", "mapperfs_read_bytes_total"))
}

func TestAdapterReadAtEnd(t *testing.T) {
	a := newAdapter(t, nil, map[string]string{"/s/song": "0123456789", "/s/empty": ""},
		mapping.Entry{Virtual: "/song", Source: "/s/song"},
		mapping.Entry{Virtual: "/empty", Source: "/s/empty"},
	)

	h, err := a.Open("/song", os.O_RDONLY)
	require.NoError(t, err)
	defer a.Release(h)

	for _, offset := range []int64{10, 11, 1 << 20} {
		data, err := a.Read(h, offset, 4)
		require.NoError(t, err, "offset %d", offset)
		assert.Empty(t, data, "offset %d", offset)
	}

	e, err := a.Open("/empty", os.O_RDONLY)
	require.NoError(t, err)
	defer a.Release(e)
	data, err := a.Read(e, 0, 4096)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestAdapterSourceDirectory(t *testing.T) {
	host := afero.NewMemMapFs()
	require.NoError(t, host.MkdirAll("/music/album/disc", 0o755))
	for name, content := range map[string]string{
		"/music/album/track10.mp3":   "ten",
		"/music/album/track2.mp3":    "two",
		"/music/album/disc/one.mp3":  "one",
		"/music/single.mp3":          "single",
		"/music/elsewhere/other.mp3": "other",
	} {
		require.NoError(t, afero.WriteFile(host, name, []byte(content), 0o644))
	}
	res := mapping.Map([]string{"/music/album", "/music/single.mp3"}, mapping.Flat)
	a := NewAdapter(host, staticTrees{tree.Build(res.Entries)})

	node, err := a.Lookup("/album")
	require.NoError(t, err)
	assert.True(t, node.IsDir())

	attr, err := a.Attributes("/album")
	require.NoError(t, err)
	assert.True(t, attr.Mode.IsDir())
	assert.Equal(t, os.FileMode(0o555), attr.Mode.Perm())

	listing, err := a.ListDirectory("/album")
	require.NoError(t, err)
	assert.Equal(t, []DirEntry{
		{Name: ".", Dir: true},
		{Name: "..", Dir: true},
		{Name: "disc", Dir: true},
		{Name: "track2.mp3"},
		{Name: "track10.mp3"},
	}, listing)

	node, err = a.Lookup("/album/disc/one.mp3")
	require.NoError(t, err)
	assert.False(t, node.IsDir())
	assert.Equal(t, "/music/album/disc/one.mp3", node.Source)

	attr, err = a.Attributes("/album/disc")
	require.NoError(t, err)
	assert.True(t, attr.Mode.IsDir())

	h, err := a.Open("/album/disc/one.mp3", os.O_RDONLY)
	require.NoError(t, err)
	data, err := a.Read(h, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
	require.NoError(t, a.Release(h))

	_, err = a.Open("/album", os.O_RDONLY)
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = a.Lookup("/album/missing.mp3")
	assert.ErrorIs(t, err, ErrPathNotFound)

	// a listed file has no children
	_, err = a.Lookup("/single.mp3/x")
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = a.Lookup("/elsewhere/other.mp3")
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestAdapterKeepsSourceType(t *testing.T) {
	dir := t.TempDir()
	fifo := filepath.Join(dir, "pipe")
	if err := unix.Mkfifo(fifo, 0o644); err != nil {
		t.Skipf("Cannot create fifo: %v", err)
	}

	a := NewAdapter(afero.NewOsFs(), staticTrees{tree.Build([]mapping.Entry{
		{Virtual: "/pipe", Source: fifo},
	})})

	attr, err := a.Attributes("/pipe")
	require.NoError(t, err)
	assert.Equal(t, os.ModeNamedPipe, attr.Mode.Type())
	assert.Zero(t, attr.Mode&0o222)
}

func TestAdapterAccess(t *testing.T) {
	a := newAdapter(t, nil, map[string]string{"/s/ok": "x"},
		mapping.Entry{Virtual: "/ok", Source: "/s/ok"},
		mapping.Entry{Virtual: "/stale", Source: "/s/stale"},
	)

	assert.NoError(t, a.Access("/", unix.R_OK|unix.X_OK))
	assert.NoError(t, a.Access("/ok", unix.R_OK))
	assert.ErrorIs(t, a.Access("/ok", unix.W_OK), ErrReadOnly)
	assert.ErrorIs(t, a.Access("/stale", unix.R_OK), ErrStaleSource)
	assert.ErrorIs(t, a.Access("/nope", unix.F_OK), ErrPathNotFound)
}

func TestAdapterWithoutSnapshot(t *testing.T) {
	a := NewAdapter(afero.NewMemMapFs(), staticTrees{})

	_, err := a.Attributes("/")
	assert.ErrorIs(t, err, ErrPathNotFound)
	_, err = a.ListDirectory("/")
	assert.ErrorIs(t, err, ErrPathNotFound)
	assert.Equal(t, uint64(0), a.Statfs().Files)
}

func TestToFuseError(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{nil, nil},
		{NewFSError(OpLookup, "/x", ErrPathNotFound), unix.ENOENT},
		{NewFSError(OpOpen, "/x", ErrStaleSource), unix.ENOENT},
		{NewFSError(OpOpen, "/x", ErrReadOnly), unix.EROFS},
		{NewFSError(OpReadDir, "/x", ErrNotDirectory), unix.ENOTDIR},
		{os.ErrPermission, unix.EACCES},
		{unix.EIO, unix.EIO},
		{errors.New("boom"), unix.EIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToFuseError(tt.err), "error %v", tt.err)
	}
}

func TestInodeIsStable(t *testing.T) {
	assert.Equal(t, uint64(1), inode("/"))
	assert.Equal(t, inode("/a/b"), inode("/a/b"))
	assert.NotEqual(t, inode("/a/b"), inode("/a/c"))
}
