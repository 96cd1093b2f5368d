package fs

import (
	"context"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"bazil.org/fuse"
	"github.com/spf13/afero"

	"mapperfs/internal/mapping"
	"mapperfs/internal/source"
	"mapperfs/internal/state"
)

const listFile = "/lists/input"

type testFS struct {
	vfs     *MapperFS
	adapter *Adapter
	manager *state.Manager
	host    afero.Fs
}

// setList rewrites the input list and rebuilds the tree.
func (tfs *testFS) setList(t *testing.T, sources ...string) {
	t.Helper()
	content := strings.Join(sources, "\n") + "\n"
	if err := afero.WriteFile(tfs.host, listFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write list: %v", err)
	}
	if err := tfs.manager.Rebuild(); err != nil {
		t.Fatalf("Failed to rebuild: %v", err)
	}
}

func setupTestFS(t *testing.T, strategy mapping.Strategy, files map[string]string, sources ...string) *testFS {
	t.Helper()

	host := afero.NewMemMapFs()
	for name, content := range files {
		if err := afero.WriteFile(host, name, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to create source file: %v", err)
		}
	}
	content := strings.Join(sources, "\n") + "\n"
	if err := afero.WriteFile(host, listFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write list: %v", err)
	}

	manager := state.NewManager(source.NewListFiles(host, []string{listFile}, nil), strategy)
	if err := manager.Initialize(); err != nil {
		t.Fatalf("Failed to initialize tree: %v", err)
	}

	adapter := NewAdapter(host, manager, WithOwner(1000, 1000))
	return &testFS{
		vfs:     New(adapter, time.Second),
		adapter: adapter,
		manager: manager,
		host:    host,
	}
}

func lookup(t *testing.T, d *Dir, name string) interface{} {
	t.Helper()
	node, err := d.Lookup(context.Background(), &fuse.LookupRequest{Name: name}, &fuse.LookupResponse{})
	if err != nil {
		t.Fatalf("Failed to lookup %q in %q: %v", name, d.path, err)
	}
	return node
}

func TestDirOperations(t *testing.T) {
	tfs := setupTestFS(t, mapping.Copy, map[string]string{
		"/music/yams/one.mp3":     "one",
		"/music/yams/two.mp3":     "two",
		"/music/potatoes/ten.mp3": "ten",
	}, "/music/yams/one.mp3", "/music/yams/two.mp3", "/music/potatoes/ten.mp3")

	ctx := context.Background()

	t.Run("RootDirectory", func(t *testing.T) {
		root, rootErr := tfs.vfs.Root()
		if rootErr != nil {
			t.Fatalf("Failed to get root: %v", rootErr)
		}

		attr := &fuse.Attr{}
		if attrErr := root.Attr(ctx, attr); attrErr != nil {
			t.Errorf("Failed to get root attributes: %v", attrErr)
		}
		if attr.Mode != os.ModeDir|0555 {
			t.Errorf("Expected mode %v, got %v", os.ModeDir|0555, attr.Mode)
		}
		if attr.Nlink != 3 {
			t.Errorf("Expected nlink 3, got %d", attr.Nlink)
		}
		if attr.Uid != 1000 || attr.Gid != 1000 {
			t.Errorf("Expected owner 1000:1000, got %d:%d", attr.Uid, attr.Gid)
		}
		if attr.Inode != 1 {
			t.Errorf("Expected root inode 1, got %d", attr.Inode)
		}
		if attr.Valid != time.Second {
			t.Errorf("Expected attribute TTL 1s, got %v", attr.Valid)
		}
	})

	t.Run("ListDirectory", func(t *testing.T) {
		root, _ := tfs.vfs.Root()
		music, ok := lookup(t, root.(*Dir), "music").(*Dir)
		if !ok {
			t.Fatal("music should be a Dir")
		}

		entries, err := music.ReadDirAll(ctx)
		if err != nil {
			t.Fatalf("Failed to read directory: %v", err)
		}

		var names []string
		for _, e := range entries {
			names = append(names, e.Name)
			if e.Type != fuse.DT_Dir {
				t.Errorf("Entry %q should be a directory", e.Name)
			}
		}
		if got := strings.Join(names, ","); got != ".,..,potatoes,yams" {
			t.Errorf("Unexpected listing: %s", got)
		}
	})

	t.Run("LookupMissing", func(t *testing.T) {
		root, _ := tfs.vfs.Root()
		_, err := root.(*Dir).Lookup(ctx, &fuse.LookupRequest{Name: "nope"}, &fuse.LookupResponse{})
		if err != syscall.ENOENT {
			t.Errorf("Expected ENOENT, got %v", err)
		}
	})

	t.Run("LookupSetsEntryTTL", func(t *testing.T) {
		root, _ := tfs.vfs.Root()
		resp := &fuse.LookupResponse{}
		if _, err := root.(*Dir).Lookup(ctx, &fuse.LookupRequest{Name: "music"}, resp); err != nil {
			t.Fatalf("Failed to lookup: %v", err)
		}
		if resp.EntryValid != time.Second {
			t.Errorf("Expected entry TTL 1s, got %v", resp.EntryValid)
		}
	})

	t.Run("MutationsAreRefused", func(t *testing.T) {
		root, _ := tfs.vfs.Root()
		dir := root.(*Dir)

		if _, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "new"}); err != syscall.EROFS {
			t.Errorf("Mkdir: expected EROFS, got %v", err)
		}
		if _, _, err := dir.Create(ctx, &fuse.CreateRequest{Name: "new"}, &fuse.CreateResponse{}); err != syscall.EROFS {
			t.Errorf("Create: expected EROFS, got %v", err)
		}
		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "music", Dir: true}); err != syscall.EROFS {
			t.Errorf("Remove: expected EROFS, got %v", err)
		}
		if err := dir.Rename(ctx, &fuse.RenameRequest{OldName: "music", NewName: "tunes"}, dir); err != syscall.EROFS {
			t.Errorf("Rename: expected EROFS, got %v", err)
		}
		if _, err := dir.Symlink(ctx, &fuse.SymlinkRequest{NewName: "link", Target: "/etc"}); err != syscall.EROFS {
			t.Errorf("Symlink: expected EROFS, got %v", err)
		}
		if err := dir.Setattr(ctx, &fuse.SetattrRequest{}, &fuse.SetattrResponse{}); err != syscall.EROFS {
			t.Errorf("Setattr: expected EROFS, got %v", err)
		}
		if err := dir.Access(ctx, &fuse.AccessRequest{Mask: 0x2}); err != syscall.EROFS {
			t.Errorf("Access(W_OK): expected EROFS, got %v", err)
		}
		if err := dir.Access(ctx, &fuse.AccessRequest{Mask: 0x4}); err != nil {
			t.Errorf("Access(R_OK): expected success, got %v", err)
		}
	})
}

func TestDirFollowsRebuild(t *testing.T) {
	tfs := setupTestFS(t, mapping.Flat, map[string]string{
		"/a/one.txt": "1",
		"/b/two.txt": "2",
	}, "/a/one.txt")

	ctx := context.Background()
	root, _ := tfs.vfs.Root()
	dir := root.(*Dir)

	if _, err := dir.Lookup(ctx, &fuse.LookupRequest{Name: "two.txt"}, &fuse.LookupResponse{}); err != syscall.ENOENT {
		t.Fatalf("Expected ENOENT before rebuild, got %v", err)
	}

	tfs.setList(t, "/b/two.txt")

	lookup(t, dir, "two.txt")
	if _, err := dir.Lookup(ctx, &fuse.LookupRequest{Name: "one.txt"}, &fuse.LookupResponse{}); err != syscall.ENOENT {
		t.Errorf("Expected ENOENT after rebuild, got %v", err)
	}
}

func TestDirVanishesAfterRebuild(t *testing.T) {
	tfs := setupTestFS(t, mapping.Copy, map[string]string{
		"/a/one.txt": "1",
		"/b/two.txt": "2",
	}, "/a/one.txt")

	ctx := context.Background()
	root, _ := tfs.vfs.Root()
	a := lookup(t, root.(*Dir), "a").(*Dir)

	tfs.setList(t, "/b/two.txt")

	if err := a.Attr(ctx, &fuse.Attr{}); err != syscall.ENOENT {
		t.Errorf("Attr: expected ENOENT, got %v", err)
	}
	if _, err := a.ReadDirAll(ctx); err != syscall.ENOENT {
		t.Errorf("ReadDirAll: expected ENOENT, got %v", err)
	}
}

func TestDirPassesThroughSourceDirectory(t *testing.T) {
	tfs := setupTestFS(t, mapping.Flat, map[string]string{
		"/music/album/one.mp3":      "one",
		"/music/album/disc/two.mp3": "two",
	}, "/music/album")

	ctx := context.Background()
	root, _ := tfs.vfs.Root()
	album, ok := lookup(t, root.(*Dir), "album").(*Dir)
	if !ok {
		t.Fatal("album should be a Dir")
	}

	attr := &fuse.Attr{}
	if err := album.Attr(ctx, attr); err != nil {
		t.Fatalf("Failed to get attributes: %v", err)
	}
	if !attr.Mode.IsDir() || attr.Mode&0222 != 0 {
		t.Errorf("Expected read-only directory, got %v", attr.Mode)
	}

	entries, err := album.ReadDirAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read directory: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if got := strings.Join(names, ","); got != ".,..,disc,one.mp3" {
		t.Errorf("Unexpected listing: %s", got)
	}

	disc := lookup(t, album, "disc").(*Dir)
	track, ok := lookup(t, disc, "two.mp3").(*File)
	if !ok {
		t.Fatal("two.mp3 should be a File")
	}
	handle, err := track.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadOnly}, &fuse.OpenResponse{})
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}
	resp := &fuse.ReadResponse{}
	if err := handle.(*FileHandle).Read(ctx, &fuse.ReadRequest{Size: 16}, resp); err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(resp.Data) != "two" {
		t.Errorf("Expected %q, got %q", "two", resp.Data)
	}

	if _, err := album.Mkdir(ctx, &fuse.MkdirRequest{Name: "new"}); err != syscall.EROFS {
		t.Errorf("Mkdir: expected EROFS, got %v", err)
	}
}

func TestStatfs(t *testing.T) {
	tfs := setupTestFS(t, mapping.Copy, nil, "/a/one", "/a/two")

	resp := &fuse.StatfsResponse{}
	if err := tfs.vfs.Statfs(context.Background(), &fuse.StatfsRequest{}, resp); err != nil {
		t.Fatalf("Statfs failed: %v", err)
	}
	// two files, plus "/" and "/a"
	if resp.Files != 4 {
		t.Errorf("Expected 4 files, got %d", resp.Files)
	}
	if resp.Bsize != 4096 || resp.Namelen != 255 {
		t.Errorf("Unexpected block size %d or name length %d", resp.Bsize, resp.Namelen)
	}
}
