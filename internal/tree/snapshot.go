// Package tree holds the immutable virtual directory index built from a
// mapping. A Snapshot is never modified after Build returns, so any number of
// goroutines may read it without locking.
package tree

import (
	"errors"
	"sort"
	"time"

	"github.com/maruel/natural"
	"github.com/tidwall/btree"

	"mapperfs/internal/logging"
	"mapperfs/internal/mapping"
)

var (
	treeLogger = logging.GetLogger().WithPrefix("tree")

	// ErrNotFound indicates a virtual path absent from the snapshot
	ErrNotFound = errors.New("virtual path not found")

	// ErrNotDirectory indicates a listing was requested for a file
	ErrNotDirectory = errors.New("not a directory")
)

// Kind tags a node as a synthesized directory or a redirected file.
type Kind uint8

const (
	// Directory is a synthesized directory node.
	Directory Kind = iota
	// File is a node backed by a source file.
	File
)

func (k Kind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

// Node is the result of a lookup. Source is empty for directories.
type Node struct {
	Kind   Kind
	Name   string
	Source string
}

// IsDir reports whether the node is a directory.
func (n Node) IsDir() bool {
	return n.Kind == Directory
}

// Child is one direct entry of a directory listing.
type Child struct {
	Name string
	Kind Kind
}

// Snapshot is one immutable, self-consistent virtual tree.
type Snapshot struct {
	nodes      map[string]Node
	children   map[string][]Child
	subdirs    map[string]int
	entries    []mapping.Entry
	dirs       int
	builtAt    time.Time
	generation uint64
}

// Option adjusts snapshot metadata at build time.
type Option func(*Snapshot)

// WithGeneration stamps the snapshot with a generation number.
func WithGeneration(generation uint64) Option {
	return func(s *Snapshot) {
		s.generation = generation
	}
}

// WithTime overrides the build timestamp reported for synthesized directories.
func WithTime(t time.Time) Option {
	return func(s *Snapshot) {
		s.builtAt = t
	}
}

// Build indexes entries, creating a directory node for every ancestor of
// every virtual path up to the root. Entries that would make the tree
// inconsistent (a repeated virtual path, a file where a directory is needed
// or the reverse) are dropped in input order; the mapper never produces them.
func Build(entries []mapping.Entry, opts ...Option) *Snapshot {
	s := &Snapshot{
		nodes:    map[string]Node{Root: {Kind: Directory}},
		children: make(map[string][]Child),
		subdirs:  make(map[string]int),
		builtAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ordered := btree.NewMap[string, string](0)
	for _, e := range entries {
		vp := Clean(e.Virtual)
		if !s.insert(vp, e.Source) {
			treeLogger.Warn("Dropping conflicting entry %q -> %q", vp, e.Source)
			continue
		}
		ordered.Set(vp, e.Source)
	}

	s.entries = make([]mapping.Entry, 0, ordered.Len())
	ordered.Scan(func(vp, src string) bool {
		s.entries = append(s.entries, mapping.Entry{Virtual: vp, Source: src})
		return true
	})

	for dir, kids := range s.children {
		sort.Slice(kids, func(i, j int) bool {
			return natural.Less(kids[i].Name, kids[j].Name)
		})
		for _, kid := range kids {
			if kid.Kind == Directory {
				s.subdirs[dir]++
			}
		}
	}
	s.dirs = len(s.nodes) - len(s.entries)

	treeLogger.Debug("Built snapshot %d: %d files in %d directories",
		s.generation, len(s.entries), s.dirs)
	return s
}

func (s *Snapshot) insert(vp, source string) bool {
	if vp == Root {
		return false
	}
	if _, exists := s.nodes[vp]; exists {
		return false
	}

	segs := Segments(vp)
	dir := Root
	for _, seg := range segs[:len(segs)-1] {
		dir = Join(dir, seg)
		if n, exists := s.nodes[dir]; exists && n.Kind != Directory {
			return false
		}
	}

	dir = Root
	for _, seg := range segs[:len(segs)-1] {
		child := Join(dir, seg)
		if _, exists := s.nodes[child]; !exists {
			s.nodes[child] = Node{Kind: Directory, Name: seg}
			s.children[dir] = append(s.children[dir], Child{Name: seg, Kind: Directory})
		}
		dir = child
	}

	name := segs[len(segs)-1]
	s.nodes[vp] = Node{Kind: File, Name: name, Source: source}
	s.children[dir] = append(s.children[dir], Child{Name: name, Kind: File})
	return true
}

// Lookup resolves a virtual path.
func (s *Snapshot) Lookup(p string) (Node, bool) {
	n, ok := s.nodes[Clean(p)]
	return n, ok
}

// ListChildren returns the direct children of a directory in natural order.
func (s *Snapshot) ListChildren(p string) ([]Child, error) {
	p = Clean(p)
	n, ok := s.nodes[p]
	if !ok {
		return nil, ErrNotFound
	}
	if n.Kind != Directory {
		return nil, ErrNotDirectory
	}

	kids := s.children[p]
	out := make([]Child, len(kids))
	copy(out, kids)
	return out, nil
}

// Subdirs returns the number of directories directly inside p.
func (s *Snapshot) Subdirs(p string) int {
	return s.subdirs[Clean(p)]
}

// NumChildren returns the number of direct entries of p.
func (s *Snapshot) NumChildren(p string) int {
	return len(s.children[Clean(p)])
}

// Len returns the number of files in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Dirs returns the number of directories, the root included.
func (s *Snapshot) Dirs() int {
	return s.dirs
}

// Entries returns the mapping ordered by virtual path.
func (s *Snapshot) Entries() []mapping.Entry {
	out := make([]mapping.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Equal reports whether both snapshots map the same virtual paths to the
// same sources. Build metadata is ignored.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.entries) != len(o.entries) {
		return false
	}
	for i := range s.entries {
		if s.entries[i] != o.entries[i] {
			return false
		}
	}
	return true
}

// BuiltAt returns the time the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Generation returns the number stamped by the lifecycle manager.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}
