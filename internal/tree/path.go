package tree

import (
	"path"
	"strings"
)

// Root is the virtual path of the mount root.
const Root = "/"

// Clean returns the canonical form of a virtual path: absolute, slash
// separated, without trailing slash, "." or ".." elements.
func Clean(p string) string {
	cleaned := path.Clean("/" + p)
	return cleaned
}

// Join appends a directory entry name to a virtual directory path.
func Join(dir, name string) string {
	return Clean(dir + "/" + name)
}

// Split returns the parent directory and final element of a virtual path.
// The root splits into ("/", "").
func Split(p string) (string, string) {
	p = Clean(p)
	if p == Root {
		return Root, ""
	}
	dir, name := path.Split(p)
	return Clean(dir), name
}

// Parent returns the virtual directory containing p.
func Parent(p string) string {
	dir, _ := Split(p)
	return dir
}

// Base returns the last element of the path
func Base(p string) string {
	_, name := Split(p)
	return name
}

// IsRoot returns true if this is the root virtual path "/"
func IsRoot(p string) bool {
	return Clean(p) == Root
}

// Segments returns the elements of a virtual path, root excluded.
func Segments(p string) []string {
	p = strings.TrimPrefix(Clean(p), Root)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
