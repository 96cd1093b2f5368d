package mapping

import (
	"path"
	"strconv"
	"strings"

	"mapperfs/internal/logging"
)

var (
	mapLogger = logging.GetLogger().WithPrefix("mapping")
)

// Entry pairs a virtual path under the mount root with the source file it
// redirects to. Virtual paths are absolute, slash separated and rooted at "/".
type Entry struct {
	Virtual string
	Source  string
}

// Result is the outcome of mapping one input list.
type Result struct {
	// Entries holds one entry per accepted source path, in input order.
	Entries []Entry
	// Skipped holds input paths that were not absolute or named the root.
	Skipped []string
	// Prefix is the directory stripped by the common strategy, or "".
	Prefix string
}

// Map derives a virtual path for every source path. It is a pure function of
// its arguments: no source file is touched, and the output depends on input
// order because collisions are numbered in the order they are met.
func Map(sources []string, strategy Strategy) Result {
	var res Result

	valid := make([]string, 0, len(sources))
	for _, src := range sources {
		cleaned, ok := normalize(src)
		if !ok {
			res.Skipped = append(res.Skipped, src)
			continue
		}
		valid = append(valid, cleaned)
	}

	candidates := make([]string, len(valid))
	switch strategy {
	case Flat:
		for i, src := range valid {
			candidates[i] = "/" + path.Base(src)
		}
	case Common:
		res.Prefix = CommonPrefix(valid)
		mapLogger.Debug("Longest common prefix: %q", res.Prefix)
		for i, src := range valid {
			candidates[i] = strings.TrimPrefix(src, res.Prefix)
		}
	default:
		copy(candidates, valid)
	}

	names := uncollide(candidates)
	res.Entries = make([]Entry, len(valid))
	for i, src := range valid {
		res.Entries[i] = Entry{Virtual: names[i], Source: src}
		mapLogger.Trace("Mapped %q -> %q", src, names[i])
	}
	return res
}

// CommonPrefix returns the deepest directory containing every path, compared
// segment by segment over each path's parent directory. It returns "" for
// fewer than two paths or when the only shared directory is the root.
func CommonPrefix(paths []string) string {
	if len(paths) < 2 {
		return ""
	}

	common := segments(path.Dir(paths[0]))
	for _, p := range paths[1:] {
		segs := segments(path.Dir(p))
		n := 0
		for n < len(common) && n < len(segs) && common[n] == segs[n] {
			n++
		}
		common = common[:n]
		if n == 0 {
			return ""
		}
	}
	return "/" + strings.Join(common, "/")
}

func normalize(src string) (string, bool) {
	if !path.IsAbs(src) {
		return "", false
	}
	cleaned := path.Clean(src)
	if cleaned == "/" {
		return "", false
	}
	return cleaned, true
}

func segments(dir string) []string {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}

// uncollide renames, in order, every candidate already produced by an earlier
// entry or shadowed by a directory some other candidate needs. New names never
// take a name that appears anywhere in the input, so a literal "x-1" later in
// the list keeps its name.
func uncollide(candidates []string) []string {
	reserved := make(map[string]struct{}, len(candidates))
	dirs := make(map[string]struct{})
	for _, c := range candidates {
		reserved[c] = struct{}{}
		for d := path.Dir(c); d != "/"; d = path.Dir(d) {
			dirs[d] = struct{}{}
			reserved[d] = struct{}{}
		}
	}

	used := make(map[string]struct{}, len(candidates))
	out := make([]string, len(candidates))
	for i, c := range candidates {
		name := c
		_, taken := used[c]
		_, isDir := dirs[c]
		if taken || isDir {
			name = rename(c, reserved)
			mapLogger.Debug("Renamed colliding path %q -> %q", c, name)
		}
		out[i] = name
		used[name] = struct{}{}
		reserved[name] = struct{}{}
	}
	return out
}

// rename returns "<stem>-<n><ext>" for the first n >= 1 not in reserved.
func rename(p string, reserved map[string]struct{}) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)
	if ext == base {
		// ".bashrc" has no extension
		ext = ""
	}
	stem := strings.TrimSuffix(base, ext)

	for n := 1; ; n++ {
		candidate := dir + stem + "-" + strconv.Itoa(n) + ext
		if _, ok := reserved[candidate]; !ok {
			return candidate
		}
	}
}
