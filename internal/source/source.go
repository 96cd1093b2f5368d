// Package source reads the ordered list of source paths a mount exposes.
package source

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"mapperfs/internal/logging"
)

var (
	srcLogger = logging.GetLogger().WithPrefix("source")
)

// Stdin is the input file name that selects standard input.
const Stdin = "-"

// Source produces the input list. Paths is called at startup and on every
// rebuild; Watched names the files whose modification should trigger one.
type Source interface {
	Paths() ([]string, error)
	Watched() []string
	String() string
}

// ListFiles reads plain text input lists: one path per line, blank lines and
// lines starting with '#' or ';' ignored, surrounding blanks and double quotes
// trimmed. Several files are concatenated in order.
type ListFiles struct {
	fs    afero.Fs
	files []string
	stdin io.Reader

	stdinOnce  sync.Once
	stdinLines []string
	stdinErr   error
}

// NewListFiles returns a source over the given list files. "-" reads stdin
// once; later calls replay what was read.
func NewListFiles(fs afero.Fs, files []string, stdin io.Reader) *ListFiles {
	return &ListFiles{
		fs:    fs,
		files: files,
		stdin: stdin,
	}
}

// Paths reads every list file in order.
func (l *ListFiles) Paths() ([]string, error) {
	var out []string
	for _, name := range l.files {
		if name == Stdin {
			lines, err := l.readStdin()
			if err != nil {
				return nil, err
			}
			out = append(out, lines...)
			continue
		}

		lines, err := l.readFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, lines...)
	}
	srcLogger.Debug("Read %d paths from %s", len(out), l)
	return out, nil
}

func (l *ListFiles) readFile(name string) ([]string, error) {
	f, err := l.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open input list: %w", err)
	}
	defer f.Close()

	lines, err := ParseList(f)
	if err != nil {
		return nil, fmt.Errorf("read input list %s: %w", name, err)
	}
	return lines, nil
}

func (l *ListFiles) readStdin() ([]string, error) {
	l.stdinOnce.Do(func() {
		if l.stdin == nil {
			return
		}
		l.stdinLines, l.stdinErr = ParseList(l.stdin)
	})
	if l.stdinErr != nil {
		return nil, fmt.Errorf("read input list from stdin: %w", l.stdinErr)
	}
	return l.stdinLines, nil
}

// Watched returns the absolute names of the list files, stdin excluded.
func (l *ListFiles) Watched() []string {
	var out []string
	for _, name := range l.files {
		if name == Stdin {
			continue
		}
		abs, err := filepath.Abs(name)
		if err != nil {
			srcLogger.Warn("Cannot resolve %q, not watching it: %v", name, err)
			continue
		}
		out = append(out, abs)
	}
	return out
}

func (l *ListFiles) String() string {
	return strings.Join(l.files, ",")
}

// ParseList extracts paths from a plain text list.
func ParseList(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.Trim(scanner.Text(), " \"\t\r")
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
