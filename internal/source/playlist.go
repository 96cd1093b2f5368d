package source

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrPlaylistNotFound is returned when the requested playlist is absent.
var ErrPlaylistNotFound = errors.New("playlist not found")

type rhythmdbPlaylists struct {
	XMLName   xml.Name   `xml:"rhythmdb-playlists"`
	Playlists []playlist `xml:"playlist"`
}

type playlist struct {
	Name      string   `xml:"name,attr"`
	Locations []string `xml:"location"`
}

// Playlist reads one named playlist from a Rhythmbox playlists.xml file.
type Playlist struct {
	fs   afero.Fs
	file string
	name string
}

// NewPlaylist returns a source over playlist name in file.
func NewPlaylist(fs afero.Fs, file, name string) *Playlist {
	return &Playlist{fs: fs, file: file, name: name}
}

// Paths returns the playlist's files in playlist order.
func (p *Playlist) Paths() ([]string, error) {
	f, err := p.fs.Open(p.file)
	if err != nil {
		return nil, fmt.Errorf("open playlist file: %w", err)
	}
	defer f.Close()

	paths, err := ReadPlaylist(f, p.name)
	if err != nil {
		return nil, fmt.Errorf("read playlist file %s: %w", p.file, err)
	}
	srcLogger.Debug("Read %d paths from playlist %q", len(paths), p.name)
	return paths, nil
}

// Watched returns the playlists file.
func (p *Playlist) Watched() []string {
	abs, err := filepath.Abs(p.file)
	if err != nil {
		srcLogger.Warn("Cannot resolve %q, not watching it: %v", p.file, err)
		return nil
	}
	return []string{abs}
}

func (p *Playlist) String() string {
	return fmt.Sprintf("%s#%s", p.file, p.name)
}

// ReadPlaylist decodes the file locations of the named playlist.
func ReadPlaylist(r io.Reader, name string) ([]string, error) {
	doc, err := decodePlaylists(r)
	if err != nil {
		return nil, err
	}

	for _, pl := range doc.Playlists {
		if pl.Name != name {
			continue
		}
		paths := make([]string, 0, len(pl.Locations))
		for _, loc := range pl.Locations {
			u, err := url.Parse(strings.TrimSpace(loc))
			if err != nil {
				return nil, fmt.Errorf("playlist %q: bad location %q: %w", name, loc, err)
			}
			paths = append(paths, u.Path)
		}
		return paths, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrPlaylistNotFound, name)
}

// PlaylistNames lists the playlists defined in a playlists file.
func PlaylistNames(r io.Reader) ([]string, error) {
	doc, err := decodePlaylists(r)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(doc.Playlists))
	for _, pl := range doc.Playlists {
		names = append(names, pl.Name)
	}
	return names, nil
}

func decodePlaylists(r io.Reader) (*rhythmdbPlaylists, error) {
	var doc rhythmdbPlaylists
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode playlists: %w", err)
	}
	return &doc, nil
}
