// Package config holds the settings a mount is started with.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"mapperfs/internal/logging"
	"mapperfs/internal/mapping"
)

// ErrConfiguration marks every error that must stop the process at startup:
// missing or unreadable input, bad strategy, bad mount point.
var ErrConfiguration = errors.New("configuration error")

// Duration is a time.Duration read from strings such as "1s" or "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Playlist selects a Rhythmbox playlist as the input list.
type Playlist struct {
	File string `toml:"file"`
	Name string `toml:"name"`
}

// Config is the full mount configuration.
type Config struct {
	MountPoint  string           `toml:"mountpoint"`
	Inputs      []string         `toml:"inputs"`
	Playlist    *Playlist        `toml:"playlist"`
	Strategy    mapping.Strategy `toml:"mapper"`
	Once        bool             `toml:"once"`
	AllowOther  bool             `toml:"allow_other"`
	AttrTimeout Duration         `toml:"attr_timeout"`
	UID         uint32           `toml:"uid"`
	GID         uint32           `toml:"gid"`
	LogLevel    string           `toml:"log_level"`
	LogFile     string           `toml:"log_file"`
	LogJSON     bool             `toml:"log_json"`
	MetricsAddr string           `toml:"metrics_addr"`
}

// Default returns the configuration used when nothing is overridden. The
// owner of synthesized entries is the effective user, unless PUID/PGID are set.
// LOG_LEVEL and FUSE_DEBUG select the initial log level.
func Default() Config {
	uid := ownerID(os.Geteuid())
	gid := ownerID(os.Getegid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
		}
	}

	logLevel := "warn"
	if _, ok := logging.ParseLevel(os.Getenv("LOG_LEVEL")); ok {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	if os.Getenv("FUSE_DEBUG") != "" {
		logLevel = "debug"
	}

	return Config{
		Strategy:    mapping.Copy,
		AttrTimeout: Duration(time.Second),
		UID:         uid,
		GID:         gid,
		LogLevel:    logLevel,
	}
}

// ownerID converts a process id to the FUSE owner field. Out of range ids
// (-1 where the platform has no owners) fall back to root.
func ownerID(id int) uint32 {
	if id < 0 || uint64(id) > math.MaxUint32 {
		return 0
	}
	return uint32(id)
}

// Load decodes a TOML document over cfg. Keys not present keep their value.
func Load(r io.Reader, cfg *Config) error {
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: decode config: %w", ErrConfiguration, err)
	}
	return nil
}

// LoadFile reads a TOML configuration file over cfg.
func LoadFile(fs afero.Fs, path string, cfg *Config) error {
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open config: %w", ErrConfiguration, err)
	}
	defer f.Close()

	return Load(f, cfg)
}

// SetStrategy parses a strategy name given on the command line.
func (c *Config) SetStrategy(name string) error {
	s, err := mapping.ParseStrategy(name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	c.Strategy = s
	return nil
}

// Validate checks the configuration without touching the filesystem.
func (c Config) Validate() error {
	if c.MountPoint == "" {
		return fmt.Errorf("%w: mount point is required", ErrConfiguration)
	}
	if c.Playlist != nil {
		if c.Playlist.File == "" || c.Playlist.Name == "" {
			return fmt.Errorf("%w: playlist needs both a file and a name", ErrConfiguration)
		}
		if len(c.Inputs) > 0 {
			return fmt.Errorf("%w: input lists and a playlist are mutually exclusive", ErrConfiguration)
		}
	} else if len(c.Inputs) == 0 {
		return fmt.Errorf("%w: at least one input list is required", ErrConfiguration)
	}
	if _, err := c.Strategy.MarshalText(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if c.AttrTimeout < 0 {
		return fmt.Errorf("%w: attr_timeout must not be negative", ErrConfiguration)
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log level %q", ErrConfiguration, c.LogLevel)
	}
	return nil
}

// ValidateMountPoint checks that the mount point is an existing directory.
func (c Config) ValidateMountPoint(fs afero.Fs) error {
	info, err := fs.Stat(c.MountPoint)
	if err != nil {
		return fmt.Errorf("%w: mount point: %w", ErrConfiguration, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: mount point %s is not a directory", ErrConfiguration, c.MountPoint)
	}
	return nil
}

// Watch reports whether the input should be watched for changes.
func (c Config) Watch() bool {
	return !c.Once
}
