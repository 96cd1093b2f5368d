package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"mapperfs/internal/config"
	"mapperfs/internal/logging"
	"mapperfs/internal/mapping"
	"mapperfs/internal/source"
)

const (
	flagConfig      = "config"
	flagMapper      = "mapper"
	flagOnce        = "once"
	flagVerbose     = "verbose"
	flagDebug       = "debug"
	flagLogFile     = "log-file"
	flagLogJSON     = "log-json"
	flagAllowOther  = "allow-other"
	flagAttrTimeout = "attr-timeout"
	flagUID         = "uid"
	flagGID         = "gid"
	flagMetricsAddr = "metrics-addr"
	flagList        = "list"
)

func newApp() *cli.App {
	return &cli.App{
		Name:      "mapperfs",
		Usage:     "expose a list of files as a read-only FUSE filesystem",
		UsageText: "mapperfs [options] <mountpoint> <inputfile>...",
		Description: `Every line of the input files names one source file. The files appear under the
mount point according to the mapping strategy:

   copy     full source path reproduced below the mount point
   flat     every file in the mount root, duplicate names numbered
   common   longest common directory of all sources removed

The tree is rebuilt whenever an input file changes, unless --once is given.
An input file named "-" is read from standard input.`,
		HideHelpCommand: true,
		Flags:           mountFlags(),
		Action:          mountAction,
		Commands: []*cli.Command{
			newRhythmboxCommand(),
		},
	}
}

func mountFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load options from a TOML file; command-line flags take precedence",
			EnvVars: []string{"MAPPERFS_CONFIG"},
		},
		&cli.StringFlag{
			Name:    flagMapper,
			Aliases: []string{"m"},
			Usage:   "mapping strategy: " + strings.Join(mapping.StrategyNames(), ", "),
			Value:   mapping.Copy.String(),
			EnvVars: []string{"MAPPERFS_MAPPER"},
		},
		&cli.BoolFlag{
			Name:    flagOnce,
			Aliases: []string{"o"},
			Usage:   "read the input once and do not watch it for changes",
			EnvVars: []string{"MAPPERFS_ONCE"},
		},
		&cli.BoolFlag{
			Name:    flagVerbose,
			Aliases: []string{"v"},
			Usage:   "enable informational logging",
			EnvVars: []string{"MAPPERFS_VERBOSE"},
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Usage:   "enable debug logging",
			EnvVars: []string{"MAPPERFS_DEBUG"},
		},
		&cli.StringFlag{
			Name:    flagLogFile,
			Usage:   "also write logs to a size-rotated file",
			EnvVars: []string{"MAPPERFS_LOG_FILE"},
		},
		&cli.BoolFlag{
			Name:    flagLogJSON,
			Usage:   "write logs as JSON",
			EnvVars: []string{"MAPPERFS_LOG_JSON"},
		},
		&cli.BoolFlag{
			Name:    flagAllowOther,
			Usage:   "let other users access the mount (needs user_allow_other in /etc/fuse.conf)",
			EnvVars: []string{"MAPPERFS_ALLOW_OTHER"},
		},
		&cli.DurationFlag{
			Name:    flagAttrTimeout,
			Usage:   "how long the kernel may cache attributes and entries",
			Value:   time.Second,
			EnvVars: []string{"MAPPERFS_ATTR_TIMEOUT"},
		},
		&cli.UintFlag{
			Name:        flagUID,
			Usage:       "owner of synthesized directories",
			DefaultText: "effective uid, or $PUID",
			EnvVars:     []string{"MAPPERFS_UID"},
		},
		&cli.UintFlag{
			Name:        flagGID,
			Usage:       "group of synthesized directories",
			DefaultText: "effective gid, or $PGID",
			EnvVars:     []string{"MAPPERFS_GID"},
		},
		&cli.StringFlag{
			Name:    flagMetricsAddr,
			Usage:   "serve Prometheus metrics on this address",
			EnvVars: []string{"MAPPERFS_METRICS_ADDR"},
		},
	}
}

func mountAction(c *cli.Context) error {
	host := afero.NewOsFs()

	cfg, err := buildConfig(c, host)
	if err != nil {
		return err
	}
	if c.NArg() > 0 {
		cfg.MountPoint = c.Args().First()
	}
	if c.NArg() > 1 {
		cfg.Inputs = c.Args().Tail()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	return run(c.Context, cfg, host, newSource(cfg, host))
}

// newSource selects the input described by a validated configuration.
func newSource(cfg config.Config, host afero.Fs) source.Source {
	if cfg.Playlist != nil {
		return source.NewPlaylist(host, cfg.Playlist.File, cfg.Playlist.Name)
	}
	return source.NewListFiles(host, cfg.Inputs, os.Stdin)
}

// buildConfig layers defaults, the optional config file and explicitly set
// flags, in that order.
func buildConfig(c *cli.Context, host afero.Fs) (config.Config, error) {
	cfg := config.Default()

	if path := c.String(flagConfig); path != "" {
		if err := config.LoadFile(host, path, &cfg); err != nil {
			return cfg, err
		}
	}

	if c.IsSet(flagMapper) {
		if err := cfg.SetStrategy(c.String(flagMapper)); err != nil {
			return cfg, err
		}
	}
	if c.IsSet(flagOnce) {
		cfg.Once = c.Bool(flagOnce)
	}
	if c.IsSet(flagAllowOther) {
		cfg.AllowOther = c.Bool(flagAllowOther)
	}
	if c.IsSet(flagAttrTimeout) {
		cfg.AttrTimeout = config.Duration(c.Duration(flagAttrTimeout))
	}
	if c.IsSet(flagUID) {
		cfg.UID = uint32(c.Uint(flagUID))
	}
	if c.IsSet(flagGID) {
		cfg.GID = uint32(c.Uint(flagGID))
	}
	if c.IsSet(flagLogFile) {
		cfg.LogFile = c.String(flagLogFile)
	}
	if c.IsSet(flagLogJSON) {
		cfg.LogJSON = c.Bool(flagLogJSON)
	}
	if c.IsSet(flagMetricsAddr) {
		cfg.MetricsAddr = c.String(flagMetricsAddr)
	}

	switch {
	case c.Bool(flagDebug):
		cfg.LogLevel = logging.LevelDebug.String()
	case c.Bool(flagVerbose):
		cfg.LogLevel = logging.LevelInfo.String()
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) error {
	level, ok := logging.ParseLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("%w: unknown log level %q", config.ErrConfiguration, cfg.LogLevel)
	}
	logger.SetLevel(level)
	if cfg.LogJSON {
		logger.SetJSON(true)
	}
	if cfg.LogFile != "" {
		if err := logger.SetFile(cfg.LogFile); err != nil {
			return fmt.Errorf("%w: log file: %w", config.ErrConfiguration, err)
		}
	}
	return nil
}
