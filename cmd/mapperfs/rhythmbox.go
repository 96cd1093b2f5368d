package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"mapperfs/internal/config"
	"mapperfs/internal/source"
)

func newRhythmboxCommand() *cli.Command {
	return &cli.Command{
		Name:  "rhythmbox",
		Usage: "mount the files of a Rhythmbox playlist",
		UsageText: `mapperfs rhythmbox [options] <playlists.xml> <playlist-name> <mountpoint>
   mapperfs rhythmbox --list <playlists.xml>

Example: mapperfs rhythmbox -m flat ~/.local/share/rhythmbox/playlists.xml Thanksgiving /mnt/party`,
		Description: "The playlist file is watched; saving the playlist in Rhythmbox updates the mount.",
		Flags: append(mountFlags(), &cli.BoolFlag{
			Name:  flagList,
			Usage: "print the playlist names and exit",
		}),
		Action: rhythmboxAction,
	}
}

func rhythmboxAction(c *cli.Context) error {
	host := afero.NewOsFs()

	if c.Bool(flagList) {
		if c.NArg() != 1 {
			return fmt.Errorf("%w: --list takes the playlist file only", config.ErrConfiguration)
		}
		return listPlaylists(c, host, c.Args().First())
	}

	cfg, err := buildConfig(c, host)
	if err != nil {
		return err
	}
	switch c.NArg() {
	case 0:
	case 3:
		cfg.Playlist = &config.Playlist{File: c.Args().Get(0), Name: c.Args().Get(1)}
		cfg.MountPoint = c.Args().Get(2)
		cfg.Inputs = nil
	default:
		return fmt.Errorf("%w: expected <playlists.xml> <playlist-name> <mountpoint>", config.ErrConfiguration)
	}
	if cfg.Playlist == nil {
		return fmt.Errorf("%w: no playlist given", config.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	return run(c.Context, cfg, host, newSource(cfg, host))
}

func listPlaylists(c *cli.Context, host afero.Fs, file string) error {
	f, err := host.Open(file)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	defer f.Close()

	names, err := source.PlaylistNames(f)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	for _, name := range names {
		fmt.Fprintln(c.App.Writer, name)
	}
	return nil
}
