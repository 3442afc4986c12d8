// ABOUTME: Entry point for the resonated media daemon and its tools
// ABOUTME: Parses the kong command tree and builds the shared runtime environment
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/resonated/internal/archive"
	"github.com/Resonate-Protocol/resonated/internal/catalog"
	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/decoder/plugins"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/version"
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string `help:"Config file path." type:"path" short:"c"`
	LogLevel string `help:"Override log level (debug, info, warn, error)." name:"log-level"`
	Music    string `help:"Override the music directory." type:"path"`
}

var CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" help:"Run the daemon: catalog update, stream server and playback." default:"withargs"`
	Update   UpdateCmd   `cmd:"" help:"Refresh the catalog from the music directory."`
	Scan     ScanCmd     `cmd:"" help:"Print the tag resolved for a file or URL."`
	Decode   DecodeCmd   `cmd:"" help:"Decode a song to raw PCM."`
	Gunzip   GunzipCmd   `cmd:"" help:"Decompress a .gz file through the input layer."`
	Plugins  PluginsCmd  `cmd:"" help:"List enabled decoder plugins."`
	Discover DiscoverCmd `cmd:"" help:"Find resonated servers on the local network."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
}

var (
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
)

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name(version.Product),
		kong.Description("A small music daemon: catalog, decoders and network streaming."),
		kong.Vars{"version": version.Version},
		kong.UsageOnError(),
	)
	if err := ctx.Run(&CLI.Globals); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
}

// env is the runtime shared by the commands.
type env struct {
	cfg      *config.Config
	log      *slog.Logger
	closer   io.Closer
	registry *decoder.Registry
	opener   *input.Opener
	archives *archive.Mapper
}

// setup loads configuration and logging. When the terminal belongs to the
// status screen, logs go to a file next to the database.
func (g *Globals) setup(tui bool) (*env, error) {
	cfg, path, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if g.Music != "" {
		cfg.MusicDirectory = g.Music
	}
	if tui && cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(filepath.Dir(cfg.DBFile), "resonated.log")
	}

	logger, closer, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", "path", path, "music", cfg.MusicDirectory)

	return &env{
		cfg:      cfg,
		log:      logger,
		closer:   closer,
		registry: plugins.NewRegistry(logger, cfg.Decoder),
		opener:   input.NewOpener(),
		archives: archive.NewMapper(logger),
	}, nil
}

func (e *env) Close() error {
	return e.closer.Close()
}

func (e *env) refresher() (*catalog.Refresher, error) {
	storage, err := catalog.NewLocalStorage(e.cfg.MusicDirectory)
	if err != nil {
		return nil, err
	}
	return catalog.NewRefresher(e.log, storage, e.registry, e.opener, e.archives), nil
}
