// Command stencilscan locates where a directory of MIPS relocatable
// objects was linked into a binary blob and recovers the VRAM addresses
// of the symbols defined inside them. It contains no matching or
// recovery logic of its own; it only wires flags, config, and the
// internal packages together.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kbrandt/stencilscan/internal/config"
	"github.com/kbrandt/stencilscan/internal/coordinator"
	"github.com/kbrandt/stencilscan/internal/diagnostics"
	"github.com/kbrandt/stencilscan/internal/ipl3"
	"github.com/kbrandt/stencilscan/internal/liveapi"
	"github.com/kbrandt/stencilscan/internal/namelist"
	"github.com/kbrandt/stencilscan/internal/report"
	"github.com/kbrandt/stencilscan/internal/report/splat"
	"github.com/kbrandt/stencilscan/internal/tui"
	"github.com/kbrandt/stencilscan/internal/words"
)

// Version information, overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		configPath  = flag.String("config", "", "Path to config.toml (default: platform config dir)")
		objectsDir  = flag.String("objects", "", "Directory of relocatable objects (overrides config)")
		liveAddr    = flag.String("live-addr", "", "Start the live-progress HTTP/WebSocket server on this address")
		tuiMode     = flag.Bool("tui", false, "Launch the interactive TUI after the scan completes")
		reportOut   = flag.String("out", "", "Report output file (default: stdout)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("stencilscan %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	if *showHelp || flag.NArg() == 0 {
		printHelp()
		os.Exit(0)
	}

	blobPath := flag.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stencilscan: %v\n", err)
		os.Exit(1)
	}
	if *objectsDir != "" {
		cfg.Input.ObjectsDir = *objectsDir
	}
	if *liveAddr != "" {
		cfg.LiveAPI.Enabled = true
		cfg.LiveAPI.Addr = *liveAddr
	}
	if *tuiMode {
		cfg.TUI.Enabled = true
	}
	if *reportOut != "" {
		cfg.Report.OutputFile = *reportOut
	}

	logger, closer, err := diagnostics.New(cfg.Logging.JSONFile, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stencilscan: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	names := namelist.Default.Merge(namelist.New(
		cfg.NameList.HandwrittenFiles,
		cfg.NameList.GenericFiles,
		cfg.NameList.AmbiguousByName,
	))

	blob, err := os.ReadFile(blobPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stencilscan: read %s: %v\n", blobPath, err)
		os.Exit(1)
	}

	regionStart, regionEnd, vramBase, err := resolveRegion(cfg, blob, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stencilscan: %v\n", err)
		os.Exit(1)
	}

	blobWords, err := coordinator.BlobWordsFromRegion(blob, regionStart, regionEnd, words.BigEndian)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stencilscan: %v\n", err)
		os.Exit(1)
	}

	run := coordinator.Run{
		BlobWords:  blobWords,
		RegionBase: regionStart,
		VRAMBase:   vramBase,
		ObjectsDir: cfg.Input.ObjectsDir,
		Names:      names,
		Logger:     logger,
	}

	var liveServer *liveapi.Server
	if cfg.LiveAPI.Enabled {
		liveServer = liveapi.NewServer(cfg.LiveAPI.Addr, logger)
		run.Progress = liveServer

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		var shutdownOnce sync.Once
		shutdown := func() {
			shutdownOnce.Do(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := liveServer.Shutdown(ctx); err != nil {
					logger.Warn("live API shutdown error", "error", err)
				}
			})
		}
		defer shutdown()
		go func() {
			<-sigChan
			shutdown()
			os.Exit(130)
		}()

		go func() {
			if err := liveServer.Start(); err != nil {
				logger.Error("live API server stopped", "error", err)
			}
		}()
	}

	result, err := coordinator.Execute(run)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stencilscan: %v\n", err)
		os.Exit(1)
	}

	if cfg.Matching.RunDisambiguate {
		result = coordinator.ResolveAmbiguities(run, result)
	}

	if liveServer != nil {
		liveServer.Complete(result)
	}

	out := os.Stdout
	if cfg.Report.OutputFile != "" {
		f, err := os.Create(cfg.Report.OutputFile) // #nosec G304 -- user-supplied report path
		if err != nil {
			fmt.Fprintf(os.Stderr, "stencilscan: create %s: %v\n", cfg.Report.OutputFile, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	var writer report.Writer
	switch cfg.Report.Format {
	case "splat":
		writer = splat.Writer{}
	default:
		writer = report.TextWriter{}
	}
	if err := writer.Write(out, result, names, regionStart); err != nil {
		fmt.Fprintf(os.Stderr, "stencilscan: write report: %v\n", err)
		os.Exit(1)
	}

	if cfg.TUI.Enabled {
		t := tui.New(result, names)
		if err := t.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "stencilscan: tui: %v\n", err)
			os.Exit(1)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// resolveRegion turns a config's Input section into the concrete
// [start, end) blob window and VRAM base the coordinator needs. ROM mode
// derives the VRAM base from the IPL3 boot block's CIC variant; binary
// mode takes the window and base directly from config.
func resolveRegion(cfg *config.Config, blob []byte, logger *slog.Logger) (start, end, vramBase uint32, err error) {
	switch cfg.Input.Mode {
	case "binary":
		return cfg.Input.RegionStart, cfg.Input.RegionEnd, cfg.Input.VRAMBase, nil
	case "rom", "":
		cic, err := ipl3.Identify(blob)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("identify IPL3: %w", err)
		}
		if len(blob) < 0xC {
			return 0, 0, 0, fmt.Errorf("rom too short to contain a header entrypoint")
		}
		headerEntry := words.FromBytesTruncate(blob[0x8:0xC], words.BigEndian)[0]
		base := cic.CorrectEntrypoint(headerEntry)
		logger.Info("identified CIC", "variant", cic.Name(), "vram_base", fmt.Sprintf("0x%08X", base))
		return cfg.Input.RegionStart, cfg.Input.RegionEnd, base, nil
	default:
		return 0, 0, 0, fmt.Errorf("unknown input mode %q (want \"rom\" or \"binary\")", cfg.Input.Mode)
	}
}

func printHelp() {
	fmt.Println(strings.TrimSpace(`
stencilscan locates MIPS relocatable objects inside a binary blob and
recovers the VRAM addresses of the symbols they define.

Usage:
  stencilscan [flags] <blob-file>

Flags:
`))
	flag.PrintDefaults()
}
