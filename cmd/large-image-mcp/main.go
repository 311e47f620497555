package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ironsheep/large-image-mcp/internal/config"
	"github.com/ironsheep/large-image-mcp/internal/server"
	"github.com/ironsheep/large-image-mcp/internal/tiles"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("large-image-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("large-image-mcp - MCP server for viewing very large images in tiles")
			fmt.Println()
			fmt.Println("Usage: large-image-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables (also read from ./.env):")
			fmt.Printf("  %s=debug|info|warn|error\n", config.EnvLogLevel)
			fmt.Printf("  %s=<dir>             Disk cache for imported images\n", config.EnvCacheDir)
			fmt.Printf("  %s=<bytes>        Tile memory budget per image\n", config.EnvBudgetBytes)
			fmt.Printf("  %s=<pixels>          Tile edge length\n", config.EnvTileSize)
			fmt.Printf("  %s=<cells>      Prefetch ring around the view\n", config.EnvPrefetchMargin)
			fmt.Printf("  %s=<n>                 Decode workers per image\n", config.EnvWorkers)
			fmt.Printf("  %s=<pixels>       Longest preview edge\n", config.EnvPreviewSize)
			fmt.Printf("  %s=<n>    Expired tiles kept for reuse\n", config.EnvExpiredRetention)
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			fmt.Println("Configure it in your MCP client (e.g., Claude Desktop).")
			return
		}
	}

	// Configure logging to stderr (stdout is for MCP protocol)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Configuration: %v", err)
	}

	tiles.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.LogLevel),
	})))

	if cfg.LogLevel == "debug" {
		log.Printf("Large Image MCP Server v%s (built %s, commit %s)", Version, BuildTime, GitCommit)
	}

	srv := server.New(cfg)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		srv.Close()
		os.Exit(0)
	}()

	err = srv.Run()
	srv.Close()
	if err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
