package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmux-cli/sandsync/internal/config"
	"github.com/cmux-cli/sandsync/internal/journal"
	"github.com/cmux-cli/sandsync/internal/remote"
	"github.com/cmux-cli/sandsync/internal/server"
	"github.com/cmux-cli/sandsync/internal/sync"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "exec":
			runExec(os.Args[2:])
			return
		case "update":
			runUpdate(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("sandsync %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`sandsync %s - workspace-to-sandbox file sync daemon

Watches local workspace directories and mirrors file changes into a
remote sandbox worker, with a local HTTP API for control and status.

Usage:
  sandsync [flags]          Start the daemon (default command)
  sandsync serve [flags]    Start the daemon (explicit)
  sandsync exec [flags] CMD Run a command in the sandbox
  sandsync update           Check whether a newer release exists
  sandsync version          Show version information
  sandsync help             Show this help

Server flags:
  -host string          Host to bind to (default "127.0.0.1")
  -port int             Port to listen on (default 7333)
  -workspace string     Local workspace to sync on startup
  -worker-url string    Sandbox worker base URL
  -token string         Sandbox worker bearer token
  -remote-root string   Destination directory on the worker
                        (default "/workspace")
  -debounce int         Quiet period before flushing, in
                        milliseconds (default 500)

Exec flags:
  -timeout int          Command timeout in seconds (default 60)

Environment variables:
  SANDSYNC_WORKER_URL     Sandbox worker base URL
  SANDSYNC_WORKER_TOKEN   Sandbox worker bearer token
  SANDSYNC_REMOTE_ROOT    Destination directory on the worker
  SANDSYNC_WORKSPACE      Local workspace to sync on startup
  SANDSYNC_DATA_DIR       Data directory (journal, config)

Data is stored in ~/.sandsync/ by default. Paths listed in a
workspace's .syncignore file are never uploaded.
`, version)
}

func runServe(args []string) {
	cfg := mustLoadConfig(args)

	j, err := journal.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening journal: %v", err)
	}
	defer j.Close()

	registry := sync.NewRegistry(j)
	defer registry.Dispose()

	if cfg.Workspace != "" {
		if cfg.WorkerURL == "" {
			log.Fatal("workspace configured but no worker URL set")
		}
		err := registry.Start(sync.StartOptions{
			LocalRoot: cfg.Workspace,
			Remote: remote.Handle{
				WorkerURL: cfg.WorkerURL,
				Token:     cfg.WorkerToken,
			},
			RemoteRoot: cfg.RemoteRoot,
			Debounce:   cfg.Debounce,
		})
		if err != nil {
			log.Fatalf("starting workspace sync: %v", err)
		}
	}

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, registry, j,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := srv.HTTPServer(addr)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println("\nShutting down...")
		registry.Dispose()
		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
	}()

	fmt.Printf("sandsync %s listening at http://%s\n", version, addr)
	err = httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func mustLoadConfig(args []string) config.Config {
	fs := flag.NewFlagSet("sandsync", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: sandsync [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	return cfg
}
