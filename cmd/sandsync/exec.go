package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/shlex"

	"github.com/cmux-cli/sandsync/internal/config"
	"github.com/cmux-cli/sandsync/internal/remote"
)

// runExec runs a shell command inside the sandbox worker and relays
// its output and exit code.
func runExec(args []string) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	timeout := fs.Int("timeout", 60, "Command timeout in seconds")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: sandsync exec [flags] COMMAND [ARGS...]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	command := strings.Join(fs.Args(), " ")
	if _, err := shlex.Split(command); err != nil {
		log.Fatalf("invalid command: %v", err)
	}

	cfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if cfg.WorkerURL == "" {
		log.Fatal("no worker URL configured " +
			"(set SANDSYNC_WORKER_URL or config.json)")
	}

	client := remote.New(remote.Handle{
		WorkerURL: cfg.WorkerURL,
		Token:     cfg.WorkerToken,
	})
	res, err := client.Exec(context.Background(), command, *timeout)
	if err != nil {
		log.Fatalf("exec: %v", err)
	}

	if res.Stdout != "" {
		fmt.Print(res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprint(os.Stderr, res.Stderr)
	}
	os.Exit(res.ExitCode)
}
