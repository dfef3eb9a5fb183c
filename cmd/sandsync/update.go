package main

import (
	"fmt"
	"log"

	"github.com/cmux-cli/sandsync/internal/config"
	"github.com/cmux-cli/sandsync/internal/update"
)

// runUpdate reports whether a newer release is published.
func runUpdate(args []string) {
	cfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	info, err := update.Check(version, cfg.DataDir)
	if err != nil {
		log.Fatalf("checking for updates: %v", err)
	}

	if !info.IsNewer {
		fmt.Printf("sandsync %s is up to date\n", version)
		return
	}
	fmt.Printf("sandsync %s is available (running %s)\n",
		info.LatestVersion, version)
	if info.ReleaseURL != "" {
		fmt.Printf("Release notes: %s\n", info.ReleaseURL)
	}
}
