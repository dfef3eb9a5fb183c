// Package config loads daemon configuration by layering defaults,
// the config file, environment variables, and CLI flags.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all daemon configuration.
type Config struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	WorkerURL    string        `json:"worker_url"`
	WorkerToken  string        `json:"worker_token,omitempty"`
	RemoteRoot   string        `json:"remote_root"`
	Workspace    string        `json:"workspace,omitempty"`
	Debounce     time.Duration `json:"-"`
	DataDir      string        `json:"data_dir"`
	DBPath       string        `json:"-"`
	WriteTimeout time.Duration `json:"-"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".sandsync")
	return Config{
		Host:         "127.0.0.1",
		Port:         7333,
		RemoteRoot:   "/workspace",
		Debounce:     500 * time.Millisecond,
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "journal.db"),
		WriteTimeout: 30 * time.Second,
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, fs)
	return cfg, nil
}

// LoadMinimal builds a Config from defaults, config file, and env,
// without parsing CLI flags. Use this for subcommands that manage
// their own flag sets.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	// The data dir decides where config.json lives, so its env
	// override has to land before the file is read.
	if v := os.Getenv("SANDSYNC_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	cfg.loadEnv()
	cfg.DBPath = filepath.Join(cfg.DataDir, "journal.db")
	return cfg, nil
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		Host        string `json:"host"`
		Port        int    `json:"port"`
		WorkerURL   string `json:"worker_url"`
		WorkerToken string `json:"worker_token"`
		RemoteRoot  string `json:"remote_root"`
		Workspace   string `json:"workspace"`
		DebounceMS  int    `json:"debounce_ms"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if file.Host != "" {
		c.Host = file.Host
	}
	if file.Port != 0 {
		c.Port = file.Port
	}
	if file.WorkerURL != "" {
		c.WorkerURL = file.WorkerURL
	}
	if file.WorkerToken != "" {
		c.WorkerToken = file.WorkerToken
	}
	if file.RemoteRoot != "" {
		c.RemoteRoot = file.RemoteRoot
	}
	if file.Workspace != "" {
		c.Workspace = file.Workspace
	}
	if file.DebounceMS > 0 {
		c.Debounce = time.Duration(file.DebounceMS) * time.Millisecond
	}
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("SANDSYNC_WORKER_URL"); v != "" {
		c.WorkerURL = v
	}
	if v := os.Getenv("SANDSYNC_WORKER_TOKEN"); v != "" {
		c.WorkerToken = v
	}
	if v := os.Getenv("SANDSYNC_REMOTE_ROOT"); v != "" {
		c.RemoteRoot = v
	}
	if v := os.Getenv("SANDSYNC_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("SANDSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 7333, "Port to listen on")
	fs.String("workspace", "", "Local workspace to sync on startup")
	fs.String("worker-url", "", "Sandbox worker base URL")
	fs.String("token", "", "Sandbox worker bearer token")
	fs.String(
		"remote-root", "/workspace",
		"Destination directory on the worker",
	)
	fs.Int(
		"debounce", 500,
		"Quiet period before flushing, in milliseconds",
	)
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "workspace":
			cfg.Workspace = f.Value.String()
		case "worker-url":
			cfg.WorkerURL = f.Value.String()
		case "token":
			cfg.WorkerToken = f.Value.String()
		case "remote-root":
			cfg.RemoteRoot = f.Value.String()
		case "debounce":
			ms, _ := strconv.Atoi(f.Value.String())
			if ms > 0 {
				cfg.Debounce = time.Duration(ms) * time.Millisecond
			}
		}
	})
}
