package main

import (
	"testing"
	"time"
)

func TestMustLoadConfig(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		wantHost      string
		wantPort      int
		wantWorkerURL string
		wantDebounce  time.Duration
	}{
		{
			name:         "DefaultArgs",
			args:         []string{},
			wantHost:     "127.0.0.1",
			wantPort:     7333,
			wantDebounce: 500 * time.Millisecond,
		},
		{
			name: "ExplicitFlags",
			args: []string{
				"-host", "0.0.0.0", "-port", "9090",
				"-worker-url", "http://worker.test",
				"-debounce", "750",
			},
			wantHost:      "0.0.0.0",
			wantPort:      9090,
			wantWorkerURL: "http://worker.test",
			wantDebounce:  750 * time.Millisecond,
		},
		{
			name:         "PartialFlags",
			args:         []string{"-port", "3000"},
			wantHost:     "127.0.0.1",
			wantPort:     3000,
			wantDebounce: 500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SANDSYNC_DATA_DIR", t.TempDir())
			cfg := mustLoadConfig(tt.args)

			if cfg.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", cfg.Host, tt.wantHost)
			}
			if cfg.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", cfg.Port, tt.wantPort)
			}
			if cfg.WorkerURL != tt.wantWorkerURL {
				t.Errorf("WorkerURL = %q, want %q",
					cfg.WorkerURL, tt.wantWorkerURL)
			}
			if cfg.Debounce != tt.wantDebounce {
				t.Errorf("Debounce = %v, want %v",
					cfg.Debounce, tt.wantDebounce)
			}
			if cfg.DataDir == "" {
				t.Error("DataDir should be set")
			}
		})
	}
}
