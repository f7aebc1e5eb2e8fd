package config

import (
	"testing"
	"time"
)

func TestPushURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			name:    "https becomes wss",
			baseURL: "https://api.inkwell.app",
			want:    "wss://api.inkwell.app/sessions/s1/events",
		},
		{
			name:    "http becomes ws",
			baseURL: "http://localhost:8090",
			want:    "ws://localhost:8090/sessions/s1/events",
		},
		{
			name:    "trailing slash trimmed",
			baseURL: "https://api.inkwell.app/",
			want:    "wss://api.inkwell.app/sessions/s1/events",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{BaseURL: tt.baseURL}
			if got := cfg.PushURL("s1"); got != tt.want {
				t.Errorf("PushURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.ReconcileGrace != 2*time.Second {
		t.Errorf("ReconcileGrace = %v", cfg.ReconcileGrace)
	}
	if cfg.PageSize != 20 {
		t.Errorf("PageSize = %d", cfg.PageSize)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		BaseURL:        "http://localhost:8090",
		RequestTimeout: 5 * time.Second,
		PageSize:       50,
	}
	cfg.applyDefaults()

	if cfg.BaseURL != "http://localhost:8090" {
		t.Errorf("BaseURL overwritten: %q", cfg.BaseURL)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout overwritten: %v", cfg.RequestTimeout)
	}
	if cfg.PageSize != 50 {
		t.Errorf("PageSize overwritten: %d", cfg.PageSize)
	}
	if cfg.ReconcileGrace != 2*time.Second {
		t.Errorf("unset ReconcileGrace not defaulted: %v", cfg.ReconcileGrace)
	}
}
