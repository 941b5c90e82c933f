package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Errorf("expected poll interval 3s, got %s", cfg.PollInterval)
	}
	if cfg.PollMaxAttempts != 60 {
		t.Errorf("expected 60 poll attempts, got %d", cfg.PollMaxAttempts)
	}
	if cfg.UploadMaxBytes != 10*1024*1024 {
		t.Errorf("expected 10MB upload limit, got %d", cfg.UploadMaxBytes)
	}
}

func TestExecutorStatus(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		wantDispatch bool
		wantPolling  bool
		wantReason   bool
	}{
		{
			name:       "nothing configured",
			cfg:        Config{},
			wantReason: true,
		},
		{
			name:         "webhook only",
			cfg:          Config{ExecutorWebhookURL: "https://n8n.example.com/webhook/generate-image"},
			wantDispatch: true,
			wantReason:   true,
		},
		{
			name: "fully configured",
			cfg: Config{
				ExecutorWebhookURL: "https://n8n.example.com/webhook/generate-image",
				ExecutorBaseURL:    "https://n8n.example.com",
				ExecutorAPIKey:     "key",
			},
			wantDispatch: true,
			wantPolling:  true,
		},
		{
			name:        "api key blank",
			cfg:         Config{ExecutorBaseURL: "https://n8n.example.com", ExecutorAPIKey: "  "},
			wantReason:  true,
			wantPolling: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := tt.cfg.ExecutorStatus()
			if status.DispatchConfigured != tt.wantDispatch {
				t.Errorf("dispatch configured: expected %v, got %v", tt.wantDispatch, status.DispatchConfigured)
			}
			if status.PollingConfigured != tt.wantPolling {
				t.Errorf("polling configured: expected %v, got %v", tt.wantPolling, status.PollingConfigured)
			}
			if (status.Reason != "") != tt.wantReason {
				t.Errorf("unexpected reason %q", status.Reason)
			}
			if tt.wantReason && !strings.HasPrefix(status.Reason, "not configured") {
				t.Errorf("expected reason to start with 'not configured', got %q", status.Reason)
			}
		})
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := Config{ExecutorAPIKey: "secret", JWTSecret: "jwt", DBName: "promoshot"}
	redacted := cfg.Redacted()
	if redacted.ExecutorAPIKey != "***" || redacted.JWTSecret != "***" {
		t.Fatalf("expected secrets redacted, got %+v", redacted)
	}
	if redacted.DBName != "promoshot" {
		t.Fatalf("expected non-secret fields preserved")
	}
	if cfg.ExecutorAPIKey != "secret" {
		t.Fatal("original config must not be modified")
	}
}
