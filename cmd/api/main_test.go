package main

import (
	"testing"
	"time"

	"github.com/hanko-field/automation/internal/platform/config"
)

func TestBuildInfoFromEnv(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cfg := config.Config{}
	cfg.Automation.Version = "1.4.0"
	cfg.Security.Environment = "prod"

	info := buildInfoFromEnv(map[string]string{"API_BUILD_COMMIT_SHA": " abc123 "}, cfg, started)
	if info.Version != "1.4.0" || info.CommitSHA != "abc123" || info.Environment != "prod" || !info.StartedAt.Equal(started) {
		t.Fatalf("unexpected build info %+v", info)
	}

	info = buildInfoFromEnv(map[string]string{"API_BUILD_VERSION": "2024.05.01"}, config.Config{}, started)
	if info.Version != "2024.05.01" || info.CommitSHA != "unknown" || info.Environment != "local" {
		t.Fatalf("unexpected defaults %+v", info)
	}
}

func TestRequiredSecretNames(t *testing.T) {
	cases := map[string]int{
		"":      0,
		"local": 0,
		"test":  0,
		"stg":   1,
		"PROD":  1,
	}
	for env, want := range cases {
		got := requiredSecretNames(map[string]string{"API_SECURITY_ENVIRONMENT": env})
		if len(got) != want {
			t.Fatalf("env %q: expected %d secrets, got %v", env, want, got)
		}
	}
}

func TestTraceProjectIDPrefersFirebase(t *testing.T) {
	cfg := config.Config{}
	cfg.Firestore.ProjectID = "store"
	if got := traceProjectID(cfg); got != "store" {
		t.Fatalf("expected firestore project, got %q", got)
	}
	cfg.Firebase.ProjectID = "auth"
	if got := traceProjectID(cfg); got != "auth" {
		t.Fatalf("expected firebase project, got %q", got)
	}
}
