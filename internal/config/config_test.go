package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "RULES_FILE", "EVALUATION_CONCURRENCY", "QUEUE_WORKERS", "SWEEP_BATCH_LIMIT", "CALL_TIMEZONE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.RulesFile != "rules.yaml" {
		t.Errorf("RulesFile = %q", cfg.RulesFile)
	}
	if cfg.QueueWorkers != cfg.EvaluationConcurrency || cfg.EvaluationConcurrency != 10 {
		t.Errorf("QueueWorkers = %d, EvaluationConcurrency = %d", cfg.QueueWorkers, cfg.EvaluationConcurrency)
	}
	if cfg.SweepBatchLimit != 200 {
		t.Errorf("SweepBatchLimit = %d, want 200", cfg.SweepBatchLimit)
	}
	if cfg.EvaluationTimeout() != 30*time.Second {
		t.Errorf("EvaluationTimeout = %v", cfg.EvaluationTimeout())
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("EVALUATION_CONCURRENCY", "4")
	t.Setenv("QUEUE_WORKERS", "")
	t.Setenv("SWEEP_BATCH_LIMIT", "not-a-number")
	t.Setenv("CALL_TIMEZONE", "Not/AZone")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://dash.example.org, ,http://localhost:3000")

	cfg, _ := Load()
	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.QueueWorkers != 4 {
		t.Errorf("QueueWorkers should follow EVALUATION_CONCURRENCY, got %d", cfg.QueueWorkers)
	}
	if cfg.SweepBatchLimit != 200 {
		t.Errorf("invalid SWEEP_BATCH_LIMIT should fall back to 200, got %d", cfg.SweepBatchLimit)
	}
	if cfg.Location() != time.UTC {
		t.Error("unknown timezone should fall back to UTC")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://localhost:3000" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}
