package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FirestoreCollection != "documents" {
		t.Fatalf("collection = %q", cfg.FirestoreCollection)
	}
	if cfg.PropagationQuietPeriod != 100*time.Millisecond || cfg.RevisionDebounce != 300*time.Millisecond {
		t.Fatalf("debounce defaults = %s / %s", cfg.PropagationQuietPeriod, cfg.RevisionDebounce)
	}
	if cfg.SearchRowLimit != 5 || cfg.RevisionSuccessor != "first-char" {
		t.Fatalf("resolver defaults = %d / %q", cfg.SearchRowLimit, cfg.RevisionSuccessor)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "PROJECT_ID: from-file\nSPLIT_PAGES_BUCKET: pages\nCOPY_JOB_TIMEOUT: 90s\nSEARCH_ROW_LIMIT: 3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROJECT_ID", "from-env")
	t.Setenv("DISTRIBUTION_EXCLUDE", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProjectID != "from-env" {
		t.Fatalf("project = %q, want env to win", cfg.ProjectID)
	}
	if cfg.SplitPagesBucket != "pages" || cfg.SearchRowLimit != 3 {
		t.Fatalf("file values not read: %+v", cfg)
	}
	if cfg.CopyJobTimeout != 90*time.Second {
		t.Fatalf("timeout = %s", cfg.CopyJobTimeout)
	}
	if !cfg.DistributionExclude {
		t.Fatalf("bool env not applied")
	}
	if err := cfg.RequireGCP(); err != nil {
		t.Fatalf("RequireGCP: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestRequireGCP(t *testing.T) {
	if err := (&Config{}).RequireGCP(); err == nil {
		t.Fatalf("empty config passed")
	}
}
