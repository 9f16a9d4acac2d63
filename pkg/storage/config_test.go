package storage_test

import (
	"strings"
	"testing"

	"github.com/docwatch/sentinel/pkg/storage"
)

func TestFinalizeDefaults(t *testing.T) {
	cfg := storage.Config{ConnectionString: "UseDevelopmentStorage=true"}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if cfg.ContainerName != "documents" {
		t.Errorf("container_name: got %q, want %q", cfg.ContainerName, "documents")
	}
	if cfg.MaxListSize != 50 {
		t.Errorf("max_list_size: got %d, want 50", cfg.MaxListSize)
	}
}

func TestFinalizeEnvOverrides(t *testing.T) {
	t.Setenv("TEST_STORAGE_CONTAINER", "exports")
	t.Setenv("TEST_STORAGE_CONNECTION", "UseDevelopmentStorage=true")
	t.Setenv("TEST_STORAGE_MAX_LIST", "100")

	env := &storage.Env{
		ContainerName:    "TEST_STORAGE_CONTAINER",
		ConnectionString: "TEST_STORAGE_CONNECTION",
		MaxListSize:      "TEST_STORAGE_MAX_LIST",
	}

	var cfg storage.Config
	if err := cfg.Finalize(env); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if cfg.ContainerName != "exports" {
		t.Errorf("container_name: got %q, want %q", cfg.ContainerName, "exports")
	}
	if cfg.MaxListSize != 100 {
		t.Errorf("max_list_size: got %d, want 100", cfg.MaxListSize)
	}
}

func TestFinalizeCapsMaxListSize(t *testing.T) {
	cfg := storage.Config{
		ConnectionString: "UseDevelopmentStorage=true",
		MaxListSize:      storage.MaxListCap + 100,
	}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if cfg.MaxListSize != storage.MaxListCap {
		t.Errorf("max_list_size: got %d, want cap %d", cfg.MaxListSize, storage.MaxListCap)
	}
}

func TestFinalizeValidation(t *testing.T) {
	var cfg storage.Config
	err := cfg.Finalize(nil)
	if err == nil {
		t.Fatal("expected validation error for missing connection string")
	}
	if !strings.Contains(err.Error(), "connection_string") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMerge(t *testing.T) {
	cfg := storage.Config{
		ContainerName:    "documents",
		ConnectionString: "base",
		MaxListSize:      25,
	}

	cfg.Merge(&storage.Config{ContainerName: "exports"})

	if cfg.ContainerName != "exports" {
		t.Errorf("container_name: got %q, want %q", cfg.ContainerName, "exports")
	}
	if cfg.ConnectionString != "base" {
		t.Errorf("connection_string overwritten by zero value: %q", cfg.ConnectionString)
	}
	if cfg.MaxListSize != 25 {
		t.Errorf("max_list_size overwritten by zero value: %d", cfg.MaxListSize)
	}
}

func TestParseMaxResults(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		fallback int32
		expected int32
		wantErr  bool
	}{
		{"empty uses fallback", "", 50, 50, false},
		{"valid value", "20", 50, 20, false},
		{"capped at maximum", "9999", 50, storage.MaxListCap, false},
		{"zero rejected", "0", 50, 0, true},
		{"negative rejected", "-5", 50, 0, true},
		{"non-numeric rejected", "abc", 50, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.ParseMaxResults(tt.input, tt.fallback)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("got %d, want %d", got, tt.expected)
			}
		})
	}
}
