package backend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"burnrate/internal/config"
	"burnrate/internal/ports"
)

func TestFromAppConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Config
		want    BackendType
		wantErr bool
	}{
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "sqlite", cfg: &config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db"}, want: SQLiteBackend},
		{name: "memory", cfg: &config.Config{DataBackend: "memory"}, want: MemoryBackend},
		{name: "unknown", cfg: &config.Config{DataBackend: "sheets"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAppConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromAppConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.Type != tt.want {
				t.Errorf("FromAppConfig() type = %v, want %v", got.Type, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Type: SQLiteBackend}).Validate(); err == nil {
		t.Error("sqlite without path should fail")
	}
	if err := (Config{Type: "nope"}).Validate(); err == nil || !strings.Contains(err.Error(), "sqlite, memory") {
		t.Errorf("unknown type error = %v, want the valid types listed", err)
	}
	if err := (Config{Type: MemoryBackend}).Validate(); err != nil {
		t.Errorf("memory: %v", err)
	}
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	t.Run("memory", func(t *testing.T) {
		res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend})
		if err != nil {
			t.Fatalf("CreateBackend() error = %v", err)
		}
		defer res.Cleanup()
		if err := res.Store.SetSetting(ctx, "u1", ports.KeyAIBudget, "true"); err != nil {
			t.Fatalf("SetSetting() error = %v", err)
		}
	})

	t.Run("memory with seed", func(t *testing.T) {
		seed := filepath.Join(t.TempDir(), "seed.json")
		data := `{"users":{"u1":{"settings":{"financial_month_start_day":"5"}}}}`
		if err := os.WriteFile(seed, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
		res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend, SeedFile: seed})
		if err != nil {
			t.Fatalf("CreateBackend() error = %v", err)
		}
		defer res.Cleanup()
		ids, err := res.Store.UserIDs(ctx)
		if err != nil || len(ids) != 1 || ids[0] != "u1" {
			t.Errorf("UserIDs() = %v, %v; want [u1]", ids, err)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "burnrate.db")
		res, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: path})
		if err != nil {
			t.Fatalf("CreateBackend() error = %v", err)
		}
		if err := res.Cleanup(); err != nil {
			t.Errorf("Cleanup() error = %v", err)
		}
	})
}
