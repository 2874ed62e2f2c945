package core

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"regland/internal/infra/persistence/memory"
	"regland/pkg/genome"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	for _, env := range []string{EnvPromoterBP, EnvNearestMaxBP, EnvWindowCapBP, EnvVariantSpecies, EnvKnownTissues, EnvClassifySpecies, EnvParallelism, EnvExportOnRefresh, EnvMetrics} {
		t.Setenv(env, "")
	}
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.PromoterBP != 2_000 || cfg.NearestMaxBP != 100_000 || cfg.WindowCapBP != 500_000 || cfg.VariantSpecies != human {
		t.Fatalf("unexpected linker defaults %+v", cfg)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv(EnvPromoterBP, "1500")
	t.Setenv(EnvNearestMaxBP, "50000")
	t.Setenv(EnvWindowCapBP, "250000")
	t.Setenv(EnvVariantSpecies, "mouse_mm39")
	t.Setenv(EnvKnownTissues, "Brain, Lung ,")
	t.Setenv(EnvClassifySpecies, "human_hg38,mouse_mm39")
	t.Setenv(EnvParallelism, "4")
	t.Setenv(EnvExportOnRefresh, "false")
	t.Setenv(EnvMetrics, "Prometheus")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	want := Config{
		PromoterBP:      1500,
		NearestMaxBP:    50000,
		WindowCapBP:     250000,
		VariantSpecies:  "mouse_mm39",
		KnownTissues:    []string{"Brain", "Lung"},
		ClassifySpecies: []string{"human_hg38", "mouse_mm39"},
		Parallelism:     4,
		Metrics:         MetricsPrometheus,
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("got %+v want %+v", cfg, want)
	}
	lc := cfg.linkerConfig()
	if lc.PromoterBP != 1500 || lc.Parallelism != 4 || lc.VariantSpecies != "mouse_mm39" {
		t.Fatalf("unexpected linker config %+v", lc)
	}
}

func TestConfigFromEnvRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		EnvPromoterBP:      "wide",
		EnvParallelism:     "many",
		EnvExportOnRefresh: "sometimes",
		EnvNearestMaxBP:    "900000",
		EnvMetrics:         "statsd",
	}
	for env, value := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, value)
			if _, err := ConfigFromEnv(); err == nil {
				t.Fatalf("expected error for %s=%s", env, value)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.PromoterBP = 0 },
		func(c *Config) { c.NearestMaxBP = -1 },
		func(c *Config) { c.WindowCapBP = 0 },
		func(c *Config) { c.VariantSpecies = "" },
		func(c *Config) { c.Metrics = "graphite" },
	}
	for i, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestOpenPersistentStoreMemory(t *testing.T) {
	t.Setenv(EnvStorageDriver, string(StorageMemory))
	store, err := OpenPersistentStore(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenPersistentStoreSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regland.db")
	t.Setenv(EnvStorageDriver, "")
	t.Setenv(EnvSQLitePath, path)
	ctx := context.Background()
	store, err := OpenPersistentStore(ctx)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.ReplaceDataset(ctx, fixture()); err != nil {
		t.Fatalf("replace dataset: %v", err)
	}
	refreshed(t, WithStore(store))

	restored, err := NewServiceFromStore(ctx, store)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Tables().RunID != "run-1" || restored.Snapshot().Labels.Class(12) != genome.ClassConserved {
		t.Fatalf("sqlite round trip lost derived tables")
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	t.Setenv(EnvStorageDriver, "cassandra")
	if _, err := OpenPersistentStore(context.Background()); err == nil || !strings.Contains(err.Error(), "cassandra") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}
