package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"regland/internal/linker"
	"regland/internal/quality"
)

// Config carries the tunables of the batch passes and the query facade.
type Config struct {
	PromoterBP     int64
	NearestMaxBP   int64
	WindowCapBP    int64
	VariantSpecies string
	// KnownTissues is the tissue set of the high-confidence view.
	KnownTissues []string
	// ClassifySpecies limits classification; empty means every species.
	ClassifySpecies []string
	// Parallelism bounds per-contig workers; <= 0 means unbounded.
	Parallelism int
	// ExportOnRefresh exports each committed refresh when an exporter is set.
	ExportOnRefresh bool
	// Metrics selects the metrics backend of the command line.
	Metrics MetricsBackend
}

// MetricsBackend names a MetricsRecorder implementation.
type MetricsBackend string

// Supported metrics backends.
const (
	MetricsExpvar     MetricsBackend = "expvar"
	MetricsPrometheus MetricsBackend = "prometheus"
)

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	lc := linker.DefaultConfig()
	return Config{
		PromoterBP:      lc.PromoterBP,
		NearestMaxBP:    lc.NearestMaxBP,
		WindowCapBP:     lc.WindowCapBP,
		VariantSpecies:  lc.VariantSpecies,
		KnownTissues:    append([]string(nil), quality.DefaultKnownTissues...),
		ExportOnRefresh: true,
		Metrics:         MetricsExpvar,
	}
}

// Environment variables read by ConfigFromEnv.
const (
	EnvPromoterBP      = "REGLAND_PROMOTER_BP"
	EnvNearestMaxBP    = "REGLAND_NEAREST_MAX_BP"
	EnvWindowCapBP     = "REGLAND_WINDOW_CAP_BP"
	EnvVariantSpecies  = "REGLAND_VARIANT_SPECIES"
	EnvKnownTissues    = "REGLAND_KNOWN_TISSUES"
	EnvClassifySpecies = "REGLAND_CLASSIFY_SPECIES"
	EnvParallelism     = "REGLAND_PARALLELISM"
	EnvExportOnRefresh = "REGLAND_EXPORT_ON_REFRESH"
	EnvMetrics         = "REGLAND_METRICS"
)

// ConfigFromEnv overlays REGLAND_* variables on DefaultConfig. Lists are
// comma separated.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	ints := []struct {
		env string
		dst *int64
	}{
		{EnvPromoterBP, &cfg.PromoterBP},
		{EnvNearestMaxBP, &cfg.NearestMaxBP},
		{EnvWindowCapBP, &cfg.WindowCapBP},
	}
	for _, it := range ints {
		v := strings.TrimSpace(os.Getenv(it.env))
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", it.env, err)
		}
		*it.dst = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvParallelism)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvParallelism, err)
		}
		cfg.Parallelism = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvExportOnRefresh)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvExportOnRefresh, err)
		}
		cfg.ExportOnRefresh = b
	}
	if v := strings.TrimSpace(os.Getenv(EnvVariantSpecies)); v != "" {
		cfg.VariantSpecies = v
	}
	if list := splitList(os.Getenv(EnvKnownTissues)); len(list) > 0 {
		cfg.KnownTissues = list
	}
	if v := strings.TrimSpace(os.Getenv(EnvMetrics)); v != "" {
		cfg.Metrics = MetricsBackend(strings.ToLower(v))
	}
	cfg.ClassifySpecies = splitList(os.Getenv(EnvClassifySpecies))
	return cfg, cfg.Validate()
}

// Validate rejects non-positive tier widths, a nearest limit beyond the
// window cap and unknown metrics backends. An empty backend means expvar.
func (c Config) Validate() error {
	switch {
	case c.PromoterBP <= 0:
		return fmt.Errorf("promoter width must be positive, got %d", c.PromoterBP)
	case c.NearestMaxBP <= 0:
		return fmt.Errorf("nearest limit must be positive, got %d", c.NearestMaxBP)
	case c.WindowCapBP <= 0:
		return fmt.Errorf("window cap must be positive, got %d", c.WindowCapBP)
	case c.NearestMaxBP > c.WindowCapBP:
		return fmt.Errorf("nearest limit %d exceeds window cap %d", c.NearestMaxBP, c.WindowCapBP)
	case c.VariantSpecies == "":
		return fmt.Errorf("variant species required")
	case c.Metrics != "" && c.Metrics != MetricsExpvar && c.Metrics != MetricsPrometheus:
		return fmt.Errorf("unknown metrics backend %q", c.Metrics)
	}
	return nil
}

func (c Config) linkerConfig() linker.Config {
	return linker.Config{
		PromoterBP:     c.PromoterBP,
		NearestMaxBP:   c.NearestMaxBP,
		WindowCapBP:    c.WindowCapBP,
		VariantSpecies: c.VariantSpecies,
		Parallelism:    c.Parallelism,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
