package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

type layerRule struct {
	name      string
	applies   func(pkgPath string) bool
	forbidden []string
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// TestPackageLayering keeps infra backends behind their facades and the
// analysis packages free of storage concerns.
func TestPackageLayering(t *testing.T) {
	analysis := []string{
		"regland/pkg/genome",
		"regland/internal/intervals",
		"regland/internal/conservation",
		"regland/internal/linker",
		"regland/internal/window",
		"regland/internal/binning",
		"regland/internal/enrichment",
		"regland/internal/quality",
	}
	rules := []layerRule{
		{
			name: "infra blob only via internal/blob",
			applies: func(p string) bool {
				return !hasPathPrefix(p, "regland/internal/blob") && !hasPathPrefix(p, "regland/internal/infra/blob")
			},
			forbidden: []string{"regland/internal/infra/blob"},
		},
		{
			name: "analysis packages stay storage free",
			applies: func(p string) bool {
				for _, a := range analysis {
					if hasPathPrefix(p, a) {
						return true
					}
				}
				return false
			},
			forbidden: []string{"database/sql", "regland/internal/infra", "regland/internal/blob", "regland/internal/core"},
		},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "regland/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		for _, rule := range rules {
			if !rule.applies(pkg.PkgPath) {
				continue
			}
			for imp := range pkg.Imports {
				for _, f := range rule.forbidden {
					if hasPathPrefix(imp, f) {
						seen[rule.name+": "+pkg.PkgPath+" imports "+imp] = struct{}{}
					}
				}
			}
		}
	}
	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("layering violation: %s", v)
		}
		t.Fatalf("found %d layering violations", len(violations))
	}
}
