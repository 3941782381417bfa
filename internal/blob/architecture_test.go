package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyBlobPackageImportsDrivers ensures the factory here is the single
// production wrapper around the infra blob drivers. Everything else must
// depend on the core.Store interface. Test packages are exempt; they may
// construct the memory driver directly.
func TestOnlyBlobPackageImportsDrivers(t *testing.T) {
	driverPrefix := "geodraft/internal/infra/blob"
	allowedPrefix := "geodraft/internal/blob"

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "geodraft/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if strings.HasPrefix(pkg.PkgPath, allowedPrefix) || strings.HasPrefix(pkg.PkgPath, driverPrefix) {
			continue
		}
		for importPath := range pkg.Imports {
			if importPath == driverPrefix || strings.HasPrefix(importPath, driverPrefix+"/") {
				seen[pkg.PkgPath+": "+importPath] = struct{}{}
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
			t.Errorf("forbidden import of blob driver package: %s", v)
		}
		t.Fatalf("found %d forbidden imports of blob driver packages", len(violations))
	}
}
