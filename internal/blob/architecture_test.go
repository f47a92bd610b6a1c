package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Each backend tree may only be imported by its own packages and by the one
// package that selects a backend from the environment.
var backendOwners = []struct {
	tree  string
	owner string
}{
	{tree: "pulse/internal/infra/blob", owner: "pulse/internal/blob"},
	{tree: "pulse/internal/infra/persistence", owner: "pulse/internal/core"},
}

func TestBackendsOnlyImportedByTheirFactory(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "pulse/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		for _, rule := range backendOwners {
			if within(pkg.PkgPath, rule.owner) || within(pkg.PkgPath, rule.tree) {
				continue
			}
			for importPath := range pkg.Imports {
				if within(importPath, rule.tree) {
					seen[pkg.PkgPath+": "+importPath] = struct{}{}
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
			t.Errorf("backend imported outside its factory: %s", v)
		}
		t.Fatalf("found %d forbidden backend imports", len(violations))
	}
}

// within reports whether path is root, a package below it, or one of root's
// test packages.
func within(path, root string) bool {
	if path == root {
		return true
	}
	for _, sep := range []string{"/", "_test", ".test"} {
		if strings.HasPrefix(path, root+sep) {
			return true
		}
	}
	return false
}

func TestWithin(t *testing.T) {
	cases := map[string]bool{
		"pulse/internal/blob":         true,
		"pulse/internal/blob/core":    true,
		"pulse/internal/blob_test":    true,
		"pulse/internal/blob.test":    true,
		"pulse/internal/blobstore":    false,
		"pulse/internal/infra/blobfs": false,
	}
	for path, want := range cases {
		if got := within(path, "pulse/internal/blob"); got != want {
			t.Fatalf("within(%q) = %v, want %v", path, got, want)
		}
	}
}
