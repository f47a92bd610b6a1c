package globeapi

import (
	"testing"

	"pulse/testutil"
)

// The contract package is consumed by external renderers and must not pull in
// internal implementation packages.
func TestGlobeAPIDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/globeapi must stay free of internal packages")
}
