package globe

import (
	"testing"

	"pulse/testutil"
)

// The adapter talks to the service through its own interfaces so it can be
// mounted over any engine.
func TestGlobeAdapterDoesNotImportCore(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.CoreImportForbidden, "internal/adapters/globe must not import internal/core")
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "internal/adapters/globe must not import infra backends")
}
