package domain_test

import (
	"testing"

	"mealcore/testutil"
)

// TestDomainDoesNotImportAdapters gives fast local feedback that mirrors the
// archcheck rules for the domain package.
func TestDomainDoesNotImportAdapters(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.Any(testutil.InternalImportForbidden, testutil.DriverImportForbidden),
		"domain must stay free of adapters")
}

// TestDomainHasNoTransitiveDriverDependency catches drivers pulled in through
// third-party packages.
func TestDomainHasNoTransitiveDriverDependency(t *testing.T) {
	if testing.Short() {
		t.Skip("shells out to go list")
	}
	testutil.AssertNoTransitiveDependency(t, ".", testutil.ExternalDriverForbidden, "domain must not depend on drivers")
}
