package main

import (
	"testing"

	"labcore/testutil"
)

func TestCLIUsesFacadesOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "backends are chosen by configuration")
}
