package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runModulesCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	modulesCmd.SetOut(&out)
	defer modulesCmd.SetOut(nil)

	err := runModules(modulesCmd, args)
	return out.String(), err
}

func TestModulesListsDefaultCatalog(t *testing.T) {
	modulesCatalogPath = ""

	out, err := runModulesCommand(t)
	require.NoError(t, err)

	assert.Contains(t, out, "MODULE")
	assert.Contains(t, out, "motor")
	assert.Contains(t, out, "hub")
	assert.Contains(t, out, "runloop")
}

func TestModulesShowsSymbolsOfOneModule(t *testing.T) {
	modulesCatalogPath = ""

	out, err := runModulesCommand(t, "motor")
	require.NoError(t, err)
	assert.Contains(t, out, "run_for_degrees")
	assert.Contains(t, out, "stop")
}

func TestModulesUnknownModule(t *testing.T) {
	modulesCatalogPath = ""

	_, err := runModulesCommand(t, "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestModulesCustomCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
modules:
  my_device:
    - wiggle
`), 0o644))

	modulesCatalogPath = path
	defer func() { modulesCatalogPath = "" }()

	out, err := runModulesCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "my_device")
	assert.NotContains(t, out, "motor")
}
