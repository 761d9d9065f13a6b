package stub

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	cat := Default()

	modules := cat.Modules()
	require.NotEmpty(t, modules)
	assert.True(t, sort.StringsAreSorted(modules), "module listing must be in stable sorted order")

	for _, name := range []string{"hub", "motor", "motor_pair", "color_sensor", "runloop"} {
		assert.True(t, cat.HasModule(name), "module %q missing from embedded catalog", name)
	}

	symbols, ok := cat.Symbols("motor")
	require.True(t, ok)
	assert.Contains(t, symbols, "run_for_degrees")
	assert.Contains(t, symbols, "stop")
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	_, err := Parse([]byte("modules: [not a map]"))
	assert.Error(t, err)

	_, err = Parse([]byte("unrelated: true"))
	assert.ErrorContains(t, err, "no modules")
}

func TestLoadCustomCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
modules:
  custom_device:
    - ping
    - blink
  opaque: []
`), 0o644))

	cat, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"custom_device", "opaque"}, cat.Modules())

	symbols, ok := cat.Symbols("custom_device")
	require.True(t, ok)
	assert.Equal(t, []string{"blink", "ping"}, symbols)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cat := Default()

	tests := []struct {
		name    string
		source  string
		wantErr func(t *testing.T, err error)
	}{
		{
			name:   "known modules pass",
			source: "import motor\nfrom hub import port, light_matrix\n",
		},
		{
			name:   "builtins pass",
			source: "import time\nimport random\nfrom math import sin\n",
		},
		{
			name:   "star import passes",
			source: "from color import *\n",
		},
		{
			name:   "no imports pass",
			source: "print('hello')\n",
		},
		{
			name:   "unknown module",
			source: "import motr\n",
			wantErr: func(t *testing.T, err error) {
				var unknown *UnknownModuleError
				require.ErrorAs(t, err, &unknown)
				assert.Equal(t, "motr", unknown.Module)
			},
		},
		{
			name:   "unknown module in from-import",
			source: "from requests import get\n",
			wantErr: func(t *testing.T, err error) {
				var unknown *UnknownModuleError
				require.ErrorAs(t, err, &unknown)
				assert.Equal(t, "requests", unknown.Module)
			},
		},
		{
			name:   "unknown symbol",
			source: "from motor import run_backwards\n",
			wantErr: func(t *testing.T, err error) {
				var unknown *UnknownSymbolError
				require.ErrorAs(t, err, &unknown)
				assert.Equal(t, "motor", unknown.Module)
				assert.Equal(t, "run_backwards", unknown.Symbol)
			},
		},
		{
			name:   "plain import skips symbol checks",
			source: "import motor\nmotor.whatever()\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cat.Validate([]byte(tt.source))
			if tt.wantErr != nil {
				require.Error(t, err)
				tt.wantErr(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateOpaqueModule(t *testing.T) {
	cat, err := Parse([]byte(`
modules:
  opaque: []
`))
	require.NoError(t, err)

	assert.NoError(t, cat.Validate([]byte("from opaque import anything\n")))
}
