package stub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractImports(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []ImportRef
	}{
		{
			name:   "plain import",
			source: "import motor\n",
			want:   []ImportRef{{Module: "motor"}},
		},
		{
			name:   "multiple modules on one line",
			source: "import motor, hub\n",
			want:   []ImportRef{{Module: "motor"}, {Module: "hub"}},
		},
		{
			name:   "import with alias",
			source: "import motor_pair as pair\n",
			want:   []ImportRef{{Module: "motor_pair"}},
		},
		{
			name:   "from import",
			source: "from hub import port, light_matrix\n",
			want:   []ImportRef{{Module: "hub", Symbols: []string{"port", "light_matrix"}}},
		},
		{
			name:   "from import with alias",
			source: "from hub import light_matrix as lm\n",
			want:   []ImportRef{{Module: "hub", Symbols: []string{"light_matrix"}}},
		},
		{
			name:   "star import",
			source: "from color import *\n",
			want:   []ImportRef{{Module: "color", Symbols: []string{"*"}}},
		},
		{
			name:   "dotted path reduces to top level",
			source: "from hub.port import A\nimport app.sound\n",
			want: []ImportRef{
				{Module: "hub", Symbols: []string{"A"}},
				{Module: "app"},
			},
		},
		{
			name:   "comments stripped",
			source: "import motor  # drive the wheels\n# import fake_module\n",
			want:   []ImportRef{{Module: "motor"}},
		},
		{
			name: "indented imports inside functions",
			source: "def setup():\n" +
				"    import motor\n" +
				"    from hub import port\n",
			want: []ImportRef{
				{Module: "motor"},
				{Module: "hub", Symbols: []string{"port"}},
			},
		},
		{
			name:   "duplicates merge keeping first-seen order",
			source: "from hub import port\nimport motor\nfrom hub import button\n",
			want: []ImportRef{
				{Module: "hub", Symbols: []string{"port", "button"}},
				{Module: "motor"},
			},
		},
		{
			name:   "no imports",
			source: "print('hello')\nx = 1\n",
			want:   nil,
		},
		{
			name:   "import keyword in strings is not perfect but plain code is",
			source: "import runloop\nprint('import nothing')\n",
			want:   []ImportRef{{Module: "runloop"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractImports([]byte(tt.source))
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].Module, got[i].Module)
				assert.Equal(t, tt.want[i].Symbols, got[i].Symbols)
			}
		})
	}
}

func TestSplitNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitNames("(a, b as x, c)"))
	assert.Equal(t, []string{"motor"}, splitNames("motor"))
	assert.Empty(t, splitNames("  "))
}
