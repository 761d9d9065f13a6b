// Package stub provides the static catalog of hub-side MicroPython
// modules and their exposed symbols. The protocol core consults it
// before upload to reject code referencing modules the hub cannot
// import; the catalog itself is read-only collaborator data.
package stub

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// UnknownModuleError reports a referenced module the hub does not
// provide.
type UnknownModuleError struct {
	Module string
}

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("unknown hub module %q", e.Module)
}

// UnknownSymbolError reports a from-import of a symbol the catalog
// does not list for an otherwise known module.
type UnknownSymbolError struct {
	Module string
	Symbol string
}

func (e *UnknownSymbolError) Error() string {
	return fmt.Sprintf("module %q has no symbol %q", e.Module, e.Symbol)
}

// catalogFile is the YAML representation of a catalog.
type catalogFile struct {
	Modules map[string][]string `yaml:"modules"`
}

// Catalog maps hub module names to their exposed symbols. Iteration
// order is the sorted module name order, kept stable for listings.
type Catalog struct {
	modules *orderedmap.OrderedMap[string, []string]
}

// Default returns the catalog of modules the SPIKE hub firmware
// ships, embedded at build time.
func Default() *Catalog {
	cat, err := Parse(defaultCatalogYAML)
	if err != nil {
		// The embedded catalog is validated by tests; reaching this
		// means a broken build.
		panic(fmt.Sprintf("embedded stub catalog is invalid: %v", err))
	}
	return cat
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	if len(file.Modules) == 0 {
		return nil, fmt.Errorf("catalog lists no modules")
	}

	names := make([]string, 0, len(file.Modules))
	for name := range file.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	modules := orderedmap.New[string, []string]()
	for _, name := range names {
		symbols := append([]string(nil), file.Modules[name]...)
		sort.Strings(symbols)
		modules.Set(name, symbols)
	}
	return &Catalog{modules: modules}, nil
}

// Modules returns the module names in stable order.
func (c *Catalog) Modules() []string {
	names := make([]string, 0, c.modules.Len())
	for pair := c.modules.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Symbols returns the symbols of a module and whether it exists. An
// empty symbol list means the module is known but opaque: any symbol
// passes validation.
func (c *Catalog) Symbols(module string) ([]string, bool) {
	symbols, ok := c.modules.Get(module)
	if !ok {
		return nil, false
	}
	return append([]string(nil), symbols...), true
}

// HasModule reports whether the hub provides module.
func (c *Catalog) HasModule(module string) bool {
	_, ok := c.modules.Get(module)
	return ok
}

// Validate checks every hub-module reference in source against the
// catalog. The first unresolvable module or symbol fails validation;
// modules outside the catalog namespace (MicroPython builtins) are
// checked only when imported with a catalog prefix.
func (c *Catalog) Validate(source []byte) error {
	refs := ExtractImports(source)
	for _, ref := range refs {
		symbols, known := c.Symbols(ref.Module)
		if !known {
			if isBuiltinModule(ref.Module) {
				continue
			}
			return &UnknownModuleError{Module: ref.Module}
		}
		if len(symbols) == 0 || len(ref.Symbols) == 0 {
			continue
		}
		for _, sym := range ref.Symbols {
			if sym == "*" {
				continue
			}
			if !containsString(symbols, sym) {
				return &UnknownSymbolError{Module: ref.Module, Symbol: sym}
			}
		}
	}
	return nil
}

// builtinModules are MicroPython standard modules always present on
// the hub runtime, outside the stub catalog's namespace.
var builtinModules = map[string]struct{}{
	"math":        {},
	"random":      {},
	"time":        {},
	"sys":         {},
	"os":          {},
	"gc":          {},
	"json":        {},
	"struct":      {},
	"asyncio":     {},
	"micropython": {},
}

func isBuiltinModule(name string) bool {
	_, ok := builtinModules[name]
	return ok
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
