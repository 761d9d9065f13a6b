package stub

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// ImportRef is one module reference found in uploaded source. Symbols
// is empty for plain "import x" forms.
type ImportRef struct {
	Module  string
	Symbols []string
}

var (
	// import a, b as c
	importRe = regexp.MustCompile(`^\s*import\s+(.+?)\s*$`)
	// from a.b import x, y as z  /  from a import *
	fromImportRe = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\s+(.+?)\s*$`)
)

// ExtractImports scans Python source line by line for import
// statements and returns the referenced top-level modules with any
// from-imported symbols. Comments and trailing "as" aliases are
// stripped; deduplication keeps first-seen order.
func ExtractImports(source []byte) []ImportRef {
	var refs []ImportRef
	index := map[string]int{}

	add := func(module string, symbols []string) {
		module = topLevel(module)
		if module == "" {
			return
		}
		if i, ok := index[module]; ok {
			refs[i].Symbols = append(refs[i].Symbols, symbols...)
			return
		}
		index[module] = len(refs)
		refs = append(refs, ImportRef{Module: module, Symbols: symbols})
	}

	scanner := bufio.NewScanner(bytes.NewReader(source))
	for scanner.Scan() {
		line := stripComment(scanner.Text())

		if m := fromImportRe.FindStringSubmatch(line); m != nil {
			add(m[1], splitNames(m[2]))
			continue
		}
		if m := importRe.FindStringSubmatch(line); m != nil {
			for _, name := range splitNames(m[1]) {
				add(name, nil)
			}
		}
	}
	return refs
}

// topLevel reduces a dotted module path to its first segment, which is
// the name the hub resolves.
func topLevel(module string) string {
	if i := strings.IndexByte(module, '.'); i >= 0 {
		return module[:i]
	}
	return module
}

// splitNames parses "a, b as c, (d, e)" into bare names.
func splitNames(list string) []string {
	list = strings.Trim(list, "()")
	parts := strings.Split(list, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		// drop "as alias"
		if i := strings.Index(name, " as "); i >= 0 {
			name = name[:i]
		}
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}
