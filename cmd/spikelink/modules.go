package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/spikelink/internal/stub"
)

// modulesCmd represents the modules command
var modulesCmd = &cobra.Command{
	Use:   "modules [module]",
	Short: "List hub modules known to the import validator",
	Long: `List the hub-side MicroPython modules the import validator accepts,
or the symbols of one module.

Programs run with 'spikelink run' may only import these modules; a
custom catalog can be supplied with --catalog.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModules,
}

var modulesCatalogPath string

func init() {
	modulesCmd.Flags().StringVar(&modulesCatalogPath, "catalog", "", "Custom hub module catalog (YAML)")
}

func runModules(cmd *cobra.Command, args []string) error {
	catalog := stub.Default()
	if modulesCatalogPath != "" {
		var err error
		catalog, err = stub.Load(modulesCatalogPath)
		if err != nil {
			return err
		}
	}

	cmd.SilenceUsage = true

	if len(args) == 1 {
		return printModuleSymbols(cmd, catalog, args[0])
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tSYMBOLS")
	for _, name := range catalog.Modules() {
		symbols, _ := catalog.Symbols(name)
		fmt.Fprintf(w, "%s\t%d\n", name, len(symbols))
	}
	return w.Flush()
}

func printModuleSymbols(cmd *cobra.Command, catalog *stub.Catalog, name string) error {
	if !catalog.HasModule(name) {
		return fmt.Errorf("unknown module '%s' (run 'spikelink modules' for the list)", name)
	}
	symbols, _ := catalog.Symbols(name)
	if len(symbols) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: any symbol accepted\n", name)
		return nil
	}
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, strings.Join(sorted, ", "))
	return nil
}
