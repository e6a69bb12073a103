// dwarvesdump is a CLI tool for extracting the declaration model from the
// DWARF debug information of ELF files.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jtang613/godwarves/pkg/dwarves"
	"github.com/jtang613/godwarves/pkg/dwarves/loader"
)

var (
	showInfo      bool
	showTypes     bool
	showFunctions bool
	showVariables bool
	showAll       bool
	prettyPrint   bool
	textOutput    bool

	extraDbgInfo        bool
	addrInfo            bool
	fixupSillyBitfields bool
)

func main() {
	root := &cobra.Command{
		Use:   "dwarvesdump [flags] <elf-file>",
		Short: "Dump the declaration model of an ELF file's DWARF info",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(args[0])
		},
	}

	flags := root.Flags()
	flags.BoolVar(&showInfo, "info", false, "Show per-unit information")
	flags.BoolVar(&showTypes, "types", false, "List all types")
	flags.BoolVar(&showFunctions, "functions", false, "List all functions")
	flags.BoolVar(&showVariables, "variables", false, "List all variables")
	flags.BoolVar(&showAll, "all", false, "Show all information")
	flags.BoolVar(&prettyPrint, "pretty", false, "Pretty-print JSON output")
	flags.BoolVar(&textOutput, "text", false, "Human-readable output instead of JSON")
	flags.BoolVar(&extraDbgInfo, "extra-dbg-info", false, "Keep extra debug info (decl files and lines)")
	flags.BoolVar(&addrInfo, "addr-info", false, "Capture addresses for variables, labels and scopes")
	flags.BoolVar(&fixupSillyBitfields, "fixup-silly-bitfields", false, "Clear bitfield attributes of full-width bitfields")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(path string) error {
	conf := &dwarves.Conf{
		ExtraDbgInfo:        extraDbgInfo,
		GetAddrInfo:         addrInfo,
		FixupSillyBitfields: fixupSillyBitfields,
	}

	cus, err := loader.Load(path, conf)
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", path)
	}

	// Default to showing info if no selection was made.
	if !showInfo && !showTypes && !showFunctions && !showVariables && !showAll {
		showInfo = true
	}

	if textOutput {
		return dumpText(cus)
	}
	return dumpJSON(cus)
}

func dumpJSON(cus *dwarves.CUs) error {
	result := make(map[string]interface{})

	if showInfo || showAll {
		infos := make([]dwarves.CUInfo, 0, cus.Len())
		for _, cu := range cus.Units {
			infos = append(infos, cu.Info())
		}
		result["info"] = infos
	}
	if showTypes || showAll {
		result["types"] = cus.AllTypes()
	}
	if showFunctions || showAll {
		result["functions"] = cus.AllFunctions()
	}
	if showVariables || showAll {
		result["variables"] = cus.AllVariables()
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetEscapeHTML(false)
	if prettyPrint {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(result)
}

func dumpText(cus *dwarves.CUs) error {
	heading := color.New(color.FgCyan, color.Bold)
	kindCol := color.New(color.FgYellow)

	for _, cu := range cus.Units {
		heading.Printf("CU %s (%s)\n", cu.Name, cu.Filename)
		if showInfo || showAll {
			info := cu.Info()
			fmt.Printf("  pointer size %d, %d types, %d tags, %d functions\n",
				info.PointerSize, info.Types, info.Tags, info.Functions)
		}
		if showTypes || showAll {
			for _, ti := range cu.TypeInfos() {
				kindCol.Printf("  %-16s", ti.Kind)
				fmt.Printf(" %s", ti.Name)
				if ti.Size != 0 {
					fmt.Printf(" /* size: %d */", ti.Size)
				}
				fmt.Println()
				for _, m := range ti.Members {
					fmt.Printf("      %s %s; /* %d(%d) */\n",
						m.TypeName, m.Name, m.ByteOffset, m.ByteSize)
				}
			}
		}
		if showFunctions || showAll {
			for _, fi := range cu.FunctionInfos() {
				fmt.Printf("  %s %s\n", fi.Signature, fi.Name)
			}
		}
		if showVariables || showAll {
			for _, vi := range cu.VariableInfos() {
				fmt.Printf("  %s %s; /* %s */\n", vi.TypeName, vi.Name, vi.Location)
			}
		}
	}
	return nil
}
