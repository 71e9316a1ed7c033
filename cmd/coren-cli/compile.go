package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nilmpc/coren/compiler/bytecode"
	"github.com/nilmpc/coren/compiler/mir"
)

var compileOutput string

var compileCmd = &cobra.Command{
	Use:   "compile <program.json>",
	Short: "Lower a MIR program to bytecode",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

func init() {
	compileCmd.Flags().StringVarP(&compileOutput, "output", "o", "", "write the CBOR-encoded bytecode program here instead of stdout")
}

// loadMIR reads a mir.Program from its JSON form. mir.Program's field
// names are exported and its operand references are plain integers, so
// the struct round-trips through encoding/json without any bespoke
// marshaling.
func loadMIR(path string) (*mir.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var prog mir.Program
	if err := json.Unmarshal(data, &prog); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := prog.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return &prog, nil
}

func lowerToBytecode(prog *mir.Program) (*bytecode.Program, error) {
	bc, err := bytecode.Lower(prog)
	if err != nil {
		return nil, fmt.Errorf("lowering: %w", err)
	}
	return bc, nil
}

func compileToBytecode(path string) (*bytecode.Program, error) {
	prog, err := loadMIR(path)
	if err != nil {
		return nil, err
	}
	return lowerToBytecode(prog)
}

func runCompile(cmd *cobra.Command, args []string) error {
	bc, err := compileToBytecode(args[0])
	if err != nil {
		return err
	}
	encoded, err := bc.Encode()
	if err != nil {
		return fmt.Errorf("encoding bytecode: %w", err)
	}
	if compileOutput == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "compiled %d operations, %d outputs (%d bytes encoded)\n",
			len(bc.Operations), len(bc.Outputs), len(encoded))
		return nil
	}
	if err := os.WriteFile(compileOutput, encoded, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", compileOutput, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", compileOutput, len(encoded))
	return nil
}
