// Command coren-cli is the operator CLI for the execution engine: it
// compiles MIR programs to bytecode, plans them into protocol graphs,
// runs them against an in-process simulated cluster, benchmarks them,
// and drives threshold key generation and signing.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	networkSize int
	degree      int
	primeName   string
	strategy    string
)

var rootCmd = &cobra.Command{
	Use:   "coren-cli",
	Short: "Compile, plan, and run secret-shared computations on a local cluster",
	Long: `coren-cli drives the compiler, planner, and VM against an in-process
simulated party cluster. It is a development and benchmarking tool, not a
network client: every subcommand spins up its own local cluster, runs the
job to completion, and exits.`,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&networkSize, "parties", 3, "number of parties in the simulated cluster")
	rootCmd.PersistentFlags().IntVar(&degree, "degree", 1, "Shamir polynomial degree (threshold - 1)")
	rootCmd.PersistentFlags().StringVar(&primeName, "prime", "256", "field size: 64, 128, or 256 bits")
	rootCmd.PersistentFlags().StringVar(&strategy, "strategy", "parallel", "plan strategy: parallel or sequential")

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(keygenThresholdCmd)
	rootCmd.AddCommand(signThresholdCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "coren-cli:", err)
		os.Exit(1)
	}
}
