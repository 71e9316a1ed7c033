package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nilmpc/coren/compiler/protocol"
	"github.com/nilmpc/coren/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan <program.json>",
	Short: "Build the protocol graph and execution plan for a program",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	bc, err := compileToBytecode(args[0])
	if err != nil {
		return err
	}
	graph, err := protocol.Bytecode2Protocol(bc)
	if err != nil {
		return fmt.Errorf("building protocol graph: %w", err)
	}

	f, err := selectPrime(primeName)
	if err != nil {
		return err
	}
	strat, err := selectStrategy(strategy)
	if err != nil {
		return err
	}

	// plan is for structural inspection only (step/address/kind shape),
	// identical across every party for a given graph and strategy, so a
	// single representative party's pool is enough here; run and bench
	// build one plan per party since they execute real secret values.
	cluster := newLocalCluster(f, 1)
	pools, err := fillPreprocessingPools(cluster, 4095)
	if err != nil {
		return fmt.Errorf("filling preprocessing pool: %w", err)
	}

	plan, err := planner.Build(graph, pools[cluster.parties[0]], strat)
	if err != nil {
		return fmt.Errorf("building plan: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d protocols, %d steps (%s)\n", len(graph.Protocols), len(plan.Steps), strategy)
	for i, step := range plan.Steps {
		fmt.Fprintf(out, "  step %d: %d protocol(s)\n", i, len(step))
		for _, bp := range step {
			line := "local"
			if bp.Protocol.Line == protocol.Online {
				line = "online"
			}
			fmt.Fprintf(out, "    addr=%d kind=%d variant=%d (%s)\n", bp.Protocol.Address, bp.Protocol.Kind, bp.Protocol.Variant, line)
		}
	}
	return nil
}
