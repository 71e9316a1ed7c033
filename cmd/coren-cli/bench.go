package main

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nilmpc/coren/compiler/mir"
	"github.com/nilmpc/coren/compiler/protocol"
	"github.com/nilmpc/coren/pkg/metrics"
	"github.com/nilmpc/coren/pkg/nada"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/planner"
	"github.com/nilmpc/coren/vm"
)

var benchIterations int

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark a secret-shared multiplication chain across the simulated cluster",
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchIterations, "iterations", 20, "number of chained multiplications in the benchmark program")
}

// chainedMultiplicationProgram builds a*b*b*b*... (n multiplications deep)
// over two secret integer inputs, a small program shaped to exercise
// protocols/mult's Online round repeatedly.
func chainedMultiplicationProgram(n int) *mir.Program {
	secretInt := nada.NewPrimitive(nada.Secret, nada.Integer)
	prog := &mir.Program{
		Inputs: []mir.Input{
			{Name: "a", Type: secretInt, Party: 0},
			{Name: "b", Type: secretInt, Party: 0},
		},
	}
	acc := mir.In(0)
	for i := 0; i < n; i++ {
		id := uint64(len(prog.Operations))
		prog.Operations = append(prog.Operations, mir.Operation{
			ID:       id,
			Kind:     mir.OpMul,
			Type:     secretInt,
			Operands: []mir.OperandRef{acc, mir.In(1)},
		})
		acc = mir.Op(id)
	}
	prog.Outputs = []mir.Output{{Name: "result", Type: secretInt, Party: 0, Operation: acc.Index}}
	return prog
}

func runBench(cmd *cobra.Command, args []string) error {
	f, err := selectPrime(primeName)
	if err != nil {
		return err
	}
	strat, err := selectStrategy(strategy)
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry()
	prog := chainedMultiplicationProgram(benchIterations)
	bc, err := lowerToBytecode(prog)
	if err != nil {
		return err
	}
	graph, err := protocol.Bytecode2Protocol(bc)
	if err != nil {
		return err
	}

	cluster := newLocalCluster(f, networkSize)
	pools, err := fillPreprocessingPools(cluster, uint64(benchIterations*8+64))
	if err != nil {
		return err
	}
	aShares, err := cluster.sharer.GenerateShares(f.FromInt64(3), degree, rand.Reader)
	if err != nil {
		return err
	}
	bShares, err := cluster.sharer.GenerateShares(f.FromInt64(2), degree, rand.Reader)
	if err != nil {
		return err
	}

	start := time.Now()
	vms := make(map[party.ID]*vm.ExecutionVm, len(cluster.parties))
	stepCount := 0
	for _, p := range cluster.parties {
		plan, err := planner.Build(graph, pools[p], strat)
		if err != nil {
			return err
		}
		stepCount = len(plan.Steps)
		values := map[string]nada.Value{
			"a": nada.NewSecretInteger(aShares[p]),
			"b": nada.NewSecretInteger(bShares[p]),
		}
		instance, err := vm.New("coren-cli-bench", bc, plan, values, p, cluster.parties, cluster.sharer, f)
		if err != nil {
			return err
		}
		vms[p] = instance
	}

	results, err := runNetwork(vms)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	registry.Histogram("bench.run_duration_ms").Observe(float64(elapsed.Milliseconds()))
	registry.Counter("bench.steps").Add(float64(stepCount))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "parties=%d degree=%d multiplications=%d steps=%d elapsed=%s\n",
		networkSize, degree, benchIterations, stepCount, elapsed)
	for name, val := range registry.Snapshot() {
		fmt.Fprintf(out, "  %s = %g\n", name, val)
	}
	for _, p := range cluster.parties {
		if v, ok := results[p]["result"]; ok {
			fmt.Fprintf(out, "  party %s result = %s\n", p, formatValue(v))
			break
		}
	}
	return nil
}
