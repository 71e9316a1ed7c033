package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/spf13/cobra"

	"github.com/nilmpc/coren/compiler/mir"
	"github.com/nilmpc/coren/compiler/protocol"
	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/nada"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/planner"
	"github.com/nilmpc/coren/vm"
)

var inputsPath string

var runCmd = &cobra.Command{
	Use:   "run <program.json>",
	Short: "Compile, plan, and execute a program against a local simulated cluster",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVarP(&inputsPath, "inputs", "i", "", "JSON file mapping input names to their textual literal values (required)")
}

// loadInputValues reads a flat name->literal-text JSON map and, for every
// input the program declares, builds either one shared public nada.Value
// or a map of per-party secret shares.
func loadInputValues(path string, prog *mir.Program, c *localCluster) (map[string]nada.Value, map[party.ID]map[string]nada.Value, error) {
	raw := map[string]string{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	public := map[string]nada.Value{}
	perParty := make(map[party.ID]map[string]nada.Value, len(c.parties))
	for _, p := range c.parties {
		perParty[p] = map[string]nada.Value{}
	}

	for _, in := range prog.Inputs {
		text, ok := raw[in.Name]
		if !ok {
			return nil, nil, fmt.Errorf("missing value for input %q", in.Name)
		}
		if in.Type.Kind == nada.Public {
			v, err := literalValue(in.Type, text)
			if err != nil {
				return nil, nil, fmt.Errorf("input %q: %w", in.Name, err)
			}
			public[in.Name] = v
			continue
		}
		shares, err := secretShares(c, in.Type, text)
		if err != nil {
			return nil, nil, fmt.Errorf("input %q: %w", in.Name, err)
		}
		for p, v := range shares {
			perParty[p][in.Name] = v
		}
	}
	return public, perParty, nil
}

func literalValue(typ nada.Type, text string) (nada.Value, error) {
	switch typ.Primitive {
	case nada.Integer:
		n, ok := new(big.Int).SetString(text, 10)
		if !ok {
			return nada.Value{}, fmt.Errorf("%q is not an integer", text)
		}
		return nada.NewPublicInteger(n), nil
	case nada.Boolean:
		switch text {
		case "true":
			return nada.NewPublicBoolean(true), nil
		case "false":
			return nada.NewPublicBoolean(false), nil
		}
		return nada.Value{}, fmt.Errorf("%q is not a boolean", text)
	default:
		return nada.Value{}, fmt.Errorf("unsupported public input primitive %s", typ.Primitive)
	}
}

func secretShares(c *localCluster, typ nada.Type, text string) (map[party.ID]nada.Value, error) {
	var scalar field.Element
	switch typ.Primitive {
	case nada.Integer:
		n, ok := new(big.Int).SetString(text, 10)
		if !ok {
			return nil, fmt.Errorf("%q is not an integer", text)
		}
		scalar = c.field.NewElement(n)
	case nada.Boolean:
		switch text {
		case "true":
			scalar = c.field.One()
		case "false":
			scalar = c.field.Zero()
		default:
			return nil, fmt.Errorf("%q is not a boolean", text)
		}
	default:
		return nil, fmt.Errorf("unsupported secret input primitive %s", typ.Primitive)
	}

	raw, err := c.sharer.GenerateShares(scalar, degree, rand.Reader)
	if err != nil {
		return nil, err
	}
	out := make(map[party.ID]nada.Value, len(raw))
	for p, share := range raw {
		if typ.Primitive == nada.Boolean {
			out[p] = nada.NewSecretBoolean(share)
		} else {
			out[p] = nada.NewSecretInteger(share)
		}
	}
	return out, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	if inputsPath == "" {
		return fmt.Errorf("--inputs is required")
	}

	prog, err := loadMIR(args[0])
	if err != nil {
		return err
	}
	bc, err := lowerToBytecode(prog)
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

	cluster := newLocalCluster(f, networkSize)
	public, perParty, err := loadInputValues(inputsPath, prog, cluster)
	if err != nil {
		return err
	}

	pools, err := fillPreprocessingPools(cluster, 4095)
	if err != nil {
		return fmt.Errorf("filling preprocessing pools: %w", err)
	}

	vms := make(map[party.ID]*vm.ExecutionVm, len(cluster.parties))
	for _, p := range cluster.parties {
		plan, err := planner.Build(graph, pools[p], strat)
		if err != nil {
			return fmt.Errorf("building plan for party %s: %w", p, err)
		}
		values := map[string]nada.Value{}
		for k, v := range public {
			values[k] = v
		}
		for k, v := range perParty[p] {
			values[k] = v
		}
		instance, err := vm.New("coren-cli", bc, plan, values, p, cluster.parties, cluster.sharer, f)
		if err != nil {
			return fmt.Errorf("party %s: %w", p, err)
		}
		vms[p] = instance
	}

	results, err := runNetwork(vms)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range cluster.parties {
		fmt.Fprintf(out, "party %s:\n", p)
		for name, v := range results[p] {
			fmt.Fprintf(out, "  %s = %s\n", name, formatValue(v))
		}
	}
	return nil
}

func formatValue(v nada.Value) string {
	switch v.Type().Primitive {
	case nada.Integer:
		if v.Type().Kind == nada.Public {
			n, err := v.PublicInteger()
			if err == nil {
				return n.String()
			}
		}
	case nada.Boolean:
		if v.Type().Kind == nada.Public {
			b, err := v.PublicBoolean()
			if err == nil {
				return fmt.Sprintf("%t", b)
			}
		}
	}
	return fmt.Sprintf("<%s share>", v.Type())
}

// runNetwork drives every party's VM to completion by fanning out each
// yielded message to every other still-running party, the same
// single-process simulation loop the VM's own tests use.
func runNetwork(vms map[party.ID]*vm.ExecutionVm) (map[party.ID]map[string]nada.Value, error) {
	results := make(map[party.ID]map[string]nada.Value, len(vms))
	pending := make(map[party.ID][]vm.PartyMessage)

	collect := func(id party.ID, yield vm.VmYield) {
		switch yield.Kind {
		case vm.YieldMessages:
			for _, msg := range yield.Messages {
				msg.From = id
				pending[id] = append(pending[id], msg)
			}
		case vm.YieldResult:
			results[id] = yield.Result
		case vm.YieldEmpty:
		}
	}

	for id, v := range vms {
		yield, err := v.Initialize()
		if err != nil {
			return nil, fmt.Errorf("party %s: initialize: %w", id, err)
		}
		collect(id, yield)
	}

	for len(results) < len(vms) {
		round := pending
		pending = make(map[party.ID][]vm.PartyMessage)

		delivered := false
		for sender, msgs := range round {
			for _, msg := range msgs {
				for peer, v := range vms {
					if peer.Equal(sender) {
						continue
					}
					if _, done := results[peer]; done {
						continue
					}
					delivered = true
					yield, err := v.Proceed(msg)
					if err != nil {
						return nil, fmt.Errorf("party %s: proceed: %w", peer, err)
					}
					collect(peer, yield)
				}
			}
		}
		if !delivered {
			return nil, fmt.Errorf("network deadlocked before every party reached a result")
		}
	}
	return results, nil
}
