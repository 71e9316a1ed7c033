// Package vm implements the cooperative execution engine that drives a
// planned protocol graph to completion: ExecutionVm advances one plan
// step at a time, yielding outgoing messages at every Online
// synchronization point until the final outputs are produced.
package vm

import (
	"errors"
	"fmt"

	"github.com/nilmpc/coren/compiler/bytecode"
	"github.com/nilmpc/coren/compiler/protocol"
	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/nada"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/planner"
)

// ErrAlreadyInitialized is returned by Initialize if called more than once.
var ErrAlreadyInitialized = errors.New("vm: already initialized")

// ErrNotInitialized is returned by Proceed before Initialize has run.
var ErrNotInitialized = errors.New("vm: not initialized")

// ErrTerminated is returned by Proceed once the VM has produced its result.
var ErrTerminated = errors.New("vm: terminated")

// ErrNoPendingRound is returned by Proceed when no Online round is
// currently awaiting messages.
var ErrNoPendingRound = errors.New("vm: no round is awaiting messages")

// PartyMessage is one opaque, addressed wire message: a sub-protocol's
// payload tagged with the protocol address it belongs to and the sending
// party, for the host to route between VM instances. Outgoing messages
// carry a zero-value From (this party); the host fans them out to every
// other party in the cluster.
type PartyMessage struct {
	From    party.ID
	Address protocol.Address
	Payload []byte
}

// YieldKind tags what the VM is reporting back to its host after
// Initialize or Proceed returns.
type YieldKind uint8

const (
	// YieldMessages: the VM advanced a step and has outgoing messages
	// that must be delivered to every other party before it can proceed.
	YieldMessages YieldKind = iota
	// YieldEmpty: an inbound message was accepted, but the current
	// round is still waiting on at least one more party.
	YieldEmpty
	// YieldResult: the plan is exhausted; Result holds every named output.
	YieldResult
)

// VmYield is the return value of Initialize and Proceed.
type VmYield struct {
	Kind     YieldKind
	Messages []PartyMessage
	Result   map[string]nada.Value
}

// ExecutionVm drives one party's view of a planned compute job. It is
// single-threaded and cooperative: all work happens synchronously inside
// Initialize and Proceed, and the VM never blocks on I/O itself.
type ExecutionVm struct {
	computeID string
	self      party.ID
	parties   []party.ID
	sharer    *shamir.Sharer
	field     *field.SafePrime

	prog *bytecode.Program
	plan *planner.Plan

	mem    *memory
	inputs []nada.Value
	lits   []nada.Value

	step  int
	round *onlineRound

	initialized bool
	done        bool
}

// New builds runtime memory (inputs, literals) for a compute job and
// readies the VM to execute plan, but does not start executing: call
// Initialize exactly once afterward.
func New(
	computeID string,
	prog *bytecode.Program,
	plan *planner.Plan,
	values map[string]nada.Value,
	self party.ID,
	parties []party.ID,
	sharer *shamir.Sharer,
	f *field.SafePrime,
) (*ExecutionVm, error) {
	inputs := make([]nada.Value, len(prog.Inputs))
	for i, in := range prog.Inputs {
		v, ok := values[in.Name]
		if !ok {
			return nil, fmt.Errorf("vm: missing value for input %q", in.Name)
		}
		inputs[i] = v
	}

	lits := make([]nada.Value, len(prog.Literals))
	for i, lit := range prog.Literals {
		v, err := parseLiteral(lit)
		if err != nil {
			return nil, err
		}
		lits[i] = v
	}

	return &ExecutionVm{
		computeID: computeID,
		self:      self,
		parties:   parties,
		sharer:    sharer,
		field:     f,
		prog:      prog,
		plan:      plan,
		mem:       newMemory(),
		inputs:    inputs,
		lits:      lits,
	}, nil
}

// Initialize bootstraps the first step and runs until the first yield
// point. Must be called exactly once per VM.
func (vm *ExecutionVm) Initialize() (VmYield, error) {
	if vm.initialized {
		return VmYield{}, ErrAlreadyInitialized
	}
	vm.initialized = true
	return vm.advance()
}

// Proceed delivers one inbound message, advances the current round, and
// returns the next yield.
func (vm *ExecutionVm) Proceed(msg PartyMessage) (VmYield, error) {
	if !vm.initialized {
		return VmYield{}, ErrNotInitialized
	}
	if vm.done {
		return VmYield{}, ErrTerminated
	}
	if vm.round == nil {
		return VmYield{}, ErrNoPendingRound
	}
	if err := storeIncoming(vm.round, msg.From, msg); err != nil {
		return VmYield{}, err
	}
	if !roundReady(vm.round) {
		return VmYield{Kind: YieldEmpty}, nil
	}
	pending, err := finalizeRound(vm.field, vm.mem, vm.round)
	if err != nil {
		return VmYield{}, err
	}
	if len(pending) > 0 {
		round, messages, err := prepareStagedPhase(vm.field, vm.sharer, vm.self, vm.parties, pending)
		if err != nil {
			return VmYield{}, err
		}
		vm.round = round
		return VmYield{Kind: YieldMessages, Messages: messages}, nil
	}
	vm.round = nil
	vm.step++
	return vm.advance()
}

// advance runs every step's Local prelude until it reaches a step with
// Online work (yielding its messages) or runs out of steps (yielding the
// final result).
func (vm *ExecutionVm) advance() (VmYield, error) {
	for vm.step < len(vm.plan.Steps) {
		group := vm.plan.Steps[vm.step]

		var online []planner.BoundProtocol
		for _, bp := range group {
			if bp.Protocol.Line == protocol.Local {
				if err := runLocal(vm.field, vm.mem, bp.Protocol, vm.inputs, vm.lits); err != nil {
					return VmYield{}, fmt.Errorf("vm: step %d: %w", vm.step, err)
				}
				continue
			}
			online = append(online, bp)
		}

		if len(online) == 0 {
			vm.step++
			continue
		}

		round, messages, err := prepareOnlineStep(vm.field, vm.sharer, vm.self, vm.parties, vm.mem, online)
		if err != nil {
			return VmYield{}, fmt.Errorf("vm: step %d: %w", vm.step, err)
		}
		vm.round = round
		return VmYield{Kind: YieldMessages, Messages: messages}, nil
	}

	vm.done = true
	result := make(map[string]nada.Value, len(vm.prog.Outputs))
	for _, out := range vm.prog.Outputs {
		v, err := vm.mem.get(out.Address)
		if err != nil {
			return VmYield{}, fmt.Errorf("vm: output %q: %w", out.Name, err)
		}
		result[out.Name] = v
	}
	return VmYield{Kind: YieldResult, Result: result}, nil
}
