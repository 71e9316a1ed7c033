// Package config defines the engine's typed configuration, loadable from
// a TOML file via github.com/BurntSushi/toml.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// PlanStrategy selects how the planner schedules protocols into steps.
type PlanStrategy string

const (
	// Parallel assigns each protocol the earliest step its dependencies
	// allow, so independent protocols within a step run concurrently.
	Parallel PlanStrategy = "parallel"
	// Sequential assigns every protocol its own step, in dependency
	// order, trading parallelism for a simpler execution trace.
	Sequential PlanStrategy = "sequential"
)

// VMConfig bounds the VM's resource usage for one compute job.
type VMConfig struct {
	MaxProtocolMessagesCount uint32       `toml:"max_protocol_messages_count"`
	PlanStrategy             PlanStrategy `toml:"plan_strategy"`
}

// Config is the engine's top-level typed configuration.
type Config struct {
	PolynomialDegree        uint64   `toml:"polynomial_degree"`
	NetworkSize             uint16   `toml:"network_size"`
	ExecutionVMConfig       VMConfig `toml:"execution_vm_config"`
	StatisticalSecurityKappa uint32  `toml:"statistical_security_kappa"`
	MaxSecretBitsK          uint32   `toml:"max_secret_bits_k"`
}

// ErrKappaTooLarge is returned when kappa+k does not leave room under the
// prime's bit length, per the construction-time invariant.
var ErrKappaTooLarge = errors.New("config: statistical_security_kappa + max_secret_bits_k must be below the prime's bit length")

// Default returns a configuration sized for the 64-bit test cluster prime.
func Default() Config {
	return Config{
		PolynomialDegree: 1,
		NetworkSize:      3,
		ExecutionVMConfig: VMConfig{
			MaxProtocolMessagesCount: 10_000,
			PlanStrategy:             Parallel,
		},
		StatisticalSecurityKappa: 20,
		MaxSecretBitsK:           40,
	}
}

// Load reads and parses a TOML configuration file, defaulting any field
// left unset to Default()'s value.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if err := cfg.Validate(0); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the kappa+k invariant against a field's bit length
// (pass 0 to skip the check, e.g. before a prime has been chosen).
func (c Config) Validate(primeBitLen int) error {
	if primeBitLen > 0 && int(c.StatisticalSecurityKappa)+int(c.MaxSecretBitsK) >= primeBitLen {
		return ErrKappaTooLarge
	}
	return nil
}

// WriteExample writes an example configuration file that sets every field,
// in a form Load reads back.
func WriteExample(path string) error {
	const example = `polynomial_degree = 1
network_size = 3
statistical_security_kappa = 20
max_secret_bits_k = 40

[execution_vm_config]
max_protocol_messages_count = 10000
plan_strategy = "parallel"
`
	return os.WriteFile(path, []byte(example), 0o644)
}
