package machine

import (
	"io"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/mm"
)

var (
	errConfigMemory = &kernel.Error{Module: "machine", Message: "memory_pages must be between 64 and 65536"}
	errConfigEnvs   = &kernel.Error{Module: "machine", Message: "envs must be between 1 and 1024"}
	errConfigTimer  = &kernel.Error{Module: "machine", Message: "timer_quantum must not be negative"}
)

// Config describes the simulated machine. The zero value of every optional
// field selects the behavior of DefaultConfig.
type Config struct {
	// MemoryPages is the number of physical frames.
	MemoryPages int `toml:"memory_pages"`

	// Envs is the number of environment slots.
	Envs int `toml:"envs"`

	// TimerQuantum is the number of user instructions between two timer
	// interrupts; 0 disables the timer.
	TimerQuantum int `toml:"timer_quantum"`

	// MonitorInput and ConsoleInput name the files the kernel monitor and
	// the cgetc system call read from. "-" selects standard input. They
	// are opened by the command line front end.
	MonitorInput string `toml:"monitor_input"`
	ConsoleInput string `toml:"console_input"`

	// TagOutput prefixes each line printed by an environment with its id.
	TagOutput bool `toml:"tag_output"`

	// MonitorOnIdle enters the kernel monitor instead of stopping when no
	// environment is runnable.
	MonitorOnIdle bool `toml:"monitor_on_idle"`

	Output  io.Writer `toml:"-"`
	Monitor io.Reader `toml:"-"`
	Console io.Reader `toml:"-"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{
		MemoryPages:  1024,
		Envs:         abi.MaxEnvs,
		TimerQuantum: 1000,
	}
}

// LoadConfig reads a TOML configuration file on top of DefaultConfig. Keys
// that do not correspond to a Config field are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, err
	}

	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, &kernel.Error{Module: "machine", Message: "unknown configuration keys: " + strings.Join(keys, ", ")}
	}

	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that the configuration describes a machine that can be
// built.
func (cfg Config) Validate() error {
	switch {
	case cfg.MemoryPages < 64 || cfg.MemoryPages > 1<<16:
		return errConfigMemory
	case cfg.Envs < 1 || cfg.Envs > abi.MaxEnvs:
		return errConfigEnvs
	case cfg.TimerQuantum < 0:
		return errConfigTimer
	}
	return nil
}

func (cfg Config) memorySize() uintptr {
	return uintptr(cfg.MemoryPages) * mm.PageSize
}
