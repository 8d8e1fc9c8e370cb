// Copyright 2024 CUE Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	enginekey "frame.dev/engine/key"
)

// FleetConfig is the declarative form of a set of worker Keys, read from
// a YAML document alongside the engine's own configuration (spec.md
// §4.7's "a worker is identified by ... configuration declared out of
// band"). Grounded on mod/modfile's role as the module system's own
// config surface, translated from CUE to YAML since this engine has no
// CUE evaluator of its own to parse a DSL with.
type FleetConfig struct {
	Workers []WorkerConfig `yaml:"workers"`
}

// WorkerConfig is one entry of a FleetConfig.
type WorkerConfig struct {
	FamilyTag     string            `yaml:"family"`
	Command       string            `yaml:"command"`
	Env           map[string]string `yaml:"env,omitempty"`
	Protocol      string            `yaml:"protocol,omitempty"` // "binary" (default) or "ndjson"
	Multiplex     bool              `yaml:"multiplex,omitempty"`
	Class         string            `yaml:"class,omitempty"` // "regular" (default), "cpu_heavy", "execution"
	SandboxModule string            `yaml:"sandbox_module,omitempty"`
}

// ParseFleetConfig decodes a worker-fleet YAML document.
func ParseFleetConfig(data []byte) (FleetConfig, error) {
	var cfg FleetConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FleetConfig{}, fmt.Errorf("worker: parsing fleet config: %w", err)
	}
	return cfg, nil
}

// Keys resolves every WorkerConfig entry into a Key, parsing each
// Command with the same shlex-based argv splitting a command-line worker
// key would use.
func (c FleetConfig) Keys() ([]Key, error) {
	keys := make([]Key, 0, len(c.Workers))
	for _, wc := range c.Workers {
		k, err := wc.toKey()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (wc WorkerConfig) toKey() (Key, error) {
	k := Key{
		FamilyTag: wc.FamilyTag,
		Env:       wc.Env,
		Multiplex: wc.Multiplex,
		Class:     parseClass(wc.Class),
	}
	switch wc.Protocol {
	case "ndjson":
		k.Protocol = ProtocolNDJSON
	default:
		k.Protocol = ProtocolBinary
	}
	if wc.SandboxModule != "" {
		module, err := os.ReadFile(wc.SandboxModule)
		if err != nil {
			return Key{}, fmt.Errorf("worker: family %q: reading sandbox module: %w", wc.FamilyTag, err)
		}
		k.Sandbox = SandboxedSpec{Enabled: true, Module: module}
	}
	if wc.Command != "" {
		argv, err := parseArgv(wc.Command)
		if err != nil {
			return Key{}, fmt.Errorf("worker: family %q: %w", wc.FamilyTag, err)
		}
		k.Argv = argv
	}
	return k, nil
}

func parseClass(s string) enginekey.Class {
	switch s {
	case "cpu_heavy":
		return enginekey.CPUHeavy
	case "execution":
		return enginekey.Execution
	default:
		return enginekey.Regular
	}
}
