// Copyright (c) 2021 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License version 3 as
// published by the Free Software Foundation.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config loads the YAML file describing which programs pmux
// should spawn.
package config

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/canonical/x-go/strutil/shlex"
	"gopkg.in/yaml.v3"
)

// Config is the top-level run configuration: the set of programs to
// spawn, keyed by name.
type Config struct {
	Programs map[string]*Program `yaml:"programs"`
}

// Program is one program pmux should spawn and supervise.
type Program struct {
	// Name is filled in from the Programs map key, not read from YAML.
	Name string `yaml:"-"`

	Command     string            `yaml:"command"`
	Environment map[string]string `yaml:"environment,omitempty"`
	WorkingDir  string            `yaml:"working-dir,omitempty"`
}

// ParseCommand splits Command into a program path and arguments using
// shell word-splitting rules (quoting, escapes), the same way a
// service's command line is parsed elsewhere in this codebase's
// ancestry.
func (p *Program) ParseCommand() (argv []string, err error) {
	argv, err = shlex.Split(p.Command)
	if err != nil {
		return nil, fmt.Errorf("cannot parse command for program %q: %w", p.Name, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("program %q has an empty command", p.Name)
	}
	return argv, nil
}

// Names returns the configured program names in a stable, sorted
// order, so that spawn order doesn't depend on Go's randomized map
// iteration.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Programs))
	for name := range c.Programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load parses a run configuration from r.
func Load(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	if len(cfg.Programs) == 0 {
		return nil, fmt.Errorf("config defines no programs")
	}
	for name, p := range cfg.Programs {
		if p == nil {
			return nil, fmt.Errorf("program %q has no definition", name)
		}
		p.Name = name
		if p.Command == "" {
			return nil, fmt.Errorf("program %q has no command", name)
		}
	}
	return &cfg, nil
}

// LoadFile opens path and parses it as a run configuration.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}
