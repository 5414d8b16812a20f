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

package config_test

import (
	"strings"
	"testing"

	"github.com/cmars/pmux/internal/config"
)

func TestLoadParsesPrograms(t *testing.T) {
	const doc = `
programs:
  web:
    command: /usr/bin/web-server --port 8080
    environment:
      LOG_LEVEL: debug
  worker:
    command: "/usr/bin/worker 'first arg' second"
    working-dir: /var/lib/worker
`
	cfg, err := config.Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Programs) != 2 {
		t.Fatalf("expected 2 programs, got %d", len(cfg.Programs))
	}

	web := cfg.Programs["web"]
	if web.Name != "web" {
		t.Fatalf("web.Name = %q, want \"web\"", web.Name)
	}
	if web.Environment["LOG_LEVEL"] != "debug" {
		t.Fatalf("web.Environment[LOG_LEVEL] = %q", web.Environment["LOG_LEVEL"])
	}
	argv, err := web.ParseCommand()
	if err != nil {
		t.Fatalf("web.ParseCommand: %v", err)
	}
	if len(argv) != 3 || argv[0] != "/usr/bin/web-server" || argv[1] != "--port" || argv[2] != "8080" {
		t.Fatalf("unexpected argv: %#v", argv)
	}

	worker := cfg.Programs["worker"]
	if worker.WorkingDir != "/var/lib/worker" {
		t.Fatalf("worker.WorkingDir = %q", worker.WorkingDir)
	}
	argv, err = worker.ParseCommand()
	if err != nil {
		t.Fatalf("worker.ParseCommand: %v", err)
	}
	if len(argv) != 3 || argv[1] != "first arg" {
		t.Fatalf("quoted argument not split correctly: %#v", argv)
	}

	if names := cfg.Names(); len(names) != 2 || names[0] != "web" || names[1] != "worker" {
		t.Fatalf("Names() = %#v, want sorted [web worker]", names)
	}
}

func TestLoadRejectsEmptyConfig(t *testing.T) {
	_, err := config.Load(strings.NewReader("programs: {}\n"))
	if err == nil {
		t.Fatal("expected an error for a config with no programs")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	const doc = `
programs:
  web:
    command: /usr/bin/web-server
    bogus-field: true
`
	_, err := config.Load(strings.NewReader(doc))
	if err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestLoadRejectsMissingCommand(t *testing.T) {
	const doc = `
programs:
  web:
    working-dir: /tmp
`
	_, err := config.Load(strings.NewReader(doc))
	if err == nil {
		t.Fatal("expected an error for a program with no command")
	}
}
