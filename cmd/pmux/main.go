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

// Command pmux spawns and supervises a set of programs from a YAML
// config file, printing their captured output and reporting their
// termination, and exposes the same information over HTTP.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/canonical/go-flags"
	"golang.org/x/term"

	"github.com/cmars/pmux/internal/config"
	"github.com/cmars/pmux/internal/httpapi"
	"github.com/cmars/pmux/internal/logger"
	"github.com/cmars/pmux/internal/muxer"
)

// Standard streams, redirected for testing.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

type options struct {
	Config  string `short:"c" long:"config" description:"Path to the YAML run configuration" required:"true"`
	Listen  string `short:"l" long:"listen" description:"Address to serve the status/events/metrics API on" default:"localhost:4500"`
	Signals bool   `long:"signals" description:"Surface SIGHUP/SIGINT/SIGTERM as muxer events instead of the process's default disposition"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = "pmux"
	if _, err := parser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadFile(opts.Config)
	if err != nil {
		return err
	}

	m, err := muxer.New(muxerOptions(opts.Signals)...)
	if err != nil {
		return fmt.Errorf("cannot start muxer: %w", err)
	}
	defer m.Close()

	api, registry := httpapi.NewAPI()

	listener, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", opts.Listen, err)
	}
	server := &http.Server{Handler: api}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Noticef("HTTP server stopped: %v", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	logger.Noticef("Listening on %s", listener.Addr())

	for _, name := range cfg.Names() {
		prog := cfg.Programs[name]
		argv, err := prog.ParseCommand()
		if err != nil {
			return err
		}
		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Dir = prog.WorkingDir
		if len(prog.Environment) > 0 {
			cmd.Env = os.Environ()
			for k, v := range prog.Environment {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		handle, err := m.Spawn(cmd, false)
		if err != nil {
			return fmt.Errorf("cannot spawn %q: %w", name, err)
		}
		registry.Spawned(handle.Pid, handle.ProgPath)
		logger.Noticef("Spawned %s (pid %v): %s", name, handle.Pid, prog.Command)
	}

	// A real terminal wants every line flushed as it arrives; a pipe or
	// file redirect is better served batching writes.
	out := Stdout
	if f, ok := Stdout.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		bw := bufio.NewWriterSize(Stdout, 32*1024)
		defer bw.Flush()
		out = bw
	}

	muxer.Pump(m, func(ev muxer.Event) (struct{}, bool) {
		api.HandleEvent(ev)
		printEvent(out, ev)
		if _, ok := ev.(muxer.SignalReceived); ok {
			if f, ok := out.(*bufio.Writer); ok {
				f.Flush()
			}
		}
		if sig, ok := ev.(muxer.SignalReceived); ok {
			switch sig.Signal {
			case muxer.Interrupt, muxer.Terminate:
				return struct{}{}, true
			}
		}
		return struct{}{}, false
	})

	return nil
}

func muxerOptions(signals bool) []muxer.Option {
	if !signals {
		return nil
	}
	return []muxer.Option{muxer.WithSignals()}
}

// printEvent renders one event as a plain text line. There's no
// styled presentation layer here (color, spinners, table redraws):
// pmux's output is meant to be piped and grepped as readily as
// watched.
func printEvent(w io.Writer, ev muxer.Event) {
	switch e := ev.(type) {
	case muxer.ChildWrote:
		fmt.Fprintf(w, "%v %s[%s]: %s", e.Pid, e.ProgPath, e.Tag, e.Line)
	case muxer.FdClosed:
		fmt.Fprintf(w, "%v %s[%s]: (closed)\n", e.Pid, e.ProgPath, e.Tag)
	case muxer.ChildTerminated:
		fmt.Fprintf(w, "%v %s: terminated, %s\n", e.Pid, e.ProgPath, describeExit(e.ExitStatus))
	case muxer.SignalReceived:
		fmt.Fprintf(w, "received %s\n", e.Signal)
	}
}

func describeExit(status muxer.ExitStatus) string {
	if status.Signaled {
		return fmt.Sprintf("killed by signal %d", status.Signal)
	}
	return fmt.Sprintf("exit code %d", status.ExitCode)
}
