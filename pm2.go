// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bootvisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCommandTimeout bounds a single supervisor invocation.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultRunningMarker is what pm2 prints for a running process.
	DefaultRunningMarker = "online"
)

// Runner runs a command, given as an argument vector, and returns what
// it wrote to standard output.
type Runner interface {
	Run(ctx context.Context, argv []string) ([]byte, error)
}

// lineLogger is an io.Writer that hands complete lines to a logger.
type lineLogger struct {
	logger *log.Logger
	prefix string
	buf    []byte
	lock   sync.Mutex
}

func (l *lineLogger) Write(b []byte) (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.buf = append(l.buf, b...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimRight(string(l.buf[:i]), "\r"); line != "" {
			l.logger.Print(l.prefix, line)
		}
		l.buf = l.buf[i+1:]
	}
	return len(b), nil
}

func (l *lineLogger) flush() {
	l.lock.Lock()
	if len(l.buf) != 0 {
		l.logger.Print(l.prefix, string(l.buf))
		l.buf = nil
	}
	l.lock.Unlock()
}

// ExecRunner runs commands directly, without a shell, logging their
// output a line at a time.
type ExecRunner struct {
	Logger *log.Logger
}

func (r *ExecRunner) Run(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("Empty command")
	}
	logger := r.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	stdout := &lineLogger{logger: logger, prefix: "stdout> "}
	stderr := &lineLogger{logger: logger, prefix: "stderr> "}
	var out bytes.Buffer

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &teeWriter{w: &out, l: stdout}
	cmd.Stderr = stderr
	// Children of the command may hold our pipes open after it is
	// killed on timeout.
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	stdout.flush()
	stderr.flush()
	return out.Bytes(), err
}

// teeWriter tees into a buffer and a lineLogger.
type teeWriter struct {
	w *bytes.Buffer
	l *lineLogger
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.w.Write(b)
	return w.l.Write(b)
}

// PM2 drives the pm2 process manager through its command line.  Every
// invocation is built as an argument vector, never through a shell, so
// service names and paths are passed through verbatim.
type PM2 struct {
	command []string
	marker  string
	timeout time.Duration
	runner  Runner
	logger  *log.Logger
}

// NewPM2 returns a PM2 client invoking command, for example
// []string{"pm2"} or []string{"npx", "pm2"}.  Each invocation is bounded
// by timeout; zero selects DefaultCommandTimeout.
func NewPM2(command []string, timeout time.Duration) *PM2 {
	if len(command) == 0 {
		command = []string{"pm2"}
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)
	return &PM2{
		command: append([]string(nil), command...),
		marker:  DefaultRunningMarker,
		timeout: timeout,
		runner:  &ExecRunner{Logger: logger},
		logger:  logger,
	}
}

// SetRunner replaces the command runner.
func (p *PM2) SetRunner(r Runner) {
	p.runner = r
}

// SetMarker sets the status that marks a service as running in the
// listing.  An empty marker restores DefaultRunningMarker.
func (p *PM2) SetMarker(m string) {
	if m == "" {
		m = DefaultRunningMarker
	}
	p.marker = m
}

// SetLogger overrides the default logger.  The default runner logs to it
// as well.
func (p *PM2) SetLogger(l *log.Logger) {
	p.logger = l
	if r, ok := p.runner.(*ExecRunner); ok {
		r.Logger = l
	}
}

func (p *PM2) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	argv := make([]string, 0, len(p.command)+len(args))
	argv = append(argv, p.command...)
	argv = append(argv, args...)
	out, err := p.runner.Run(ctx, argv)
	if err != nil {
		return out, fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
	}
	return out, nil
}

func (p *PM2) ApplyConfig(ctx context.Context, path string) error {
	_, err := p.run(ctx, "start", path)
	return err
}

func (p *PM2) StartService(ctx context.Context, name string) error {
	_, err := p.run(ctx, "start", name)
	return err
}

func (p *PM2) QueryStatus(ctx context.Context, name string) (ServiceStatus, error) {
	out, err := p.run(ctx, "ls")
	if err != nil {
		return ServiceStatus{Name: name}, err
	}
	return ParseStatus(out, name, p.marker), nil
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// listCells splits a table row into its trimmed cells.  Border rows have
// no separators and come back as a single cell.
func listCells(line string) []string {
	cells := strings.FieldsFunc(line, func(r rune) bool {
		return r == '│' || r == '|' || r == '║'
	})
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func columnOf(cells []string, title string) int {
	for i, c := range cells {
		if strings.EqualFold(c, title) {
			return i
		}
	}
	return -1
}

// ParseStatus scans a supervisor listing for the named service.  The
// header row locates the name and status columns; a row whose name cell
// is the service and whose status cell is marker is StateRunning, any
// other status StateStopped.  No such row at all is StateUnknown.
func ParseStatus(listing []byte, name, marker string) ServiceStatus {
	st := ServiceStatus{Name: name, State: StateUnknown}
	nameCol, statusCol := -1, -1
	for _, line := range strings.Split(ansiEscape.ReplaceAllString(string(listing), ""), "\n") {
		cells := listCells(line)
		if s := columnOf(cells, "status"); s >= 0 && columnOf(cells, "id") == 0 {
			// A header row.  Tables without a name column, such as
			// the module table, are skipped.
			nameCol, statusCol = columnOf(cells, "name"), s
			continue
		}
		if nameCol < 0 || nameCol >= len(cells) || statusCol >= len(cells) {
			continue
		}
		if cells[nameCol] != name {
			continue
		}
		if cells[statusCol] == marker {
			st.State = StateRunning
			return st
		}
		st.State = StateStopped
	}
	return st
}
