// Package datalog implements periodic PID polling: read each configured
// parameter with ReadDataByIdentifier, evaluate its formula against the
// response bytes, and feed the result into a Log.
package datalog

import (
	"context"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ecuflash/uds"
)

// pollInterval is the pause between polling passes, matching the
// original UdsLogger's fixed 1000ms cadence.
const pollInterval = time.Second

// LoggerEntry binds one Pid to its compiled formula program.
type LoggerEntry struct {
	PidID   uint32
	Code    uint16
	program *vm.Program
}

// Logger polls a set of PIDs over UDS and feeds sampled values into a Log.
//
// Ported from the original Rust UdsLogger, replacing its AtomicBool
// running flag with a mutex-guarded bool since this port has no
// equivalent of Rust's lock-free atomics idiom in the surrounding code.
type Logger struct {
	client *uds.Client
	log    logrus.FieldLogger

	mu      sync.Mutex
	running bool
	entries []LoggerEntry
}

// NewLogger creates a Logger issuing requests over client.
func NewLogger(client *uds.Client, log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{client: client, log: log}
}

// AddEntry compiles pid.Formula and registers it for polling, returning
// its index among this Logger's entries.
func (l *Logger) AddEntry(pid Pid) (int, error) {
	program, err := expr.Compile(pid.Formula, expr.AllowUndefinedVariables())
	if err != nil {
		return 0, errors.Wrapf(err, "datalog: compiling formula for pid %q", pid.Name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	index := len(l.entries)
	l.entries = append(l.entries, LoggerEntry{PidID: pid.ID, Code: pid.Code, program: program})
	return index, nil
}

// Run polls every registered entry once per pollInterval, writing results
// into log, until ctx is cancelled or Stop is called. It panics if called
// while already running, matching the original's debug_assert on reentrancy.
func (l *Logger) Run(ctx context.Context, log *Log) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		panic("datalog: Run called while already running")
	}
	l.running = true
	entries := append([]LoggerEntry(nil), l.entries...)
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if !l.isRunning() {
			return nil
		}

		for _, entry := range entries {
			value, err := l.poll(ctx, entry)
			if err != nil {
				return errors.Wrapf(err, "datalog: polling pid 0x%04X", entry.Code)
			}
			log.AddData(entry.PidID, value)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Logger) poll(ctx context.Context, entry LoggerEntry) (float64, error) {
	response, err := l.client.ReadDataByIdentifier(ctx, entry.Code)
	if err != nil {
		return 0, err
	}

	env := map[string]any{}
	if len(response) >= 1 {
		env["a"] = float64(response[0])
	}
	if len(response) >= 2 {
		env["b"] = float64(response[1])
	}
	if len(response) >= 3 {
		env["c"] = float64(response[2])
	}

	out, err := expr.Run(entry.program, env)
	if err != nil {
		return 0, errors.Wrap(err, "datalog: evaluating formula")
	}
	return toFloat64(out)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, errors.Errorf("datalog: formula produced non-numeric value %v", v)
	}
}

// Stop requests that Run return after its current pass completes.
func (l *Logger) Stop() {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
}

func (l *Logger) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}
