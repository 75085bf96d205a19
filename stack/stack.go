// Package stack wires the canbus/isotp/uds/seedkey layers together into
// the four operations users of this toolkit actually want: downloading
// firmware, flashing it, logging PIDs, and scanning DTCs.
package stack

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ecuflash/canbus"
	"ecuflash/datalog"
	"ecuflash/diagnostics"
	"ecuflash/download"
	"ecuflash/flash"
	"ecuflash/isotp"
	"ecuflash/seedkey"
	"ecuflash/uds"
)

// Options configures the ISO-TP addressing used to reach the target ECU.
type Options struct {
	SourceID uint16
	DestID   uint16
	Timeout  time.Duration
}

// DefaultOptions returns the addressing most Mazda1 ECUs answer on.
func DefaultOptions() Options {
	return Options{SourceID: 0x7E0, DestID: 0x7E8, Timeout: 2 * time.Second}
}

// Stack is the assembled client-side toolkit for one CAN port.
type Stack struct {
	Port   canbus.Port
	Client *uds.Client

	log logrus.FieldLogger
}

// Open builds a Stack over port using opts, wrapping port in a LoggedPort
// when log is non-nil.
func Open(port canbus.Port, opts Options, log logrus.FieldLogger) *Stack {
	if log != nil {
		port = canbus.NewLoggedPort(port, log)
	} else {
		log = logrus.StandardLogger()
	}

	transport := isotp.New(port, isotp.Options{
		SourceID: opts.SourceID,
		DestID:   opts.DestID,
		Timeout:  opts.Timeout,
	}, log)

	return &Stack{
		Port:   port,
		Client: uds.New(transport, log),
		log:    log,
	}
}

// Close releases the underlying port.
func (s *Stack) Close() error {
	return s.Port.Close()
}

// Download reads size bytes of firmware starting at baseAddress, after
// authenticating with deriver under sessionType.
func (s *Stack) Download(ctx context.Context, deriver seedkey.Deriver, sessionType byte, baseAddress, size uint32, progress download.ProgressFunc) ([]byte, error) {
	d := download.New(s.Client, deriver, sessionType, s.log)
	return d.Download(ctx, baseAddress, size, progress)
}

// Flash writes data into the ECU at offset, after authenticating with
// deriver under sessionType.
func (s *Stack) Flash(ctx context.Context, deriver seedkey.Deriver, sessionType byte, offset uint32, data []byte, progress flash.ProgressFunc) error {
	f := flash.New(s.Client, deriver, sessionType, s.log)
	return f.Flash(ctx, offset, data, progress)
}

// Log compiles pids and starts polling them in the background, streaming
// samples into l. The returned Logger's Stop method ends the polling loop;
// errDone receives Run's result once the loop exits.
func (s *Stack) Log(ctx context.Context, pids []datalog.Pid, l *datalog.Log) (logger *datalog.Logger, errDone <-chan error, err error) {
	logger = datalog.NewLogger(s.Client, s.log)
	for _, pid := range pids {
		if _, err := logger.AddEntry(pid); err != nil {
			return nil, nil, err
		}
		l.AddEntry(pid.ID)
	}

	done := make(chan error, 1)
	go func() { done <- logger.Run(ctx, l) }()
	return logger, done, nil
}

// Scan reads and decodes the ECU's stored DTCs.
func (s *Stack) Scan(ctx context.Context) ([]diagnostics.Finding, error) {
	scanner := diagnostics.New(s.Client)
	return scanner.Scan(ctx)
}
