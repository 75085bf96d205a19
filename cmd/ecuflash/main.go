// Command ecuflash drives the download/flash/log/scan workflows from the
// command line against a SocketCAN interface or a serial CAN bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"ecuflash/canbus"
	"ecuflash/datalog"
	"ecuflash/seedkey"
	"ecuflash/stack"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	log := logrus.StandardLogger()
	log.SetLevel(logrus.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Info("received shutdown signal, canceling context")
		cancel()
	}()

	if err := run(ctx, log, os.Args[1], os.Args[2:]); err != nil {
		log.WithError(err).Error("ecuflash: command failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ecuflash <download|flash|log|scan> [flags]")
}

func run(ctx context.Context, log logrus.FieldLogger, cmd string, args []string) error {
	switch cmd {
	case "download":
		return runDownload(ctx, log, args)
	case "flash":
		return runFlash(ctx, log, args)
	case "log":
		return runLog(ctx, log, args)
	case "scan":
		return runScan(ctx, log, args)
	default:
		usage()
		return fmt.Errorf("ecuflash: unknown command %q", cmd)
	}
}

// portFlags are the flags common to every subcommand for selecting and
// addressing the CAN transport.
type portFlags struct {
	iface       string
	serialPort  string
	sourceID    uint
	destID      uint
	timeout     time.Duration
	secret      string
	authProfile string
}

func bindPortFlags(fs *flag.FlagSet) *portFlags {
	pf := &portFlags{}
	fs.StringVar(&pf.iface, "can-iface", "", "SocketCAN interface name, e.g. can0")
	fs.StringVar(&pf.serialPort, "serial-port", "", "serial CAN bridge device path, e.g. /dev/ttyUSB0")
	fs.UintVar(&pf.sourceID, "source-id", 0x7E0, "ISO-TP source CAN ID")
	fs.UintVar(&pf.destID, "dest-id", 0x7E8, "ISO-TP destination CAN ID")
	fs.DurationVar(&pf.timeout, "timeout", 2*time.Second, "per-frame ISO-TP timeout")
	fs.StringVar(&pf.secret, "secret", "", "seed/key passphrase")
	fs.StringVar(&pf.authProfile, "auth-profile", "mazda1", "seed/key algorithm: mazda1, ktm2, or ktm3")
	return pf
}

func (pf *portFlags) openPort() (canbus.Port, error) {
	switch {
	case pf.iface != "":
		return canbus.DialSocketCAN(pf.iface)
	case pf.serialPort != "":
		return canbus.DialSerialBridge(pf.serialPort)
	default:
		return nil, fmt.Errorf("ecuflash: one of -can-iface or -serial-port is required")
	}
}

func (pf *portFlags) openStack(log logrus.FieldLogger) (*stack.Stack, error) {
	port, err := pf.openPort()
	if err != nil {
		return nil, err
	}
	opts := stack.Options{
		SourceID: uint16(pf.sourceID),
		DestID:   uint16(pf.destID),
		Timeout:  pf.timeout,
	}
	return stack.Open(port, opts, log), nil
}

func (pf *portFlags) deriver() (seedkey.Deriver, error) {
	switch pf.authProfile {
	case "mazda1":
		return seedkey.Mazda1Deriver{Secret: pf.secret}, nil
	case "ktm2":
		return seedkey.KTMDeriver{Level: seedkey.SecurityLevel2}, nil
	case "ktm3":
		return seedkey.KTMDeriver{Level: seedkey.SecurityLevel3}, nil
	default:
		return nil, fmt.Errorf("ecuflash: unknown auth profile %q", pf.authProfile)
	}
}

func runDownload(ctx context.Context, log logrus.FieldLogger, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	pf := bindPortFlags(fs)
	address := fs.Uint("address", 0, "base memory address")
	size := fs.Uint("size", 0, "number of bytes to read")
	sessionType := fs.Uint("session", 0x87, "security access session type")
	out := fs.String("out", "firmware.bin", "output file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := pf.openStack(log)
	if err != nil {
		return err
	}
	defer s.Close()

	deriver, err := pf.deriver()
	if err != nil {
		return err
	}

	data, err := s.Download(ctx, deriver, byte(*sessionType), uint32(*address), uint32(*size), func(fraction float32) {
		log.Infof("download: %.1f%%", fraction*100)
	})
	if err != nil {
		return err
	}

	return os.WriteFile(*out, data, 0o644)
}

func runFlash(ctx context.Context, log logrus.FieldLogger, args []string) error {
	fs := flag.NewFlagSet("flash", flag.ExitOnError)
	pf := bindPortFlags(fs)
	offset := fs.Uint("offset", 0, "target write offset")
	sessionType := fs.Uint("session", 0x85, "security access session type")
	in := fs.String("in", "", "firmware image path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("ecuflash: -in is required")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}

	s, err := pf.openStack(log)
	if err != nil {
		return err
	}
	defer s.Close()

	deriver, err := pf.deriver()
	if err != nil {
		return err
	}

	return s.Flash(ctx, deriver, byte(*sessionType), uint32(*offset), data, func(fraction float32) {
		log.Infof("flash: %.1f%%", fraction*100)
	})
}

func runLog(ctx context.Context, log logrus.FieldLogger, args []string) error {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	pf := bindPortFlags(fs)
	pidFile := fs.String("pids", "", "PID definition file (ini)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pidFile == "" {
		return fmt.Errorf("ecuflash: -pids is required")
	}

	pids, err := datalog.LoadPidList(*pidFile)
	if err != nil {
		return err
	}

	s, err := pf.openStack(log)
	if err != nil {
		return err
	}
	defer s.Close()

	l := datalog.NewLog()
	l.Register(func(entry *datalog.Entry, value float64) {
		log.Infof("datalog: pid %d = %v", entry.PidID, value)
	})

	_, done, err := s.Log(ctx, pids, l)
	if err != nil {
		return err
	}
	return <-done
}

func runScan(ctx context.Context, log logrus.FieldLogger, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	pf := bindPortFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := pf.openStack(log)
	if err != nil {
		return err
	}
	defer s.Close()

	findings, err := s.Scan(ctx)
	if err != nil {
		return err
	}

	if len(findings) == 0 {
		fmt.Println("no stored DTCs")
		return nil
	}
	for _, f := range findings {
		fmt.Printf("%s: %s\n", f.Code, f.Description)
	}
	return nil
}
