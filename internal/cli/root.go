// Package cli wires configuration, the terminal client and the services
// into the biogate command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/biogate/internal/clock"
	"github.com/BrandonDHaskell/biogate/internal/config"
	"github.com/BrandonDHaskell/biogate/internal/device"
	"github.com/BrandonDHaskell/biogate/internal/zk"
)

// Env is everything a command touches outside the process. Zero fields are
// filled with the real thing by NewRootCommand.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Config func() config.Config
	Dialer func(log logrus.FieldLogger) device.Dialer
	Clock  clock.Clock
}

type globalFlags struct {
	ip      string
	port    int
	commKey int
	udp     bool
	tcp     bool
	debug   bool
}

type app struct {
	env   Env
	flags globalFlags
	cfg   config.Config
	log   *logrus.Logger
}

// Execute runs the command tree against the real process environment. A
// failure is also printed to stdout as {"error": ...} for callers that only
// read JSON.
func Execute() error {
	err := NewRootCommand(Env{}).Execute()
	if err != nil {
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintln(os.Stdout, string(b))
	}
	return err
}

func NewRootCommand(env Env) *cobra.Command {
	if env.Stdin == nil {
		env.Stdin = os.Stdin
	}
	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if env.Stderr == nil {
		env.Stderr = os.Stderr
	}
	if env.Config == nil {
		env.Config = config.FromEnv
	}
	if env.Dialer == nil {
		env.Dialer = func(log logrus.FieldLogger) device.Dialer { return zk.NewDialer(log) }
	}
	if env.Clock == nil {
		env.Clock = clock.Real()
	}
	a := &app{env: env}

	root := &cobra.Command{
		Use:           "biogate",
		Short:         "Keep a biometric door terminal in step with the member database",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetIn(env.Stdin)
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.ip, "ip", "", "terminal address | example: --ip=192.168.1.81")
	pf.IntVar(&a.flags.port, "port", device.DefaultPort, "terminal port")
	pf.IntVar(&a.flags.commKey, "comm-key", 0, "terminal communication key")
	pf.BoolVar(&a.flags.udp, "udp", false, "talk to the terminal over UDP (default)")
	pf.BoolVar(&a.flags.tcp, "tcp", false, "talk to the terminal over TCP")
	pf.BoolVar(&a.flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		a.runCommand(),
		a.syncGroupsCommand(),
		a.monitorScansCommand(),
		a.unlockCommand(),
		a.testConnectionCommand(),
		a.seedDevCommand(),
	)

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	})
	return root
}

// setup applies command-line overrides on top of the environment and builds
// the logger. Bridge commands keep stdout for their JSON output, so they log
// to stderr.
func (a *app) setup(cmd *cobra.Command) error {
	if a.flags.udp && a.flags.tcp {
		return fmt.Errorf("%w: --udp and --tcp are mutually exclusive", config.ErrConfiguration)
	}
	a.cfg = a.env.Config()
	f := cmd.Flags()
	if f.Changed("ip") {
		a.cfg.Set(config.KeyIP, a.flags.ip)
	}
	if f.Changed("port") {
		a.cfg.Set(config.KeyPort, strconv.Itoa(a.flags.port))
	}
	if f.Changed("comm-key") {
		a.cfg.Set(config.KeyCommKey, strconv.Itoa(a.flags.commKey))
	}
	if a.flags.tcp {
		a.cfg.Set(config.KeyTransport, device.TransportTCP)
	}
	if a.flags.udp {
		a.cfg.Set(config.KeyTransport, device.TransportUDP)
	}

	a.log = logrus.New()
	a.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	a.log.SetOutput(a.env.Stderr)
	if cmd.Annotations[annotationOutput] == outputService {
		a.log.SetOutput(a.env.Stdout)
	}
	if a.flags.debug || a.cfg.Debug() {
		a.log.SetLevel(logrus.DebugLevel)
	}
	return nil
}

const (
	annotationOutput = "output"
	outputService    = "service"
)

// legacyArgs accepts up to tail trailing arguments, optionally preceded by
// the "<ip> <port> <commKey>" triple of the old bridge interface.
func legacyArgs(tail int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		n := len(args)
		if n <= tail || (n >= 3 && n <= 3+tail) {
			return nil
		}
		return fmt.Errorf("%w: expected [<ip> <port> <commKey>] and at most %d more argument(s), got %d",
			config.ErrConfiguration, tail, n)
	}
}

// applyLegacy moves a leading address triple into the config and returns the
// remaining arguments.
func (a *app) applyLegacy(args []string) []string {
	if len(args) < 3 {
		return args
	}
	a.cfg.Set(config.KeyIP, args[0])
	a.cfg.Set(config.KeyPort, args[1])
	a.cfg.Set(config.KeyCommKey, args[2])
	return args[3:]
}

func (a *app) printJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.env.Stdout, string(b))
	return err
}
