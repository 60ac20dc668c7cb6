package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/biogate/internal/biogate/service"
	"github.com/BrandonDHaskell/biogate/internal/bridge"
	"github.com/BrandonDHaskell/biogate/internal/config"
)

func (a *app) syncGroupsCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:     "sync-groups [<ip> <port> <commKey>] [<members-json>|-]",
		Aliases: []string{"sync_access_groups"},
		Short:   "Write allow/deny access groups decided by the caller",
		Args:    legacyArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rest := a.applyLegacy(args)
			data, err := a.membersInput(rest, file)
			if err != nil {
				return err
			}
			addr, err := a.cfg.Device()
			if err != nil {
				return err
			}

			members, rejected, err := bridge.ParseMembers(data)
			if err != nil {
				return a.printJSON(bridge.SyncOutput{Error: err.Error()})
			}
			for _, r := range rejected {
				a.log.WithError(r.Err).WithField("index", r.Index).Warn("member entry rejected")
			}

			out := bridge.SyncAccessGroups(cmd.Context(), a.env.Dialer(a.log), addr, members, a.log)
			for _, r := range rejected {
				out.Rejected = append(out.Rejected, r.Error())
			}
			return a.printJSON(out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the member list from a file ('-' for stdin)")
	return cmd
}

// membersInput returns the member document from the positional argument,
// --file, or stdin when either of them is "-".
func (a *app) membersInput(args []string, file string) ([]byte, error) {
	src := file
	if len(args) == 1 {
		if file != "" {
			return nil, fmt.Errorf("%w: give the member list as an argument or with --file, not both", config.ErrConfiguration)
		}
		if args[0] != "-" {
			return []byte(args[0]), nil
		}
		src = "-"
	}
	switch src {
	case "":
		return nil, fmt.Errorf("%w: member list is required", config.ErrConfiguration)
	case "-":
		return io.ReadAll(a.env.Stdin)
	default:
		return os.ReadFile(src)
	}
}

func (a *app) monitorScansCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "monitor-scans [<ip> <port> <commKey> [<unlockSeconds>]]",
		Aliases: []string{"monitor_scans"},
		Short:   "Print every accepted scan as a JSON line until interrupted",
		Args:    legacyArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rest := a.applyLegacy(args); len(rest) == 1 {
				a.cfg.Set(config.KeyUnlockSecs, rest[0])
			}
			addr, err := a.cfg.Device()
			if err != nil {
				return err
			}
			if _, err := a.cfg.UnlockSeconds(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			em := bridge.NewEmitter(a.env.Stdout, addr, a.env.Clock)
			if err := em.Status("Starting biometric monitoring service"); err != nil {
				return err
			}
			sup := service.NewSupervisor(
				service.SupervisorConfig{Address: addr},
				a.env.Dialer(a.log),
				nil,
				em,
				em,
				a.env.Clock,
				a.log,
			)
			return sup.Run(ctx)
		},
	}
}

func (a *app) unlockCommand() *cobra.Command {
	var seconds int
	cmd := &cobra.Command{
		Use:     "unlock [<ip> <port> <commKey> [<seconds>]]",
		Aliases: []string{"unlock_door"},
		Short:   "Pulse the door relay",
		Args:    legacyArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rest := a.applyLegacy(args)
			switch {
			case len(rest) == 1:
				a.cfg.Set(config.KeyUnlockSecs, rest[0])
			case cmd.Flags().Changed("seconds"):
				a.cfg.Set(config.KeyUnlockSecs, strconv.Itoa(seconds))
			}
			addr, err := a.cfg.Device()
			if err != nil {
				return err
			}
			secs, err := a.cfg.UnlockSeconds()
			if err != nil {
				return err
			}
			return a.printJSON(bridge.UnlockDoor(cmd.Context(), a.env.Dialer(a.log), addr, secs))
		},
	}
	cmd.Flags().IntVar(&seconds, "seconds", service.DefaultUnlockSeconds, "how long the relay stays open")
	return cmd
}

func (a *app) testConnectionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "test-connection [<ip> <port> <commKey>]",
		Aliases: []string{"test_connection"},
		Short:   "Connect to the terminal and disconnect again",
		Args:    legacyArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.applyLegacy(args)
			addr, err := a.cfg.Device()
			if err != nil {
				return err
			}
			return a.printJSON(bridge.TestConnection(cmd.Context(), a.env.Dialer(a.log), addr))
		},
	}
}
