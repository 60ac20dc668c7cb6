package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/biogate/internal/attendance"
	"github.com/BrandonDHaskell/biogate/internal/biogate/service"
	"github.com/BrandonDHaskell/biogate/internal/biogate/store/sqlite"
	"github.com/BrandonDHaskell/biogate/internal/grpcapi"
	"github.com/BrandonDHaskell/biogate/internal/httpapi"
)

const shutdownTimeout = 5 * time.Second

func (a *app) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "run",
		Short:       "Classify members, keep terminal groups in sync and unlock the door on accepted scans",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationOutput: outputService},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(parent context.Context) error {
	addr, err := a.cfg.Device()
	if err != nil {
		return err
	}
	unlockSecs, err := a.cfg.UnlockSeconds()
	if err != nil {
		return err
	}
	sup, err := a.cfg.Supervision()
	if err != nil {
		return err
	}
	att, err := a.cfg.Attendance()
	if err != nil {
		return err
	}
	dbPath, err := a.cfg.StorePath()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	members := sqlite.NewFileStore(dbPath)
	defer func() { _ = members.Close() }()

	var reporter service.Reporter = attendance.Discard{}
	if att.BaseURL != "" {
		client := attendance.NewClient(attendance.Options{BaseURL: att.BaseURL, Encoding: att.Encoding, Log: a.log})
		a.log.WithField("url", client.URL()).Info("reporting attendance")
		reporter = client
	} else {
		a.log.Info("attendance reporting disabled")
	}

	var observers service.Observers
	var grpcSrv *grpcapi.Server
	if grpcAddr := a.cfg.GRPCAddr(); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return err
		}
		grpcSrv = grpcapi.NewServer(a.log)
		observers = append(observers, grpcSrv)
		go func() {
			a.log.WithField("addr", lis.Addr().String()).Info("grpc health listening")
			if err := grpcSrv.Serve(lis); err != nil {
				a.log.WithError(err).Error("grpc server")
				stop()
			}
		}()
	}

	classifier := service.NewClassifier(members, a.env.Clock, a.log)
	processor := service.NewProcessor(reporter, unlockSecs, a.env.Clock, a.log)
	supervisor := service.NewSupervisor(
		service.SupervisorConfig{
			Address:         addr,
			RefreshInterval: sup.RefreshInterval,
			DedupCapacity:   sup.DedupCapacity,
		},
		a.env.Dialer(a.log),
		classifier,
		service.ProcessorHandler{Processor: processor},
		observers,
		a.env.Clock,
		a.log,
	)

	var httpSrv *httpapi.Server
	if httpAddr := a.cfg.HTTPAddr(); httpAddr != "" {
		httpSrv = httpapi.NewServer(httpapi.Dependencies{
			Logger: a.log,
			Addr:   httpAddr,
			Status: supervisor,
			Clock:  a.env.Clock,
		})
		go func() {
			a.log.WithField("addr", httpAddr).Info("status api listening")
			if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.WithError(err).Error("status server")
				stop()
			}
		}()
	}

	a.log.WithFields(logrus.Fields{
		"device": addr.String(),
		"store":  dbPath,
	}).Info("biogate starting")
	err = supervisor.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	return err
}
