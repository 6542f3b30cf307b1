package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/benaskins/icnswitch/internal/api"
	"github.com/benaskins/icnswitch/internal/audit"
	"github.com/benaskins/icnswitch/internal/config"
	"github.com/benaskins/icnswitch/internal/daemon"
	"github.com/benaskins/icnswitch/internal/logging"
	"github.com/benaskins/icnswitch/internal/notify"
	"github.com/benaskins/icnswitch/internal/prefs"
	"github.com/benaskins/icnswitch/internal/worker"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the icnswitch daemon",
	Long:  "Load service specs, host one controller per service and serve the API on a unix socket.",
	RunE:  runDaemon,
}

var (
	configPath  string
	keepWorkers bool
)

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.icnswitch/config.yaml)")
	daemonCmd.Flags().BoolVar(&keepWorkers, "keep-workers", false, "leave native workers running on exit for the next daemon to adopt")
	config.Default().RegisterFlags(daemonCmd.Flags())
	rootCmd.AddCommand(daemonCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.Setup(logging.Config{
		Level:   cfg.LogLevel,
		Format:  logging.Format(cfg.LogFormat),
		Output:  os.Stderr,
		Journal: cfg.LogJournal,
	})
	if err != nil {
		return err
	}

	specDir := config.SpecDir()
	for _, dir := range []string{specDir, config.PrefsDir(), cfg.RunDir, filepath.Dir(socketPath())} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	stopTimeout, err := cfg.StopTimeoutDuration()
	if err != nil {
		return err
	}

	var auditLog *audit.Logger
	if cfg.AuditLog != "" {
		auditLog, err = audit.NewLogger(cfg.AuditLog)
		if err != nil {
			return err
		}
		defer auditLog.Close()
	}

	sd := notify.NewSystemd()
	presenter := notify.Multi{notify.NewLog(logger), sd}

	logger.Info("icnswitch daemon starting", "spec_dir", specDir, "run_dir", cfg.RunDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	d := daemon.NewDaemon(specDir,
		daemon.WithStatePath(config.StatePath()),
		daemon.WithPrefsDir(config.PrefsDir()),
		daemon.WithRunDir(cfg.RunDir),
		daemon.WithSecrets(prefs.NewKeychainStore()),
		daemon.WithAudit(auditLog),
		daemon.WithPresenter(presenter),
		daemon.WithWorkers(worker.Builtins()),
		daemon.WithStopTimeout(stopTimeout),
		daemon.WithLogger(logger),
	)
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	srv := api.NewServer(ctx, d, api.Options{
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Logger:    logger,
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.ListenUnix(socketPath())
	}()
	if cfg.APIAddr != "" {
		go func() {
			errCh <- srv.ListenTCP(cfg.APIAddr)
		}()
	}

	if _, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify failed", "error", err)
	}
	logger.Info("icnswitch daemon ready", "socket", socketPath())

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server error", "error", err)
		}
	}

	sd.Stopping()
	shutdownCtx, done := context.WithTimeout(context.Background(), stopTimeout+10*time.Second)
	defer done()

	srv.Shutdown(shutdownCtx)
	cancel()
	if keepWorkers {
		err = d.Detach(shutdownCtx)
	} else {
		err = d.Stop(shutdownCtx)
	}
	if err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	os.Remove(socketPath())

	logger.Info("icnswitch daemon stopped")
	return err
}
