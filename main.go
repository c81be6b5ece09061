// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"specgate/cmd"
	"specgate/internal/audio"
	"specgate/internal/config"
	"specgate/internal/engine"
	applog "specgate/internal/log"
	"specgate/pkg/build"
)

// main is the entry point for the spectral gate.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Build the logger and initialize PortAudio
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Capture callback runs transform, gate and hand-off
//   - Consumer delivers frames to the sinks
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Stop capture, flush and close sinks
//   - Terminate PortAudio and close the log file
func main() {
	os.Exit(run())
}

func run() int {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Missing linker flags only mean a development build.
	buildErr := build.Initialize()

	opts, err := cmd.ParseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", build.GetBuildFlags().Name, err)
		if errors.Is(err, config.ErrInvalid) {
			return 2
		}
		return 1
	}
	if opts.Command == cmd.Done {
		return 0
	}
	cfg := opts.Config

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", build.GetBuildFlags().Name, err)
		return 2
	}
	defer logger.Close()

	mlog := logger.Component("main")
	info := build.GetBuildFlags()
	mlog.WithFields(logrus.Fields{
		"version": info.Version,
		"commit":  info.Commit,
		"built":   info.Time,
	}).Info("Start specgate")
	if buildErr != nil {
		mlog.WithError(buildErr).Debug("Development build")
	}

	if err := audio.Initialize(); err != nil {
		mlog.WithError(err).Log(logrus.FatalLevel, "Audio subsystem unavailable")
		return 1
	}
	defer func() {
		if err := audio.Terminate(); err != nil {
			mlog.WithError(err).Warn("PortAudio shutdown failed")
		}
	}()

	// Handle one-off commands that don't need the pipeline
	if opts.Command == cmd.List {
		if err := audio.ListDevices(os.Stdout); err != nil {
			mlog.WithError(err).Error("Failed to list devices")
			return 1
		}
		return 0
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		// Fatal level without logrus' os.Exit, so the deferred cleanup runs.
		mlog.WithError(err).Log(logrus.FatalLevel, "Failed to start")
		return 1
	}
	defer eng.Close()

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := eng.Run(ctx)

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if runErr != nil {
		mlog.WithError(runErr).Error("Stopped with error")
		return 1
	}
	if cfg.Sinks.WAVPath != "" {
		mlog.WithField("path", cfg.Sinks.WAVPath).Info("Recording saved")
	}
	mlog.Info("Shutdown complete")
	return 0
}

// newLogger writes to stdout and the optional log file. The engine mutes
// stdout while the terminal renderer is on screen.
func newLogger(cfg *config.Config) (*applog.Logger, error) {
	return applog.New(applog.Options{
		Level:        cfg.Log.Level,
		Format:       cfg.Log.Format,
		File:         cfg.Log.File,
		MaxSizeMB:    cfg.Log.MaxSizeMB,
		MaxBackups:   cfg.Log.MaxBackups,
		MaxAgeDays:   cfg.Log.MaxAgeDays,
		ReportCaller: cfg.Log.ReportCaller,
	})
}
