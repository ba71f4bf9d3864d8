package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/agent"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the drone agent until interrupted",
	RunE:  runAgent,
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	a, err := agent.New(cfg, log)
	if err != nil {
		return err
	}

	// attach sigint & sigterm listeners
	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(terminationSignals)

	ctx, quitFunc := context.WithCancel(context.Background())
	defer quitFunc()

	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	select {
	case <-terminationSignals:
	case err := <-done:
		return err
	}

	log.Info().Msg("Shutting down..")
	quitFunc()
	log.Info().Msg("Waiting for routines to finish..")
	err = <-done
	log.Info().Msg("Signing off - BYE")
	return err
}
