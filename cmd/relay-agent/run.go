// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage/internal/config"
	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/relayagent"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Dial the rendezvous server and serve the local pairing/proxy surface",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.AgentConfigFromEnv()
	if err != nil {
		return err
	}

	log := logger.New(os.Stdout, cfg.LogLevel)

	agent, err := relayagent.New(cfg, log)
	if err != nil {
		log.Error("failed to build relay agent", logger.Err(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = agent.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay agent stopped with error", logger.Err(err))
		return err
	}
	return nil
}
