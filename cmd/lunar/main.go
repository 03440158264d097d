// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

// lunar is a Lua 5.4 interpreter and bytecode compiler.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "lunar",
		Short:         "lunar Lua interpreter",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := defaultGlobalConfig()
	rootCommand.PersistentFlags().StringVar(&g.configPath, "config", g.configPath, "`path` to configuration file")
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := g.mergeFile(); err != nil {
			return err
		}
		initLogging(*showDebug || g.Debug)
		return nil
	}

	rootCommand.AddCommand(
		newRunCommand(g),
		newCompileCommand(g),
		newREPLCommand(g),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "lunar: ", log.StdFlags, nil),
		})
	})
}
