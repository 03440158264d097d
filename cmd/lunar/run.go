// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"lunar.256lights.llc/lua"
)

type runOptions struct {
	script string
	args   []string
}

func newRunCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "run FILE [ARGS [...]]",
		Short:                 "run a Lua script",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts := &runOptions{script: args[0], args: args[1:]}
		return runScript(cmd.Context(), g, opts)
	}
	return c
}

func runScript(ctx context.Context, g *globalConfig, opts *runOptions) error {
	chunk, err := os.ReadFile(opts.script)
	if err != nil {
		return err
	}

	l := newInterpreter(ctx, g)
	defer func() {
		if err := l.Close(); err != nil {
			log.Errorf(ctx, "%v", err)
		}
	}()

	// The script's arguments appear in the conventional "arg" table
	// and as the chunk's varargs.
	argTable := lua.NewTable()
	if err := argTable.Set(lua.Integer(0), lua.String(opts.script)); err != nil {
		return err
	}
	varargs := make([]lua.Value, 0, len(opts.args))
	for i, a := range opts.args {
		if err := argTable.Set(lua.Integer(i+1), lua.String(a)); err != nil {
			return err
		}
		varargs = append(varargs, lua.String(a))
	}
	l.Globals().SetField("arg", argTable)

	fn, err := l.Load(chunk, "@"+opts.script, "bt")
	if err != nil {
		return err
	}
	if _, err := l.Call(fn, varargs...); err != nil {
		var rtErr *lua.RuntimeError
		if errors.As(err, &rtErr) {
			fmt.Fprintln(os.Stderr, rtErr.Error())
			fmt.Fprintln(os.Stderr, rtErr.Traceback())
			return errors.New("script failed")
		}
		return err
	}
	return nil
}

// newInterpreter builds a state with the standard libraries
// and the CLI's logging bound as the engine's debug sink.
func newInterpreter(ctx context.Context, g *globalConfig) *lua.State {
	l := lua.NewState()
	l.SetDebugSink(func(msg string) {
		log.Debugf(ctx, "%s", msg)
	})
	if err := lua.OpenLibraries(l, &lua.StandardLibraryOptions{
		Filesystem: osFilesystem{},
	}); err != nil {
		panic(err)
	}
	return l
}

// osFilesystem adapts the host filesystem
// to the engine's capability interface.
type osFilesystem struct{}

func (osFilesystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (osFilesystem) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o666)
}

func (osFilesystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
