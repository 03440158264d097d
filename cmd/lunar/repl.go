// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"zombiezen.com/go/log"

	"lunar.256lights.llc/lua"
)

func newREPLCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:           "repl",
		Short:         "interactive Lua session",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runREPL(cmd.Context(), g)
	}
	return c
}

func runREPL(ctx context.Context, g *globalConfig) error {
	l := newInterpreter(ctx, g)
	defer func() {
		if err := l.Close(); err != nil {
			log.Errorf(ctx, "%v", err)
		}
	}()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println(lua.Version + " (lunar)")
		if g.HistoryFile != "" {
			if err := os.MkdirAll(filepath.Dir(g.HistoryFile), 0o777); err != nil {
				log.Debugf(ctx, "history: %v", err)
			}
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	var history []string
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		history = append(history, line)
		replLine(l, line)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	if interactive && g.HistoryFile != "" && len(history) > 0 {
		data := strings.Join(history, "\n") + "\n"
		if err := os.WriteFile(g.HistoryFile, []byte(data), 0o666); err != nil {
			log.Debugf(ctx, "history: %v", err)
		}
	}
	return nil
}

// replLine evaluates one line of input.
// An expression is tried first ("return <line>"),
// so "1+2" prints 3 without ceremony.
func replLine(l *lua.State, line string) {
	fn, err := l.LoadString("return "+line, "=stdin")
	if err != nil {
		fn, err = l.LoadString(line, "=stdin")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	results, err := l.Call(fn)
	if err != nil {
		var rtErr *lua.RuntimeError
		if errors.As(err, &rtErr) {
			fmt.Fprintln(os.Stderr, rtErr.Error())
			return
		}
		fmt.Fprintln(os.Stderr, err)
		return
	}
	if len(results) > 0 {
		parts := make([]string, 0, len(results))
		for _, v := range results {
			s, _ := lua.ToString(v)
			parts = append(parts, s)
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
}
