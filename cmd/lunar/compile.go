// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"zombiezen.com/go/log"

	"lunar.256lights.llc/internal/luacode"
	"lunar.256lights.llc/internal/luasyntax"
)

type compileOptions struct {
	inputs     []string
	outputDir  string
	list       bool
	parseOnly  bool
	stripDebug bool
}

func newCompileCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "compile [options] FILE [...]",
		Short:                 "compile Lua chunks to bytecode",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(compileOptions)
	c.Flags().StringVarP(&opts.outputDir, "output-dir", "o", ".", "write compiled chunks to `dir`")
	c.Flags().BoolVarP(&opts.list, "list", "l", false, "produce a listing of compiled bytecode")
	c.Flags().BoolVarP(&opts.parseOnly, "parse-only", "p", false, "do not write bytecode")
	c.Flags().BoolVarP(&opts.stripDebug, "strip-debug", "s", g.Strip, "strip debug information")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.inputs = args
		return runCompile(cmd.Context(), g, opts)
	}
	return c
}

func runCompile(ctx context.Context, g *globalConfig, opts *compileOptions) error {
	grp, grpCtx := errgroup.WithContext(ctx)
	for _, input := range opts.inputs {
		grp.Go(func() error {
			if err := grpCtx.Err(); err != nil {
				return err
			}
			return compileFile(grpCtx, input, opts)
		})
	}
	return grp.Wait()
}

func compileFile(ctx context.Context, input string, opts *compileOptions) error {
	chunk, err := os.ReadFile(input)
	if err != nil {
		return err
	}

	var proto *luacode.Prototype
	if strings.HasPrefix(string(chunk), luacode.Signature) {
		proto = new(luacode.Prototype)
		if err := proto.UnmarshalBinary(chunk); err != nil {
			return fmt.Errorf("%s: %v", input, err)
		}
	} else {
		source := luacode.FilenameSource(input)
		block, err := luasyntax.Parse(source.String(), string(chunk))
		if err != nil {
			return err
		}
		proto, err = luacode.Compile(source, block)
		if err != nil {
			return err
		}
	}
	log.Debugf(ctx, "compiled %s: %d instructions in main chunk", input, len(proto.Code))

	if opts.list {
		printFunction(proto, "main")
	}
	if opts.parseOnly {
		return nil
	}
	if opts.stripDebug {
		proto = proto.StripDebug()
	}
	output, err := proto.MarshalBinary()
	if err != nil {
		return err
	}
	outPath := filepath.Join(opts.outputDir, replaceExt(filepath.Base(input), ".luac"))
	return os.WriteFile(outPath, output, 0o666)
}

func replaceExt(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}

func printFunction(f *luacode.Prototype, name string) {
	kind := "function"
	if f.IsMainChunk() {
		kind = "main"
	}
	fmt.Printf("\n%s <%v:%d,%d> (%d instructions, %d constants, %d upvalues)\n",
		kind, f.Source, f.LineDefined, f.LastLineDefined,
		len(f.Code), len(f.Constants), len(f.Upvalues))
	for pc, inst := range f.Code {
		fmt.Printf("\t%d\t[%d]\t%v\n", pc+1, f.LineAt(pc), inst)
	}
	for i, sub := range f.Functions {
		printFunction(sub, fmt.Sprintf("%s[%d]", name, i))
	}
}
