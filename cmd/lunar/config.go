// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
	"go4.org/xdgdir"
)

// globalConfig is the CLI's configuration,
// merged from defaults, then the config file, then flags.
type globalConfig struct {
	configPath string

	Debug bool `json:"debug"`
	// HistoryFile is where the REPL stores its input history.
	HistoryFile string `json:"historyFile"`
	// Strip controls whether "compile" drops debug information.
	Strip bool `json:"stripDebug"`
}

func defaultGlobalConfig() *globalConfig {
	g := &globalConfig{
		HistoryFile: filepath.Join(xdgdir.Data.Path(), "lunar", "history"),
	}
	if p := xdgdir.Config.Path(); p != "" {
		g.configPath = filepath.Join(p, "lunar", "config.hujson")
	}
	return g
}

// mergeFile overlays the configuration file (if present)
// onto the defaults.
// The file is HuJSON: JSON plus comments and trailing commas.
func (g *globalConfig) mergeFile() error {
	if g.configPath == "" {
		return nil
	}
	huJSONData, err := os.ReadFile(g.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	jsonData, err := hujson.Standardize(huJSONData)
	if err != nil {
		return fmt.Errorf("read %s: %v", g.configPath, err)
	}
	if err := json.Unmarshal(jsonData, g); err != nil {
		return fmt.Errorf("read %s: %v", g.configPath, err)
	}
	return nil
}
