// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command toolmeshd is the CLI for the streaming tool-server proxy.
//
// Usage:
//
//	toolmeshd serve --config config.yaml
//	toolmeshd validate --config config.yaml
//	toolmeshd version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/toolmesh/toolmeshd/pkg/catalog"
	"github.com/toolmesh/toolmeshd/pkg/config"
	"github.com/toolmesh/toolmeshd/pkg/httpserver"
	"github.com/toolmesh/toolmeshd/pkg/invoker"
	"github.com/toolmesh/toolmeshd/pkg/logging"
	"github.com/toolmesh/toolmeshd/pkg/metrics"
	"github.com/toolmesh/toolmeshd/pkg/reasoning"
	"github.com/toolmesh/toolmeshd/pkg/toolserver"
	"github.com/toolmesh/toolmeshd/pkg/upstream"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the proxy server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"toolmeshd.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text or json)." default:"text"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("toolmeshd version %s\n", version)
	return nil
}

// ValidateCmd loads and validates a config file without starting the
// server.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := config.Load(cli.Config); err != nil {
		return err
	}
	fmt.Printf("config %s is valid\n", cli.Config)
	return nil
}

// ServeCmd starts the fleet, catalog, reasoning pipeline and HTTP
// boundary, then blocks until a shutdown signal arrives.
type ServeCmd struct {
	Port int `help:"Override the configured listen port." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	logging.Init(logging.ParseLevel(cli.LogLevel), os.Stderr, cli.LogFormat)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.Port != 0 {
		cfg.ListenAddr = fmt.Sprintf(":%d", c.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	reg := toolserver.NewRegistry()
	for _, ts := range cfg.ToolServer {
		if !ts.Enabled {
			continue
		}
		if err := reg.Register(ts); err != nil {
			return fmt.Errorf("registering tool server %s: %w", ts.Name, err)
		}
	}
	if err := reg.ConnectAll(ctx); err != nil {
		slog.Warn("some tool servers failed to connect", "error", err)
	}
	defer reg.DisconnectAll()
	reg.StartHealthMonitoring(ctx, cfg.Reasoning.HealthInterval)
	defer reg.StopHealthMonitoring()

	cat := catalog.New(reg)
	cat.DiscoverAll(ctx)
	cat.StartAutoDiscovery(ctx, cfg.Reasoning.DiscoveryInterval)
	defer cat.StopAutoDiscovery()

	inv := invoker.New(reg, cat, invoker.StrategyFirstAvailable)
	pipeline := reasoning.New(cfg.Reasoning, inv, cat, cfg.Upstream.BaseURL, cfg.Upstream.APIKey)
	up := upstream.New(cfg.Upstream)
	m := metrics.New()

	srv := httpserver.New(*cfg, reg, cat, pipeline, up, m)
	httpSrv := srv.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("toolmeshd"),
		kong.Description("Streaming reverse proxy for chat-completion APIs with a tool-server fleet runtime."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
