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

// Package logging configures the process-wide slog logger used across
// the tool-server fleet, the reasoning pipeline and the HTTP boundary.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error. Unknown values default to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs the process-wide logger. format is "json" or "text";
// anything else falls back to "text".
func Init(level slog.Level, output *os.File, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if s := a.Value.String(); s == "WARNING" {
					return slog.String(slog.LevelKey, "WARN")
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return defaultLogger
}

// Get returns the process logger, lazily initializing a sane default
// (info level, text format to stderr) if Init was never called.
func Get() *slog.Logger {
	if defaultLogger == nil {
		return Init(slog.LevelInfo, os.Stderr, "text")
	}
	return defaultLogger
}

// WithFleet returns a logger scoped to one tool server, the grouping
// used throughout the registry, catalog and invoker log lines.
func WithFleet(serverName string) *slog.Logger {
	return Get().With("fleet", serverName)
}
