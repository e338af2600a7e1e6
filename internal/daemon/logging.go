// Copyright 2024 SpooledFS Authors
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

package daemon

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

func init() {
	// Default logging to discard until explicitly enabled
	log.SetOutput(io.Discard)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogging routes logrus output according to level and path. An
// empty, "off" or "none" level discards everything. The returned closer
// closes the log file, if one was opened.
func SetupLogging(level, path string) (io.Closer, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" || level == "off" || level == "none" {
		log.SetOutput(io.Discard)
		return nopCloser{}, nil
	}

	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		return nil, fmt.Errorf("unknown log level %q (want trace, debug, info, warn or off)", level)
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if path == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(f)
	return f, nil
}
