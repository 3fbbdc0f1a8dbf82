// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logs writes captured service output to durable per-service files
// and hands each entry to live viewers.
package logs

import (
	"strings"
	"time"
)

// Level is the severity assigned to a captured line.
type Level string

const (
	LevelError   Level = "error"
	LevelWarn    Level = "warn"
	LevelInfo    Level = "info"
	LevelDebug   Level = "debug"
	LevelVerbose Level = "verbose"
)

// Entry is one log line as delivered to viewers.
type Entry struct {
	Message   string    `json:"message"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntry builds an entry stamped with the current time.
func NewEntry(message string, level Level) Entry {
	return Entry{Message: message, Level: level, Timestamp: time.Now()}
}

var levelMarkers = []struct {
	level   Level
	markers []string
}{
	{LevelError, []string{"[error]", "error:", "uncaughtexception", "unhandledrejection"}},
	{LevelWarn, []string{"[warn]", "warning:", "deprecated"}},
	{LevelDebug, []string{"[debug]"}},
	{LevelVerbose, []string{"[verbose]"}},
}

// Classify derives a level from raw line text. Matching is a case-insensitive
// substring test and the first matching level wins, in the order error, warn,
// debug, verbose. Anything else is info.
func Classify(line string) Level {
	lower := strings.ToLower(line)
	for _, lm := range levelMarkers {
		for _, m := range lm.markers {
			if strings.Contains(lower, m) {
				return lm.level
			}
		}
	}
	return LevelInfo
}

// StderrMessage returns the message and level for a line read from a
// process's error stream. The classifier is not consulted.
func StderrMessage(line string) (string, Level) {
	return "Error: " + line, LevelError
}
