// Package util provides the leveled logger shared by every package.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm's default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Logger prefixes every line with a fixed tag such as "[server]", so output
// from several sessions in one process stays readable.
type Logger struct {
	prefix string
}

// NewLogger returns a Logger that writes "[tag] message".
func NewLogger(tag string) Logger {
	return Logger{prefix: "[" + tag + "] "}
}

func (l Logger) Debug(format string, args ...interface{}) { LogDebug(l.prefix+format, args...) }
func (l Logger) Info(format string, args ...interface{})  { LogInfo(l.prefix+format, args...) }
func (l Logger) Warn(format string, args ...interface{})  { LogWarning(l.prefix+format, args...) }
func (l Logger) Error(format string, args ...interface{}) { LogError(l.prefix+format, args...) }
