// Package nlog is the router's own logger: leveled, timestamped lines
// written straight through (unbuffered) to stderr and/or a rotated file.
// No third-party logging framework — the process-wide logger is the one
// ambient facility the router permits itself; it logs to stderr until
// SetLogDirRole points it at a directory.
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package nlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const maxFileSize = 64 * 1024 * 1024

var (
	mu           sync.Mutex
	toStderr     = true
	alsoToStderr bool
	logDir       string
	role         string
	file         *os.File
	written      int64
)

// SetLogDirRole points the logger at a state directory and a short role
// tag (e.g. "router", "sim") used in the rotated file's name. Passing an
// empty dir keeps logging on stderr only.
func SetLogDirRole(dir, r string) {
	mu.Lock()
	defer mu.Unlock()
	logDir, role = dir, r
	toStderr = dir == ""
}

func SetAlsoStderr(v bool) {
	mu.Lock()
	alsoToStderr = v
	mu.Unlock()
}

func Infof(format string, args ...any)    { log(sevInfo, format, args...) }
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }
func Errorf(format string, args ...any)   { log(sevErr, format, args...) }
func Infoln(args ...any)                  { log(sevInfo, "", args...) }
func Warningln(args ...any)               { log(sevWarn, "", args...) }
func Errorln(args ...any)                 { log(sevErr, "", args...) }

func log(sev severity, format string, args ...any) {
	line := format1(sev, format, args...)

	mu.Lock()
	defer mu.Unlock()

	if toStderr || alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
	}
	if toStderr {
		return
	}
	if err := ensureFile(); err != nil {
		os.Stderr.WriteString("nlog: " + err.Error() + "\n")
		return
	}
	n, _ := file.WriteString(line)
	written += int64(n)
	if written > maxFileSize {
		file.Close()
		file = nil
		written = 0
	}
}

func format1(sev severity, format string, args ...any) string {
	var tag byte
	switch sev {
	case sevInfo:
		tag = 'I'
	case sevWarn:
		tag = 'W'
	default:
		tag = 'E'
	}
	now := time.Now()
	var msg string
	if format == "" {
		msg = fmt.Sprintln(args...)
	} else {
		msg = fmt.Sprintf(format, args...) + "\n"
	}
	return fmt.Sprintf("%c%s %s", tag, now.Format("0102 15:04:05.000000"), msg)
}

// under mu
func ensureFile() error {
	if file != nil {
		return nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	name := role
	if name == "" {
		name = "ratman"
	}
	ts := time.Now().Format("20060102-150405")
	f, err := os.OpenFile(filepath.Join(logDir, fmt.Sprintf("%s.%s.log", name, ts)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// Flush syncs the active log file to disk, used on graceful shutdown.
func Flush() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Sync()
	}
}
