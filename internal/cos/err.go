// Package cos provides common low-level types and utilities shared across
// the router's packages, adapted from the teacher's cmn/cos.
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package cos

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Error kinds per the router's error taxonomy. Client-visible errors are
// always one of these structured types, never a free-form string.
type (
	// ErrEncoding covers frame/microframe parse and serialize failures.
	ErrEncoding struct{ what string }

	// ErrNetmod covers transport I/O failures at an endpoint.
	ErrNetmod struct {
		what string
		err  error
	}

	// ErrClient covers malformed or unauthorised IPC requests. Code is a
	// short machine-readable tag (e.g. "invalid-mode", "bad-auth").
	ErrClient struct {
		Code string
		msg  string
	}

	// ErrBlock covers ERIS encode/decode failures.
	ErrBlock struct{ what string }

	// ErrSchedule covers collector eviction and timeout conditions.
	ErrSchedule struct{ what string }

	// ErrFatal covers journal corruption and config violations; the
	// process must abort with a non-zero exit on this error kind.
	ErrFatal struct{ what string }

	// Errs aggregates distinct errors up to a small cap, deduplicating by
	// message, mirroring cmn/cos.Errs in the teacher.
	Errs struct {
		mu   sync.Mutex
		errs []error
	}
)

func NewErrEncoding(format string, a ...any) *ErrEncoding { return &ErrEncoding{fmt.Sprintf(format, a...)} }
func (e *ErrEncoding) Error() string                      { return "encoding: " + e.what }

// NewErrNetmod wraps err (a dial/read/write failure) with pkg/errors so
// the original stack trace survives classification into the §7 taxonomy;
// err may be nil for netmod failures with no underlying I/O cause.
func NewErrNetmod(err error, format string, a ...any) *ErrNetmod {
	what := fmt.Sprintf(format, a...)
	if err != nil {
		err = errors.Wrap(err, what)
	}
	return &ErrNetmod{what, err}
}
func (e *ErrNetmod) Error() string {
	if e.err == nil {
		return "netmod: " + e.what
	}
	return "netmod: " + e.err.Error()
}
func (e *ErrNetmod) Unwrap() error { return e.err }

// Cause returns the root I/O error beneath any pkg/errors wrapping,
// for callers that need to inspect e.g. syscall-level errno values.
func (e *ErrNetmod) Cause() error {
	if e.err == nil {
		return nil
	}
	return errors.Cause(e.err)
}

func NewErrClient(code, format string, a ...any) *ErrClient {
	return &ErrClient{Code: code, msg: fmt.Sprintf(format, a...)}
}
func (e *ErrClient) Error() string { return "client[" + e.Code + "]: " + e.msg }

func NewErrBlock(format string, a ...any) *ErrBlock { return &ErrBlock{fmt.Sprintf(format, a...)} }
func (e *ErrBlock) Error() string                   { return "block: " + e.what }

func NewErrSchedule(format string, a ...any) *ErrSchedule { return &ErrSchedule{fmt.Sprintf(format, a...)} }
func (e *ErrSchedule) Error() string                      { return "schedule: " + e.what }

func NewErrFatal(format string, a ...any) *ErrFatal { return &ErrFatal{fmt.Sprintf(format, a...)} }
func (e *ErrFatal) Error() string                   { return "fatal: " + e.what }

const maxErrs = 8

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return nil
	}
	return e.errs[0]
}

func (e *Errs) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}
