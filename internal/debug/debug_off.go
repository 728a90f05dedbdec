//go:build !debug

// Package debug provides invariant assertions compiled out unless built
// with the "debug" tag, exactly like the teacher's own cmn/debug.
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func AssertFunc(_ func() bool, _ ...any) {}
