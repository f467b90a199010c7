//go:build !windows
// +build !windows

package main

// enableVT is a no-op off Windows; terminals there speak ANSI already.
func enableVT() error { return nil }
