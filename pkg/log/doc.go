// Package log provides the structured logging facade used across flipback.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. It is backed by the standard library
// slog so output interoperates with the slog ecosystem while keeping a
// single consistent construction point for the whole binary.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat("text"),
//	)
//	l = l.WithComponent("reconcile")
//	l.Info("state loaded", log.Int("open", 3), log.Int("resolved", 12))
//
// Loggers are passed explicitly via dependency injection; there is no global
// default.
package log
