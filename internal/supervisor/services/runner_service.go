// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package services

import (
	"context"
)

// Runner matches components with a blocking, context-aware run loop.
//
// Satisfied by *hub.Hub (RunWithContext via RunnerFunc), *connmgr.Manager,
// and *delivery.Queue, all of which expose Run(ctx) error.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a bare function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

// Run calls the wrapped function.
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// RunnerService wraps a Runner as a supervised service. The runner's Run
// method already matches suture's Serve contract, so the wrapper only
// contributes a name for supervisor logging.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService creates a named service around a Runner.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// NewRunnerFuncService creates a named service around a bare run function.
func NewRunnerFuncService(name string, fn func(ctx context.Context) error) *RunnerService {
	return &RunnerService{runner: RunnerFunc(fn), name: name}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *RunnerService) String() string {
	return s.name
}
