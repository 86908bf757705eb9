/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package decompflow

import (
    `fmt`

    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/opts`
    `go.uber.org/zap`
)

// Option is the property setter function for the analysis.
type Option func(*_Config)

type _Config struct {
    opts.Options
    listener diag.EventListener
    imports  ir.ImportResolver
    platform arch.Platform
    log      *zap.Logger
}

// WithWorkers sets the number of components of the call graph that may be
// analyzed concurrently.
//
// Set this option to "1" analyzes everything on the calling goroutine.
//
// The default value of this option is the number of logical CPU cores, and
// can be overridden with the environment variable "DECOMPFLOW_WORKERS".
func WithWorkers(n int) Option {
    if n < 1 {
        panic(fmt.Sprintf("decompflow: invalid worker count: %d", n))
    } else {
        return func(c *_Config) { c.Workers = n }
    }
}

// WithMaxIterations bounds the fixed points computed inside a procedure.
// A pass that exceeds it fails the procedure with a ConvergenceError.
//
// The default value of this option is "1000", and can be overridden with
// the environment variable "DECOMPFLOW_MAX_ITERATIONS".
func WithMaxIterations(n int) Option {
    if n < 1 {
        panic(fmt.Sprintf("decompflow: invalid iteration limit: %d", n))
    } else {
        return func(c *_Config) { c.MaxIterations = n }
    }
}

// WithMaxSccIterations bounds the fixed point computed over a strongly
// connected component of the call graph.
//
// The default value of this option is "100", and can be overridden with the
// environment variable "DECOMPFLOW_MAX_SCC_ITERATIONS".
func WithMaxSccIterations(n int) Option {
    if n < 1 {
        panic(fmt.Sprintf("decompflow: invalid SCC iteration limit: %d", n))
    } else {
        return func(c *_Config) { c.MaxSccIterations = n }
    }
}

// WithPipeline selects how procedures are scheduled. The independent
// pipeline analyzes the procedures in program order and treats callees that
// are not analyzed yet as unknown.
func WithPipeline(p opts.Pipeline) Option {
    return func(c *_Config) { c.Pipeline = p }
}

// WithFrameRenaming turns stack slots with a known offset into variables
// during SSA construction.
func WithFrameRenaming(v bool) Option {
    return func(c *_Config) { c.RenameFrameAccesses = v }
}

// WithStrengthReduction replaces multiplications by linear induction
// variables with additions.
func WithStrengthReduction(v bool) Option {
    return func(c *_Config) { c.StrengthReduction = v }
}

// WithEventListener receives progress and diagnostics.
func WithEventListener(l diag.EventListener) Option {
    return func(c *_Config) { c.listener = l }
}

// WithImportResolver resolves the imported procedures of the default
// platform. It has no effect when WithPlatform is also given.
func WithImportResolver(r ir.ImportResolver) Option {
    return func(c *_Config) { c.imports = r }
}

// WithPlatform replaces the default platform of the architecture.
func WithPlatform(p arch.Platform) Option {
    return func(c *_Config) { c.platform = p }
}

// WithLogger sets the logger of the orchestrator.
func WithLogger(log *zap.Logger) Option {
    return func(c *_Config) { c.log = log }
}
