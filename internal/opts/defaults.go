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

package opts

import (
    `os`
    `strconv`

    `github.com/klauspost/cpuid/v2`
)

const (
    _DefaultMaxIterations    = 1000 // cutoff for intra-procedural fixed points
    _DefaultMaxSccIterations = 100  // cutoff for the fixed point over a call graph component
)

var (
    MaxIterations    = parseOrDefault("DECOMPFLOW_MAX_ITERATIONS", _DefaultMaxIterations, 1)
    MaxSccIterations = parseOrDefault("DECOMPFLOW_MAX_SCC_ITERATIONS", _DefaultMaxSccIterations, 1)
    Workers          = parseOrDefault("DECOMPFLOW_WORKERS", defaultWorkers(), 0)
)

func defaultWorkers() int {
    if n := cpuid.CPU.LogicalCores; n > 0 {
        return n
    } else {
        return 1
    }
}

func parseOrDefault(key string, def int, min int) int {
    if env := os.Getenv(key); env == "" {
        return def
    } else if val, err := strconv.ParseUint(env, 0, 64); err != nil {
        panic("decompflow: invalid value for " + key)
    } else if ret := int(val); ret < min {
        panic("decompflow: value too small for " + key)
    } else {
        return ret
    }
}
