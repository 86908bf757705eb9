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

// Pipeline selects how procedures are scheduled.
type Pipeline uint8

const (
    PipelineScc         Pipeline = iota // callees first, one strongly connected component at a time
    PipelineIndependent                 // each procedure on its own, in program order
)

func (self Pipeline) String() string {
    switch self {
        case PipelineScc         : return "scc"
        case PipelineIndependent : return "independent"
        default                  : return "unknown"
    }
}

type Options struct {
    Workers             int
    Pipeline            Pipeline
    MaxIterations       int
    MaxSccIterations    int
    RenameFrameAccesses bool
    StrengthReduction   bool
}

// Parallel tells whether independent components may be analyzed concurrently.
func (self *Options) Parallel() bool {
    return self.Workers > 1 && self.Pipeline == PipelineScc
}

func GetDefaultOptions() Options {
    return Options {
        Workers             : Workers,
        Pipeline            : PipelineScc,
        MaxIterations       : MaxIterations,
        MaxSccIterations    : MaxSccIterations,
        RenameFrameAccesses : true,
        StrengthReduction   : true,
    }
}
