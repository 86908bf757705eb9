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


package analysis

import (
    `context`

    `github.com/bytedance/gopkg/util/gopool`
    `github.com/cloudwego/decompflow/internal/interproc`
    `go.uber.org/zap`
)

// schedule runs fn over every component once all the components it calls
// are done. Components are ordered callees first, so the sequential
// schedule is a plain walk.
func (self *DataFlowAnalysis) schedule(comps []*interproc.Component, fn func(*interproc.Component)) {
    if !self.Options.Parallel() || len(comps) < 2 {
        for _, c := range comps {
            fn(c)
        }
        return
    }

    /* count the pending callees of every component */
    pending := make(map[*interproc.Component]int, len(comps))
    callers := make(map[*interproc.Component][]*interproc.Component, len(comps))
    for _, c := range comps {
        pending[c] = len(c.Deps)
        for _, d := range c.Deps {
            callers[d] = append(callers[d], c)
        }
    }

    /* workers report back through the channel */
    done := make(chan *interproc.Component, len(comps))
    pool := gopool.NewPool("decompflow", int32(self.Options.Workers), gopool.NewConfig())

    /* stages recover their own failures, anything else is logged */
    pool.SetPanicHandler(func(_ context.Context, v interface{}) {
        self.Log.Error("worker panicked", zap.Any("panic", v))
    })

    /* run a component on the pool */
    submit := func(c *interproc.Component) {
        pool.Go(func() {
            defer func() { done <- c }()
            fn(c)
        })
    }

    /* start with the leaves */
    for _, c := range comps {
        if pending[c] == 0 {
            submit(c)
        }
    }

    /* release the callers as their callees complete */
    for n := 0; n < len(comps); n++ {
        for _, u := range callers[<-done] {
            if pending[u]--; pending[u] == 0 {
                submit(u)
            }
        }
    }
}
