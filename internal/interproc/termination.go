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


package interproc

import (
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/oleiade/lane`
)

// FindTermination decides whether a procedure returns: it does when its
// exit is reachable from its entry without going through a call that never
// returns. The blocks containing such calls are returned as well.
func FindTermination(ctx *Context, proc *ir.Procedure) (flow.Termination, map[*ir.Block]bool) {
    q := lane.NewQueue()
    ends := make(map[*ir.Block]bool)
    seen := map[*ir.Block]bool { proc.Entry: true }

    /* BFS from the entry block */
    for q.Enqueue(proc.Entry); !q.Empty(); {
        bb := q.Dequeue().(*ir.Block)
        if bb == proc.Exit {
            continue
        }

        /* stop at the calls that never return */
        if neverReturns(ctx, bb) {
            ends[bb] = true
            continue
        }

        /* visit the successors */
        for _, s := range bb.Succ {
            if !seen[s] {
                seen[s] = true
                q.Enqueue(s)
            }
        }
    }

    /* the exit must be reachable */
    if seen[proc.Exit] {
        return flow.Returns, ends
    } else {
        return flow.NeverReturns, ends
    }
}

func neverReturns(ctx *Context, bb *ir.Block) bool {
    for _, s := range bb.Statements {
        if call, ok := s.Instr.(*ir.CallInstruction); ok && ctx.CallFlow(call).Termination == flow.NeverReturns {
            return true
        }
    }
    return false
}

// returningBlocks lists the blocks reached from the entry without going
// through one of the blocks in ends. Only these can hand a value back to the
// caller.
func returningBlocks(proc *ir.Procedure, ends map[*ir.Block]bool) map[*ir.Block]bool {
    q := lane.NewQueue()
    ret := make(map[*ir.Block]bool)

    /* the entry itself may end the procedure */
    if ends[proc.Entry] {
        return ret
    }

    /* BFS from the entry block, stopping at the ends */
    ret[proc.Entry] = true
    for q.Enqueue(proc.Entry); !q.Empty(); {
        for _, s := range q.Dequeue().(*ir.Block).Succ {
            if !ret[s] && !ends[s] {
                ret[s] = true
                q.Enqueue(s)
            }
        }
    }

    /* all done */
    return ret
}
