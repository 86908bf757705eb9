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

package ir

import (
    `fmt`
    `io`
    `strings`
)

// BlockHook is called before and after the statements of each block are
// written, so that callers can decorate the listing.
type BlockHook func(w io.Writer, bb *Block, after bool)

// WriteBlock writes the listing of a block.
func WriteBlock(w io.Writer, bb *Block) {
    names := make([]string, 0, len(bb.Pred))
    for _, p := range bb.Pred {
        names = append(names, p.Name)
    }

    /* header with the predecessors */
    fmt.Fprintf(w, "%s:\n", bb.Name)
    if len(names) != 0 {
        fmt.Fprintf(w, "    // pred: %s\n", strings.Join(names, " "))
    }

    /* statement body */
    for _, st := range bb.Statements {
        fmt.Fprintf(w, "    %s\n", st)
    }

    /* successors */
    names = names[:0]
    for _, s := range bb.Succ {
        names = append(names, s.Name)
    }
    if len(names) != 0 {
        fmt.Fprintf(w, "    // succ: %s\n", strings.Join(names, " "))
    }
}

// Write writes the listing of the procedure, invoking the hook around each
// block when it is not nil.
func (self *Procedure) Write(w io.Writer, hook BlockHook) {
    fmt.Fprintf(w, "// %s\n", self.Name)
    fmt.Fprintf(w, "// Return size: %d\n", self.stackDelta())
    fmt.Fprintf(w, "define %s %s\n", self.Name, self.Signature)

    /* write every block */
    for _, bb := range self.Blocks {
        if hook != nil { hook(w, bb, false) }
        WriteBlock(w, bb)
        if hook != nil { hook(w, bb, true) }
    }
}

func (self *Procedure) stackDelta() int {
    if self.Signature == nil {
        return 0
    } else {
        return self.Signature.StackDelta
    }
}

// Dump returns the listing of the procedure as a string.
func (self *Procedure) Dump() string {
    sb := new(strings.Builder)
    self.Write(sb, nil)
    return sb.String()
}
