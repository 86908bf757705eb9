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


package flow

import (
    `fmt`
    `io`
    `sort`
    `strings`

    `github.com/cloudwego/decompflow/internal/ir`
    `golang.org/x/exp/maps`
)

func (self *ProgramDataFlow) flags(mask uint32) string {
    if mask == 0 {
        return ""
    } else {
        return self.Arch.FlagGroup(mask).Name
    }
}

func registersAndFlags(rs RegisterSet, flags string) string {
    ss := rs.String()
    if flags == "" {
        return ss
    } else if ss == "" {
        return flags
    } else {
        return ss + " " + flags
    }
}

// Emit writes the listing of every procedure of the program, annotated with
// the procedure and block flows.
func (self *ProgramDataFlow) Emit(w io.Writer, prog *ir.Program) {
    for i, proc := range prog.Procedures {
        if i != 0 {
            fmt.Fprintln(w)
        }
        self.EmitProcedure(w, proc)
    }
}

// EmitProcedure writes the listing of a single procedure.
func (self *ProgramDataFlow) EmitProcedure(w io.Writer, proc *ir.Procedure) {
    fmt.Fprintf(w, "// %s\n", proc.Name)

    /* procedure summary */
    if pf := self.Procedure(proc); pf != nil {
        self.emitSummary(w, pf)
    }

    /* procedure body */
    fmt.Fprintf(w, "define %s %s\n", proc.Name, proc.Signature)
    for _, bb := range proc.Blocks {
        ir.WriteBlock(w, bb)
        if bf := self.Block(bb); bf != nil {
            self.emitBlock(w, bf)
        }
    }
}

func (self *ProgramDataFlow) emitSummary(w io.Writer, pf *ProcedureFlow) {
    fmt.Fprintf(w, "// Return size: %d\n", pf.StackDelta)
    fmt.Fprintf(w, "// MayUse: %s\n", registersAndFlags(pf.MayUse, self.flags(pf.MayUseFlags)))
    fmt.Fprintf(w, "// LiveOut: %s\n", registersAndFlags(pf.LiveOut, self.flags(pf.LiveOutFlags)))

    /* bits of the used registers */
    if len(pf.BitsUsed) != 0 {
        rr := maps.Keys(pf.BitsUsed)
        SortRegisters(rr)
        bits := make([]string, 0, len(rr))
        for _, r := range rr {
            bits = append(bits, r.Name + ":" + pf.BitsUsed[r].String())
        }
        fmt.Fprintf(w, "// BitsUsed: %s\n", strings.Join(bits, " "))
    }

    /* registers passed through unchanged */
    if len(pf.ByPass) != 0 {
        fmt.Fprintf(w, "// BypassIn: %s\n", pf.ByPass)
    }

    /* effects on the caller */
    fmt.Fprintf(w, "// Trashed: %s\n", registersAndFlags(pf.Trashed, self.flags(pf.TrashedFlags)))
    fmt.Fprintf(w, "// Preserved: %s\n", registersAndFlags(pf.Preserved, self.flags(pf.PreservedFlags)))

    /* known constants on exit */
    if len(pf.Constants) != 0 {
        cc := make([]string, 0, len(pf.Constants))
        for r, c := range pf.Constants {
            cc = append(cc, r.Name + ":" + c.String())
        }
        sort.Strings(cc)
        fmt.Fprintf(w, "// Constants: %s\n", strings.Join(cc, " "))
    }

    /* procedures that never return */
    if pf.Termination == NeverReturns {
        fmt.Fprintln(w, "// Terminates process")
    }
}

func (self *ProgramDataFlow) emitBlock(w io.Writer, bf *BlockFlow) {
    fmt.Fprintf(w, "    // DataOut: %s\n", registersAndFlags(bf.LiveOut, self.flags(bf.LiveOutFlags)))
    if bf.TerminatesProcess {
        fmt.Fprintln(w, "    // Terminates process")
    }
}
