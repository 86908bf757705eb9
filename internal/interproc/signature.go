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
    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/ir`
)

// InferSignature builds the signature of a procedure from its flow. Every
// register it reads except the stack pointer is a parameter, and every
// register it trashes that is live in a caller is a return value.
func InferSignature(a arch.Architecture, proc *ir.Procedure, pf *flow.ProcedureFlow) *ir.Signature {
    sp := a.StackPointer()
    ret := &ir.Signature { StackDelta: pf.StackDelta - a.ReturnAddressBytes() }

    /* parameters */
    for _, r := range pf.MayUse.Sorted() {
        if r != sp {
            ret.Params = append(ret.Params, proc.Frame.EnsureRegister(r))
        }
    }

    /* return values */
    for _, r := range pf.Trashed.Intersect(pf.LiveOut).Sorted() {
        if r != sp {
            ret.Returns = append(ret.Returns, proc.Frame.EnsureRegister(r))
        }
    }

    /* all done */
    return ret
}

// PruneSignature drops the return values no caller reads. Declared
// signatures are left alone.
func PruneSignature(a arch.Architecture, sig *ir.Signature, pf *flow.ProcedureFlow) {
    if sig == nil || sig.Declared {
        return
    }

    /* keep the live return values */
    rets := sig.Returns[:0]
    for _, id := range sig.Returns {
        if r, ok := id.Storage.(*ir.RegisterStorage); ok && pf.LiveOut.Has(a.WholeRegister(r)) {
            rets = append(rets, id)
        }
    }

    /* update in place, calls share the signature */
    sig.Returns = rets
}
