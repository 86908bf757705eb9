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


package signatures

import (
    `github.com/cloudwego/decompflow/internal/ir`
)

// UserSignatureBuilder gives the procedures of a program the signatures
// declared for them. Declared signatures replace inferred ones.
type UserSignatureBuilder struct {
    Library *Library
}

// Apply returns the number of procedures that got a signature.
func (self UserSignatureBuilder) Apply(prog *ir.Program) int {
    n := 0
    for _, p := range prog.Procedures {
        e, ok := self.Library.user[p.Addr]
        if !ok {
            continue
        }

        /* the library was validated when it was parsed */
        sig, err := self.Library.signature(p.Frame, e)
        if err != nil {
            panic("signatures: invalid user signature: " + err.Error())
        }

        /* rename the procedure as well */
        if e.Name != "" {
            p.Name = e.Name
        }

        /* characteristics come with the signature */
        if p.Characteristics.Terminates = e.Terminates; sig != nil {
            p.Signature = sig
            n++
        }
    }
    return n
}
