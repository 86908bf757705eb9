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

package diag

import (
    `fmt`

    `github.com/cloudwego/decompflow/internal/ir`
)

// StructuralError occures when the control flow graph of a procedure is
// inconsistent, such as a block that is not part of the dominator graph.
type StructuralError struct {
    Proc   string
    Reason string
}

func (self StructuralError) Error() string {
    return fmt.Sprintf("StructuralError(%s): %s", self.Proc, self.Reason)
}

// StatementError carries the statement being processed when an analysis
// failed.
type StatementError struct {
    Proc string
    Addr uint64
    Stmt string
    Err  error
}

func (self StatementError) Error() string {
    return fmt.Sprintf("%s at %#x (%s): %v", self.Proc, self.Addr, self.Stmt, self.Err)
}

func (self StatementError) Unwrap() error {
    return self.Err
}

// ConvergenceError occures when an iterative pass does not reach a fixed
// point within its iteration budget.
type ConvergenceError struct {
    Pass       string
    Unit       string
    Iterations int
}

func (self ConvergenceError) Error() string {
    return fmt.Sprintf("ConvergenceError(%s): %s did not converge after %d iterations", self.Unit, self.Pass, self.Iterations)
}

// EStructural creates a StructuralError.
func EStructural(proc *ir.Procedure, reason string, args ...interface{}) StructuralError {
    return StructuralError {
        Proc   : proc.Name,
        Reason : fmt.Sprintf(reason, args...),
    }
}

// EStatement wraps an error with the statement it is related to.
func EStatement(st *ir.Statement, err error) StatementError {
    ret := StatementError {
        Err  : err,
        Addr : st.Addr,
        Stmt : st.String(),
    }

    /* detached statements have no procedure */
    if st.Block != nil && st.Block.Proc != nil {
        ret.Proc = st.Block.Proc.Name
    }

    /* all done */
    return ret
}

// Failure is the panic value used by passes to abort with an error that
// carries the offending statement.
type Failure struct {
    Err error
}

// Fail aborts the running pass.
func Fail(err error) {
    panic(Failure { Err: err })
}

// Statement runs fn on behalf of a statement. A failure raised by fn that
// does not carry a location of its own is raised again as a StatementError
// for st.
func Statement(st *ir.Statement, fn func()) {
    defer func() {
        if v := recover(); v != nil {
            Fail(located(st, Recover(v)))
        }
    }()
    fn()
}

func located(st *ir.Statement, err error) error {
    switch err.(type) {
        case StatementError   : return err
        case StructuralError  : return err
        case ConvergenceError : return err
        default               : return EStatement(st, err)
    }
}

// Recover converts a panic value raised inside a pass into an error.
func Recover(v interface{}) error {
    switch e := v.(type) {
        case nil     : return nil
        case Failure : return e.Err
        case error   : return e
        default      : return fmt.Errorf("%v", e)
    }
}
