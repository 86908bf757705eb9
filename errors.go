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
    `github.com/cloudwego/decompflow/internal/diag`
)

// StructuralError occures when the control flow graph of a procedure is
// inconsistent.
type StructuralError = diag.StructuralError

// StatementError carries the statement being processed when an analysis
// failed. It unwraps to the underlying error.
type StatementError = diag.StatementError

// ConvergenceError occures when an iterative pass does not reach a fixed
// point within its iteration budget.
type ConvergenceError = diag.ConvergenceError
