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


package main

import (
    `errors`
    `fmt`
    `io`
    `io/ioutil`
    `os`

    `github.com/cloudwego/decompflow`
    `github.com/cloudwego/decompflow/cmd/decompflow/internal/config`
    `github.com/cloudwego/decompflow/internal/arch/amd64`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/signatures`
    `github.com/cloudwego/decompflow/internal/store`
    `github.com/oleiade/lane`
    `github.com/spf13/cobra`
    `go.uber.org/zap`
)

func runAnalyze(_ *cobra.Command, args []string) error {
    cfg, err := config.Load()
    if err != nil {
        return err
    }

    /* the code file may come from the config */
    if len(args) != 0 {
        cfg.Input = args[0]
    }
    if cfg.Input == "" {
        return errors.New("no code file given")
    }

    /* entry points from the command line come after the configured ones */
    for _, s := range entries {
        if e, err := config.ParseEntry(s); err != nil {
            return err
        } else {
            cfg.Entries = append(cfg.Entries, e)
        }
    }

    /* the image starts with a procedure by default */
    if len(cfg.Entries) == 0 {
        cfg.Entries = []config.Entry {{ Name: "entry", Address: cfg.Base }}
    }

    /* initialize the logger */
    log := initLogger(cfg.Verbose)
    defer log.Sync()

    /* load the code */
    code, err := ioutil.ReadFile(cfg.Input)
    if err != nil {
        return fmt.Errorf("failed to read code: %w", err)
    }

    /* load the signatures */
    lib := signatures.NewLibrary(amd64.Arch)
    if cfg.Signatures != "" {
        if err = lib.Load(cfg.Signatures); err != nil {
            return err
        }
    }

    /* lift the procedures */
    prog := lift(&amd64.Lifter { Code: code, Base: cfg.Base }, lib, cfg, log)
    if len(prog.Procedures) == 0 {
        return errors.New("nothing could be lifted")
    }

    /* apply the declared signatures */
    n := signatures.UserSignatureBuilder { Library: lib }.Apply(prog)
    log.Debug("user signatures applied", zap.Int("count", n))

    /* analyze the program */
    options, err := analysisOptions(cfg, lib, log)
    if err != nil {
        return err
    }

    /* report the failures, the rest is still usable */
    ret := decompflow.Analyze(prog, amd64.Arch, options...)
    if len(ret.Failed) != 0 {
        log.Warn("some procedures could not be analyzed", zap.Strings("procs", procedureNames(ret.Failed)))
    }

    /* write everything out */
    return writeOutputs(cfg, prog, ret.Flows, log)
}

func analysisOptions(cfg *config.Config, lib *signatures.Library, log *zap.Logger) ([]decompflow.Option, error) {
    o, err := cfg.Analysis.Options()
    if err != nil {
        return nil, err
    }

    /* convert to the API options */
    ret := []decompflow.Option {
        decompflow.WithPipeline(o.Pipeline),
        decompflow.WithMaxIterations(o.MaxIterations),
        decompflow.WithMaxSccIterations(o.MaxSccIterations),
        decompflow.WithFrameRenaming(o.RenameFrameAccesses),
        decompflow.WithStrengthReduction(o.StrengthReduction),
        decompflow.WithImportResolver(lib),
        decompflow.WithEventListener(diag.NewLogListener(log)),
        decompflow.WithLogger(log),
    }

    /* the worker count may be left to the environment */
    if o.Workers > 0 {
        ret = append(ret, decompflow.WithWorkers(o.Workers))
    }

    /* all done */
    return ret, nil
}

// lift lifts every entry point, and the targets of direct calls when asked
// to. Procedures that cannot be lifted are skipped.
func lift(lf *amd64.Lifter, lib *signatures.Library, cfg *config.Config, log *zap.Logger) *ir.Program {
    q := lane.NewQueue()
    prog := ir.NewProgram()
    seen := make(map[uint64]bool)

    /* start from the entry points */
    for _, e := range cfg.Entries {
        if !seen[e.Address] {
            seen[e.Address] = true
            q.Enqueue(e)
        }
    }

    /* lift until nothing new is found */
    for !q.Empty() {
        e := q.Dequeue().(config.Entry)
        p, err := lf.Lift(e.Name, e.Address)

        /* the procedure is left out */
        if err != nil {
            log.Error("cannot lift procedure", zap.String("proc", e.Name), zap.Error(err))
            continue
        }

        /* add to program */
        prog.AddProcedure(p)
        log.Debug("procedure lifted", zap.String("proc", e.Name), zap.Int("blocks", len(p.Blocks)))

        /* direct calls inside the image */
        if cfg.FollowCalls {
            for _, to := range callTargets(p) {
                if !seen[to] && to >= lf.Base && to - lf.Base < uint64(len(lf.Code)) && lib.ResolveAddress(to) == nil {
                    seen[to] = true
                    q.Enqueue(config.Entry { Name: fmt.Sprintf("fn_%x", to), Address: to })
                }
            }
        }
    }

    /* all done */
    return prog
}

func callTargets(p *ir.Procedure) []uint64 {
    var ret []uint64
    for _, bb := range p.Blocks {
        for _, s := range bb.Statements {
            if call, ok := s.Instr.(*ir.CallInstruction); ok {
                if c, ok := call.Callee.(*ir.Constant); ok {
                    ret = append(ret, c.Value)
                }
            }
        }
    }
    return ret
}

func writeOutputs(cfg *config.Config, prog *ir.Program, pdf *flow.ProgramDataFlow, log *zap.Logger) error {
    var w io.Writer = os.Stdout

    /* the listing */
    if cfg.Output != "" {
        fp, err := os.Create(cfg.Output)
        if err != nil {
            return fmt.Errorf("failed to create listing: %w", err)
        }
        defer fp.Close()
        w = fp
    }

    /* write the listing */
    pdf.Emit(w, prog)

    /* the snapshot */
    if cfg.Snapshot != "" {
        if buf, err := flow.Marshal(pdf.Snapshot()); err != nil {
            return fmt.Errorf("failed to encode snapshot: %w", err)
        } else if err = ioutil.WriteFile(cfg.Snapshot, buf, 0644); err != nil {
            return fmt.Errorf("failed to write snapshot: %w", err)
        } else {
            log.Info("snapshot written", zap.String("path", cfg.Snapshot), zap.Int("size", len(buf)))
        }
    }

    /* the database */
    if cfg.Database != "" {
        db, err := store.Open(cfg.Database, log)
        if err != nil {
            return err
        }
        defer db.Close()
        if err = db.Save(pdf); err != nil {
            return fmt.Errorf("failed to store flows: %w", err)
        }
    }

    /* all done */
    return nil
}

func procedureNames(pp []*ir.Procedure) []string {
    ret := make([]string, 0, len(pp))
    for _, p := range pp {
        ret = append(ret, p.Name)
    }
    return ret
}
