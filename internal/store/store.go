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


// Package store persists the flow table of an analyzed program in an SQLite
// database, so that later runs and other tools can query it.
package store

import (
    `database/sql`
    `fmt`
    `strings`

    `github.com/cloudwego/decompflow/internal/flow`
    `go.uber.org/zap`

    _ `github.com/mattn/go-sqlite3`
)

const _Schema = `
CREATE TABLE IF NOT EXISTS procedures (
    addr        INTEGER PRIMARY KEY,
    name        TEXT NOT NULL,
    arch        TEXT NOT NULL,
    termination INTEGER NOT NULL,
    stack_delta INTEGER NOT NULL,
    trashed     TEXT NOT NULL,
    may_use     TEXT NOT NULL,
    live_out    TEXT NOT NULL,
    signature   TEXT NOT NULL,
    record      BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS blocks (
    proc_addr      INTEGER NOT NULL REFERENCES procedures(addr) ON DELETE CASCADE,
    name           TEXT NOT NULL,
    live_out       TEXT NOT NULL,
    live_out_flags INTEGER NOT NULL,
    terminates     INTEGER NOT NULL,
    PRIMARY KEY (proc_addr, name)
);

CREATE INDEX IF NOT EXISTS idx_procedures_name ON procedures(name);
`

// BlockRecord is the stored flow of a block.
type BlockRecord struct {
    Name         string
    LiveOut      []string
    LiveOutFlags uint32
    Terminates   bool
}

// Store is an SQLite database of procedure and block flows.
type Store struct {
    db  *sql.DB
    log *zap.Logger
}

// Open opens or creates the database at path.
func Open(path string, log *zap.Logger) (*Store, error) {
    db, err := sql.Open("sqlite3", path + "?_fk=true&_journal_mode=WAL")
    if err != nil {
        return nil, fmt.Errorf("failed to open database: %w", err)
    }

    /* create the tables */
    if _, err = db.Exec(_Schema); err != nil {
        db.Close()
        return nil, fmt.Errorf("failed to initialize schema: %w", err)
    }

    /* all done */
    log.Debug("flow store opened", zap.String("path", path))
    return &Store { db: db, log: log }, nil
}

func (self *Store) Close() error {
    return self.db.Close()
}

// Save stores every finalized flow of the program, replacing the flows of
// procedures at the same addresses.
func (self *Store) Save(pdf *flow.ProgramDataFlow) (err error) {
    var tx *sql.Tx
    var ps, bs *sql.Stmt

    /* everything in one transaction */
    if tx, err = self.db.Begin(); err != nil {
        return err
    }

    /* roll back on failure */
    defer func() {
        if err != nil {
            tx.Rollback()
        }
    }()

    /* prepare the statements */
    if ps, err = tx.Prepare(`
        INSERT OR REPLACE INTO procedures (addr, name, arch, termination, stack_delta, trashed, may_use, live_out, signature, record)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `); err != nil {
        return err
    }
    defer ps.Close()

    /* block flows */
    if bs, err = tx.Prepare(`
        INSERT OR REPLACE INTO blocks (proc_addr, name, live_out, live_out_flags, terminates)
        VALUES (?, ?, ?, ?, ?)
    `); err != nil {
        return err
    }
    defer bs.Close()

    /* store every procedure */
    pfs := pdf.Procedures()
    for _, pf := range pfs {
        if err = self.saveProcedure(ps, bs, pdf, pf); err != nil {
            return fmt.Errorf("failed to store %s: %w", pf.Proc.Name, err)
        }
    }

    /* all done */
    self.log.Debug("flows stored", zap.Int("procs", len(pfs)))
    return tx.Commit()
}

func (self *Store) saveProcedure(ps *sql.Stmt, bs *sql.Stmt, pdf *flow.ProgramDataFlow, pf *flow.ProcedureFlow) error {
    rec := pf.Record()
    buf, err := flow.Marshal(rec)
    if err != nil {
        return err
    }

    /* the summary columns are for queries, the record has everything */
    if _, err = ps.Exec(
        int64(pf.Proc.Addr),
        pf.Proc.Name,
        pdf.Arch.Name(),
        int(pf.Termination),
        pf.StackDelta,
        strings.Join(rec.Trashed, " "),
        strings.Join(rec.MayUse, " "),
        strings.Join(rec.LiveOut, " "),
        rec.Signature,
        buf,
    ); err != nil {
        return err
    }

    /* the blocks of the procedure */
    for _, bb := range pf.Proc.Blocks {
        if bf := pdf.Block(bb); bf != nil {
            if _, err = bs.Exec(int64(pf.Proc.Addr), bb.Name, bf.LiveOut.String(), bf.LiveOutFlags, bf.TerminatesProcess); err != nil {
                return err
            }
        }
    }

    /* all done */
    return nil
}

// Procedure loads the flow of the procedure at addr, or nil when it is not
// stored.
func (self *Store) Procedure(addr uint64) (*flow.ProcedureRecord, error) {
    var buf []byte
    err := self.db.QueryRow("SELECT record FROM procedures WHERE addr = ?", int64(addr)).Scan(&buf)

    /* check for errors */
    if err == sql.ErrNoRows {
        return nil, nil
    } else if err != nil {
        return nil, err
    }

    /* decode the record */
    rec := new(flow.ProcedureRecord)
    if err = flow.Unmarshal(buf, rec); err != nil {
        return nil, fmt.Errorf("corrupted record at %#x: %w", addr, err)
    } else {
        return rec, nil
    }
}

// Trashing lists the addresses of the procedures that trash a register.
func (self *Store) Trashing(reg string) ([]uint64, error) {
    rows, err := self.db.Query("SELECT addr, trashed FROM procedures ORDER BY addr")
    if err != nil {
        return nil, err
    }

    /* scan every procedure */
    var ret []uint64
    defer rows.Close()

    /* match the register */
    for rows.Next() {
        var addr int64
        var trashed string
        if err = rows.Scan(&addr, &trashed); err != nil {
            return nil, err
        }
        for _, r := range strings.Fields(trashed) {
            if r == reg {
                ret = append(ret, uint64(addr))
                break
            }
        }
    }

    /* all done */
    return ret, rows.Err()
}

// Blocks loads the block flows of the procedure at addr, by block name.
func (self *Store) Blocks(addr uint64) ([]*BlockRecord, error) {
    rows, err := self.db.Query("SELECT name, live_out, live_out_flags, terminates FROM blocks WHERE proc_addr = ? ORDER BY name", int64(addr))
    if err != nil {
        return nil, err
    }

    /* scan every block */
    var ret []*BlockRecord
    defer rows.Close()

    /* decode the rows */
    for rows.Next() {
        var live string
        br := new(BlockRecord)
        if err = rows.Scan(&br.Name, &live, &br.LiveOutFlags, &br.Terminates); err != nil {
            return nil, err
        }
        br.LiveOut = strings.Fields(live)
        ret = append(ret, br)
    }

    /* all done */
    return ret, rows.Err()
}
