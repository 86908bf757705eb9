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
    `github.com/cloudwego/frugal`
    `golang.org/x/exp/maps`
)

// BitsRecord is the serialized form of the bits used of a register.
type BitsRecord struct {
    Register string `frugal:"1,default,string"`
    Lo       int32  `frugal:"2,default,i32"`
    Hi       int32  `frugal:"3,default,i32"`
}

// ProcedureRecord is the serialized form of a ProcedureFlow.
type ProcedureRecord struct {
    Name         string           `frugal:"1,default,string"`
    Addr         int64            `frugal:"2,default,i64"`
    Trashed      []string         `frugal:"3,default,list<string>"`
    TrashedFlags int32            `frugal:"4,default,i32"`
    Preserved    []string         `frugal:"5,default,list<string>"`
    MayUse       []string         `frugal:"6,default,list<string>"`
    MayUseFlags  int32            `frugal:"7,default,i32"`
    ByPass       []string         `frugal:"8,default,list<string>"`
    LiveOut      []string         `frugal:"9,default,list<string>"`
    LiveOutFlags int32            `frugal:"10,default,i32"`
    BitsUsed     []*BitsRecord    `frugal:"11,default,list<BitsRecord>"`
    Constants    map[string]int64 `frugal:"12,default,map<string:i64>"`
    StackDelta   int32            `frugal:"13,default,i32"`
    Signature    string           `frugal:"14,default,string"`
    Termination  int8             `frugal:"15,default,i8"`
}

// Snapshot is the serialized form of a ProgramDataFlow.
type Snapshot struct {
    Arch       string             `frugal:"1,default,string"`
    Procedures []*ProcedureRecord `frugal:"2,default,list<ProcedureRecord>"`
}

func names(rs RegisterSet) []string {
    rr := rs.Sorted()
    ret := make([]string, 0, len(rr))
    for _, r := range rr {
        ret = append(ret, r.Name)
    }
    return ret
}

// Record converts a procedure flow into its serialized form.
func (self *ProcedureFlow) Record() *ProcedureRecord {
    ret := &ProcedureRecord {
        Name         : self.Proc.Name,
        Addr         : int64(self.Proc.Addr),
        Trashed      : names(self.Trashed),
        TrashedFlags : int32(self.TrashedFlags),
        Preserved    : names(self.Preserved),
        MayUse       : names(self.MayUse),
        MayUseFlags  : int32(self.MayUseFlags),
        ByPass       : names(self.ByPass),
        LiveOut      : names(self.LiveOut),
        LiveOutFlags : int32(self.LiveOutFlags),
        Constants    : make(map[string]int64, len(self.Constants)),
        StackDelta   : int32(self.StackDelta),
        Signature    : self.Signature.String(),
        Termination  : int8(self.Termination),
    }

    /* bits used, by register number */
    rr := maps.Keys(self.BitsUsed)
    SortRegisters(rr)
    for _, r := range rr {
        br := self.BitsUsed[r]
        ret.BitsUsed = append(ret.BitsUsed, &BitsRecord { Register: r.Name, Lo: int32(br.Lo), Hi: int32(br.Hi) })
    }

    /* constant registers */
    for r, c := range self.Constants {
        ret.Constants[r.Name] = c.Signed()
    }

    /* all done */
    return ret
}

// Snapshot captures the finalized procedure flows.
func (self *ProgramDataFlow) Snapshot() *Snapshot {
    pfs := self.Procedures()
    ret := &Snapshot { Arch: self.Arch.Name() }

    /* convert every procedure */
    for _, pf := range pfs {
        ret.Procedures = append(ret.Procedures, pf.Record())
    }

    /* all done */
    return ret
}

// Marshal encodes a value with the Thrift binary protocol.
func Marshal(val interface{}) ([]byte, error) {
    buf := make([]byte, frugal.EncodedSize(val))
    if n, err := frugal.EncodeObject(buf, nil, val); err != nil {
        return nil, err
    } else {
        return buf[:n], nil
    }
}

// Unmarshal decodes a value encoded by Marshal.
func Unmarshal(buf []byte, val interface{}) error {
    _, err := frugal.DecodeObject(buf, val)
    return err
}
