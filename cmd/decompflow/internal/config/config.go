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


package config

import (
    `fmt`
    `strconv`
    `strings`

    `github.com/cloudwego/decompflow/internal/opts`
    `github.com/spf13/viper`
)

// Config holds the settings of a run.
type Config struct {
    Input       string         `mapstructure:"input"`
    Base        uint64         `mapstructure:"base"`
    Entries     []Entry        `mapstructure:"entries"`
    FollowCalls bool           `mapstructure:"follow_calls"`
    Signatures  string         `mapstructure:"signatures"`
    Output      string         `mapstructure:"output"`
    Snapshot    string         `mapstructure:"snapshot"`
    Database    string         `mapstructure:"database"`
    Verbose     bool           `mapstructure:"verbose"`
    Analysis    AnalysisConfig `mapstructure:"analysis"`
}

// Entry is a procedure entry point.
type Entry struct {
    Name    string `mapstructure:"name"`
    Address uint64 `mapstructure:"address"`
}

// AnalysisConfig holds the settings of the data-flow analysis.
type AnalysisConfig struct {
    Pipeline          string `mapstructure:"pipeline"`
    Workers           int    `mapstructure:"workers"`
    MaxIterations     int    `mapstructure:"max_iterations"`
    MaxSccIterations  int    `mapstructure:"max_scc_iterations"`
    FrameRenaming     bool   `mapstructure:"frame_renaming"`
    StrengthReduction bool   `mapstructure:"strength_reduction"`
}

// Load loads the configuration from the config file, the environment and
// the flags bound to viper, on top of the built-in defaults.
func Load() (*Config, error) {
    def := opts.GetDefaultOptions()
    cfg := &Config {
        Base     : 0x400000,
        Analysis : AnalysisConfig {
            Pipeline          : def.Pipeline.String(),
            Workers           : def.Workers,
            MaxIterations     : def.MaxIterations,
            MaxSccIterations  : def.MaxSccIterations,
            FrameRenaming     : def.RenameFrameAccesses,
            StrengthReduction : def.StrengthReduction,
        },
    }

    /* plain values */
    if viper.IsSet("input") {
        cfg.Input = viper.GetString("input")
    }
    if viper.IsSet("output") {
        cfg.Output = viper.GetString("output")
    }
    if viper.IsSet("signatures") {
        cfg.Signatures = viper.GetString("signatures")
    }
    if viper.IsSet("snapshot") {
        cfg.Snapshot = viper.GetString("snapshot")
    }
    if viper.IsSet("database") {
        cfg.Database = viper.GetString("database")
    }
    if viper.IsSet("verbose") {
        cfg.Verbose = viper.GetBool("verbose")
    }
    if viper.IsSet("follow_calls") {
        cfg.FollowCalls = viper.GetBool("follow_calls")
    }

    /* the base address accepts any integer syntax */
    if viper.IsSet("base") {
        if v, err := parseAddress(viper.GetString("base")); err != nil {
            return nil, err
        } else {
            cfg.Base = v
        }
    }

    /* entries from the config file */
    if viper.IsSet("entries") {
        if err := viper.UnmarshalKey("entries", &cfg.Entries); err != nil {
            return nil, fmt.Errorf("invalid entries: %w", err)
        }
    }

    /* analysis settings, key by key so that bound flags are seen */
    if viper.IsSet("analysis.pipeline") {
        cfg.Analysis.Pipeline = viper.GetString("analysis.pipeline")
    }
    if viper.IsSet("analysis.workers") {
        cfg.Analysis.Workers = viper.GetInt("analysis.workers")
    }
    if viper.IsSet("analysis.max_iterations") {
        cfg.Analysis.MaxIterations = viper.GetInt("analysis.max_iterations")
    }
    if viper.IsSet("analysis.max_scc_iterations") {
        cfg.Analysis.MaxSccIterations = viper.GetInt("analysis.max_scc_iterations")
    }
    if viper.IsSet("analysis.frame_renaming") {
        cfg.Analysis.FrameRenaming = viper.GetBool("analysis.frame_renaming")
    }
    if viper.IsSet("analysis.strength_reduction") {
        cfg.Analysis.StrengthReduction = viper.GetBool("analysis.strength_reduction")
    }

    /* validate the pipeline */
    if _, err := cfg.Analysis.Options(); err != nil {
        return nil, err
    }

    /* all done */
    return cfg, nil
}

// Options converts the analysis settings into analysis options.
func (self AnalysisConfig) Options() (opts.Options, error) {
    ret := opts.GetDefaultOptions()
    ret.RenameFrameAccesses = self.FrameRenaming
    ret.StrengthReduction = self.StrengthReduction

    /* select the pipeline */
    switch self.Pipeline {
        case "", "scc"     : ret.Pipeline = opts.PipelineScc
        case "independent" : ret.Pipeline = opts.PipelineIndependent
        default            : return ret, fmt.Errorf("invalid pipeline: %q", self.Pipeline)
    }

    /* limits, zero means default */
    if self.Workers > 0 {
        ret.Workers = self.Workers
    }
    if self.MaxIterations > 0 {
        ret.MaxIterations = self.MaxIterations
    }
    if self.MaxSccIterations > 0 {
        ret.MaxSccIterations = self.MaxSccIterations
    }

    /* all done */
    return ret, nil
}

// ParseEntry parses an entry point given as "name@address" or "address".
// Unnamed entries are named after their address.
func ParseEntry(s string) (Entry, error) {
    name, addr := "", s
    if i := strings.LastIndexByte(s, '@'); i >= 0 {
        name, addr = s[:i], s[i + 1:]
    }

    /* parse the address */
    v, err := parseAddress(addr)
    if err != nil {
        return Entry{}, err
    }

    /* default name */
    if name == "" {
        name = fmt.Sprintf("fn_%x", v)
    }

    /* all done */
    return Entry { Name: name, Address: v }, nil
}

func parseAddress(s string) (uint64, error) {
    if v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64); err != nil {
        return 0, fmt.Errorf("invalid address %q: %w", s, err)
    } else {
        return v, nil
    }
}
