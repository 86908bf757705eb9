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
    `fmt`
    `os`
    `strings`

    `github.com/spf13/cobra`
    `github.com/spf13/viper`
    `go.uber.org/zap`
)

var (
    cfgFile string
    entries []string
)

var rootCmd = &cobra.Command {
    Use   : "decompflow [flags] <code-file>",
    Short : "Data-flow analysis of raw x86-64 machine code",
    Long  : `Lifts the procedures found at the given entry points of a raw x86-64 code
image, runs the data-flow analysis over the whole program and prints the
rewritten procedures annotated with their register usage.`,
    Args  : cobra.MaximumNArgs(1),
    RunE  : runAnalyze,
}

func init() {
    cobra.OnInitialize(initConfig)
    fs := rootCmd.PersistentFlags()

    /* flags that are not configuration */
    fs.StringVar(&cfgFile, "config", "", "config file (default is .decompflow.yaml)")
    fs.StringArrayVarP(&entries, "entry", "e", nil, "procedure entry point, as name@address or address (repeatable)")

    /* input and outputs */
    fs.String("base", "0x400000", "load address of the code image")
    fs.Bool("follow-calls", false, "also lift the targets of direct calls inside the image")
    fs.String("signatures", "", "YAML signature library for imports and known procedures")
    fs.StringP("output", "o", "", "listing file (default: stdout)")
    fs.String("snapshot", "", "write a Thrift snapshot of the flows to this file")
    fs.String("database", "", "store the flows in this SQLite database")
    fs.BoolP("verbose", "v", false, "verbose output")

    /* analysis */
    fs.String("pipeline", "scc", "scheduling of the procedures (scc, independent)")
    fs.IntP("workers", "j", 0, "components analyzed concurrently (0 = auto)")
    fs.Int("max-iterations", 0, "iteration limit of intra-procedural fixed points (0 = default)")
    fs.Int("max-scc-iterations", 0, "iteration limit of call graph fixed points (0 = default)")
    fs.Bool("frame-renaming", true, "turn stack slots into variables")
    fs.Bool("strength-reduction", true, "reduce multiplications by induction variables")

    /* bind to the configuration keys */
    for flag, key := range map[string]string {
        "base"               : "base",
        "follow-calls"       : "follow_calls",
        "signatures"         : "signatures",
        "output"             : "output",
        "snapshot"           : "snapshot",
        "database"           : "database",
        "verbose"            : "verbose",
        "pipeline"           : "analysis.pipeline",
        "workers"            : "analysis.workers",
        "max-iterations"     : "analysis.max_iterations",
        "max-scc-iterations" : "analysis.max_scc_iterations",
        "frame-renaming"     : "analysis.frame_renaming",
        "strength-reduction" : "analysis.strength_reduction",
    } {
        cobra.CheckErr(viper.BindPFlag(key, fs.Lookup(flag)))
    }
}

func initConfig() {
    if cfgFile != "" {
        viper.SetConfigFile(cfgFile)
    } else {
        home, err := os.UserHomeDir()
        cobra.CheckErr(err)
        viper.AddConfigPath(".")
        viper.AddConfigPath(home)
        viper.SetConfigType("yaml")
        viper.SetConfigName(".decompflow")
    }

    /* environment overrides */
    viper.SetEnvPrefix("DECOMPFLOW")
    viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
    viper.AutomaticEnv()

    /* the config file is optional */
    if err := viper.ReadInConfig(); err == nil {
        fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
    }
}

func initLogger(verbose bool) *zap.Logger {
    var err error
    var log *zap.Logger

    /* development logs are for humans */
    if verbose {
        log, err = zap.NewDevelopment()
    } else {
        log, err = zap.NewProduction()
    }

    /* should not happen */
    if err != nil {
        panic(fmt.Sprintf("failed to initialize logger: %v", err))
    }

    /* all done */
    return log
}
