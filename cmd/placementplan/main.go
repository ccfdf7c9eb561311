package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/snapshot"
	"github.com/gridsynapse/placement/internal/solver"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/placementjson"
)

// placementplan solves one snapshot and prints the SolveResult json. Nothing is committed.
//
//	placementplan --snapshot scope.json --budget-ms 500
//	placementplan --demo-jobs 40 --greedy
//	placementplan --snapshot scope.json --seed-etcd /placement   (write the snapshot to etcd, no solve)
func main() {
	var (
		snapshotPath string
		configPath   string
		budgetMs     int32
		greedy       bool
		demoJobs     int
		pretty       bool
		logLevel     string
		seedRoot     string
	)
	pflag.StringVar(&snapshotPath, "snapshot", "", "snapshot json file (demo datacenters and jobs if empty)")
	pflag.StringVar(&configPath, "config", "", "yaml or json config file")
	pflag.Int32Var(&budgetMs, "budget-ms", 0, "solve time budget, overrides the config when > 0")
	pflag.BoolVar(&greedy, "greedy", false, "skip the exact search")
	pflag.IntVar(&demoJobs, "demo-jobs", 12, "number of jobs in the demo snapshot")
	pflag.BoolVar(&pretty, "pretty", true, "indent the output")
	pflag.StringVar(&logLevel, "log-level", "warn", "fatal|error|warn|info|debug|verbose")
	pflag.StringVar(&seedRoot, "seed-etcd", "", "etcd root to write the snapshot under instead of solving it")
	pflag.Parse()

	ctx := context.Background()
	logger := klogging.NewLogrusLogger(ctx)
	logger.RusLogger.SetOutput(os.Stderr)
	logger.SetConfig(ctx, logLevel, "simple")
	klogging.SetDefaultLogger(logger)

	cfg := config.DefaultPlacementConfig()
	if configPath != "" {
		loaded, err := config.LoadConfigFile(configPath)
		if err != nil {
			exitOnError("load config", err)
		}
		cfg = loaded
	}
	if budgetMs > 0 {
		cfg.SolverConfig.TimeBudgetMs = budgetMs
		if err := config.Validate(cfg); err != nil {
			exitOnError("budget", err)
		}
	}

	var sj *placementjson.SnapshotJson
	if snapshotPath == "" {
		sj = demoSnapshot(kcommon.GetWallTimeMs(), demoJobs)
	} else {
		raw, err := os.ReadFile(snapshotPath)
		if err != nil {
			exitOnError("read snapshot", err)
		}
		if sj, err = placementjson.ParseSnapshotJson(string(raw)); err != nil {
			exitOnError("parse snapshot", err)
		}
		if sj.TakenAtMs == 0 {
			sj.TakenAtMs = kcommon.GetWallTimeMs()
		}
	}

	if seedRoot != "" {
		source := snapshot.NewEtcdSource(config.NewPathManager(seedRoot), config.NewDefaultConfigProvider(cfg))
		source.WriteScopeJson(ctx, sj)
		fmt.Fprintf(os.Stderr, "placementplan: seeded scope %s (%d jobs) under %s\n", sj.ScopeId, len(sj.Jobs), seedRoot)
		return
	}

	snap := snapshot.FromJson(sj, cfg.CostFuncCfg.CarbonNeutralCapGPerKwh)
	result, err := solver.ValidateAndSolve(ctx, snap, solver.SolveOptions{Config: cfg, ForceGreedy: greedy})
	if err != nil {
		exitOnError("solve", err)
	}
	var out []byte
	if pretty {
		out, err = json.MarshalIndent(result.ToJson(), "", "  ")
	} else {
		out, err = json.Marshal(result.ToJson())
	}
	if err != nil {
		exitOnError("encode result", err)
	}
	fmt.Println(string(out))
}

func exitOnError(step string, err error) {
	fmt.Fprintf(os.Stderr, "placementplan: %s: %v\n", step, err)
	os.Exit(1)
}
