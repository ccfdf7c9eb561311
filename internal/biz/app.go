package biz

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gridsynapse/placement/api"
	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/etcdprov"
	"github.com/gridsynapse/placement/internal/scope"
	"github.com/gridsynapse/placement/internal/snapshot"
	"github.com/gridsynapse/placement/internal/solver"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/placementjson"
)

// 构建时通过 -ldflags 注入
var (
	version   = "dev"
	sessionId = uuid.New().String()[:8]
)

func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

func GetVersion() string {
	return version
}

func GetSessionId() string {
	return sessionId
}

// App is the ops surface of the daemon. Methods panic with *kerror.Kerror; the handler
// middleware turns that into an HTTP status.
type App struct {
	manager     *scope.Manager
	cfgProvider config.ConfigProvider
	pm          *config.PathManager // nil: config lives in memory only
}

func NewApp(manager *scope.Manager, cfgProvider config.ConfigProvider, pm *config.PathManager) *App {
	return &App{manager: manager, cfgProvider: cfgProvider, pm: pm}
}

func (app *App) Ping(ctx context.Context) api.PingResponse {
	return api.PingResponse{
		Status:    "ok",
		Timestamp: time.UnixMilli(kcommon.GetWallTimeMs()).UTC().Format(time.RFC3339),
		Version:   version,
		SessionId: sessionId,
	}
}

func (app *App) GetState(ctx context.Context) *api.GetStateResponse {
	return &api.GetStateResponse{Scopes: app.manager.Summaries()}
}

// DryRunSolve solves a submitted snapshot without touching the ledger or the dispatcher.
func (app *App) DryRunSolve(ctx context.Context, req *api.SolveRequest) *placementjson.SolveResultJson {
	if req.Snapshot == nil {
		panic(kerror.Create("InvalidRequest", "snapshot is required").WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	cfg := app.cfgProvider.GetConfig()
	if req.TimeBudgetMs != nil {
		next := *cfg
		next.SolverConfig.TimeBudgetMs = *req.TimeBudgetMs
		if err := config.Validate(&next); err != nil {
			panic(err)
		}
		cfg = &next
	}
	sj := req.Snapshot
	if sj.TakenAtMs == 0 {
		sj.TakenAtMs = kcommon.GetWallTimeMs()
	}
	snap := snapshot.FromJson(sj, cfg.CostFuncCfg.CarbonNeutralCapGPerKwh)
	result, err := solver.ValidateAndSolve(ctx, snap, solver.SolveOptions{Config: cfg, ForceGreedy: req.ForceGreedy})
	if err != nil {
		panic(err)
	}
	klogging.Info(ctx).
		With("scope", snap.ScopeId).
		With("jobs", len(snap.Jobs)).
		With("mode", result.Mode).
		With("objective", result.ObjectiveValue).
		With("durationMs", result.SolveDurationMs).
		Log("DryRunSolve", "")
	return result.ToJson()
}

func (app *App) GetConfig(ctx context.Context) *placementjson.PlacementConfigJson {
	return app.cfgProvider.GetConfig().ToJson()
}

// ProposeConfig applies a partial proposal after the bounds check. In etcd mode the merged
// config is also written to etcd so the other replicas pick it up through WatchConfig.
func (app *App) ProposeConfig(ctx context.Context, proposal *placementjson.PlacementConfigJson) *placementjson.PlacementConfigJson {
	next, err := config.ProposeConfig(ctx, app.cfgProvider, proposal)
	if err != nil {
		panic(err)
	}
	if app.pm != nil {
		etcdprov.GetCurrentEtcdProvider(ctx).Set(ctx, app.pm.GetPlacementConfigPath(), next.ToJson().ToJson())
	}
	return next.ToJson()
}

// WatchConfig loads the stored config (if any) and keeps following it until ctx is done.
func (app *App) WatchConfig(ctx context.Context) {
	if app.pm == nil {
		return
	}
	path := app.pm.GetPlacementConfigPath()
	var items []etcdprov.EtcdKvItem
	var rev etcdprov.EtcdRevision
	ke := kcommon.TryCatchRun(ctx, func() {
		items, rev = etcdprov.GetCurrentEtcdProvider(ctx).LoadAllByPrefix(ctx, path)
	})
	if ke != nil {
		klogging.Error(ctx).WithError(ke).With("path", path).Log("ConfigLoadFailed", "keeping current config")
		return
	}
	for _, item := range items {
		if item.Key == path {
			app.applyStored(ctx, item.Value)
		}
	}
	ch := etcdprov.GetCurrentEtcdProvider(ctx).WatchByPrefix(ctx, path, rev)
	go func() {
		for item := range ch {
			if item.Deleted || item.Key != path {
				continue
			}
			app.applyStored(ctx, item.Value)
		}
	}()
}

// applyStored replaces the config with the stored one. A stored config out of bounds is ignored.
func (app *App) applyStored(ctx context.Context, value string) {
	pc, err := placementjson.ParsePlacementConfigJson(value)
	if err != nil {
		klogging.Error(ctx).WithError(err).Log("StoredConfigUnreadable", "ignored")
		return
	}
	cfg := config.PlacementConfigJsonToConfig(pc)
	if err := config.Validate(cfg); err != nil {
		klogging.Error(ctx).WithError(err).Log("StoredConfigOutOfBounds", "ignored")
		return
	}
	app.cfgProvider.SetConfig(cfg)
	klogging.Info(ctx).With("config", value).Log("StoredConfigApplied", "")
}
