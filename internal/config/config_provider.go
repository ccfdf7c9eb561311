package config

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/placementjson"
)

var (
	currentConfigProvider ConfigProvider
	providerMu            sync.Mutex
)

// ConfigProvider hands out the current config. Readers take one *PlacementConfig per solve cycle and never see it change.
type ConfigProvider interface {
	GetConfig() *PlacementConfig
	SetConfig(cfg *PlacementConfig)
}

func GetCurrentConfigProvider() ConfigProvider {
	providerMu.Lock()
	defer providerMu.Unlock()
	if currentConfigProvider == nil {
		currentConfigProvider = NewDefaultConfigProvider(DefaultPlacementConfig())
	}
	return currentConfigProvider
}

// RunWithConfigProvider: for testing only
func RunWithConfigProvider(provider ConfigProvider, fn func()) {
	providerMu.Lock()
	old := currentConfigProvider
	currentConfigProvider = provider
	providerMu.Unlock()
	defer func() {
		providerMu.Lock()
		currentConfigProvider = old
		providerMu.Unlock()
	}()
	fn()
}

type DefaultConfigProvider struct {
	cfg atomic.Pointer[PlacementConfig]
}

func NewDefaultConfigProvider(cfg *PlacementConfig) *DefaultConfigProvider {
	dcp := &DefaultConfigProvider{}
	dcp.cfg.Store(cfg)
	return dcp
}

func (dcp *DefaultConfigProvider) GetConfig() *PlacementConfig {
	return dcp.cfg.Load()
}

func (dcp *DefaultConfigProvider) SetConfig(cfg *PlacementConfig) {
	dcp.cfg.Store(cfg)
}

// ProposeConfig merges a (partial) proposal onto the current config, checks bounds, and swaps it in.
// On a bounds violation nothing changes and the error says which field failed.
func ProposeConfig(ctx context.Context, provider ConfigProvider, proposal *placementjson.PlacementConfigJson) (*PlacementConfig, error) {
	next := MergePlacementConfig(provider.GetConfig(), proposal)
	if err := Validate(next); err != nil {
		klogging.Warning(ctx).WithError(err).With("proposal", proposal.ToJson()).Log("ConfigProposalRejected", "")
		return nil, err
	}
	provider.SetConfig(next)
	klogging.Info(ctx).With("config", next.ToJson().ToJson()).Log("ConfigProposalAccepted", "")
	return next, nil
}
