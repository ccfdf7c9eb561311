package config

import "github.com/gridsynapse/placement/internal/data"

var (
	currentPathManager *PathManager
)

func GetCurrentPathManager() *PathManager {
	if currentPathManager == nil {
		currentPathManager = NewPathManager("/placement")
	}
	return currentPathManager
}

// PathManager knows the etcd key layout.
//
//	{root}/config/placement_config.json
//	{root}/scopes/{scope}/jobs/{jobId}
//	{root}/scopes/{scope}/datacenters/{dcId}
//	{root}/scopes/{scope}/forecasts/{dcId}
//	{root}/scopes/{scope}/assignments/{jobId}
type PathManager struct {
	root string
}

func NewPathManager(root string) *PathManager {
	return &PathManager{root: root}
}

func (pm *PathManager) GetPlacementConfigPath() string {
	return pm.root + "/config/placement_config.json"
}

func (pm *PathManager) GetScopesPrefix() string {
	return pm.root + "/scopes/"
}

func (pm *PathManager) GetScopePrefix(scopeId data.ScopeId) string {
	return pm.GetScopesPrefix() + string(scopeId) + "/"
}

func (pm *PathManager) GetJobPathPrefix(scopeId data.ScopeId) string {
	return pm.GetScopePrefix(scopeId) + "jobs/"
}

func (pm *PathManager) GetDatacenterPathPrefix(scopeId data.ScopeId) string {
	return pm.GetScopePrefix(scopeId) + "datacenters/"
}

func (pm *PathManager) GetForecastPathPrefix(scopeId data.ScopeId) string {
	return pm.GetScopePrefix(scopeId) + "forecasts/"
}

func (pm *PathManager) GetAssignmentPathPrefix(scopeId data.ScopeId) string {
	return pm.GetScopePrefix(scopeId) + "assignments/"
}

func (pm *PathManager) GetAssignmentPath(scopeId data.ScopeId, jobId data.JobId) string {
	return pm.GetAssignmentPathPrefix(scopeId) + string(jobId)
}
