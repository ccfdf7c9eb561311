package etcdprov

import (
	"context"
	"sync"

	"github.com/gridsynapse/placement/libs/xklib/klogging"
)

type EtcdRevision int64

// EtcdKvItem is one key/value read from etcd (or a watch event). Deleted marks a delete event.
type EtcdKvItem struct {
	Key         string
	Value       string
	ModRevision EtcdRevision
	Deleted     bool
}

// EtcdProvider is the slice of etcd the placement service needs. Implementations panic with a
// *kerror.Kerror on transport errors; callers at the boundary recover with kcommon.TryCatchRun.
type EtcdProvider interface {
	// Get returns an empty item (ModRevision 0) when the key does not exist
	Get(ctx context.Context, key string) EtcdKvItem

	Set(ctx context.Context, key, value string)

	// CompareAndSet writes value only if the key's current ModRevision equals expected
	// (0 means "key must not exist"). Returns false when the comparison fails.
	CompareAndSet(ctx context.Context, key string, expected EtcdRevision, value string) bool

	Delete(ctx context.Context, key string)

	// LoadAllByPrefix returns all items under prefix, sorted by key, read at one revision
	LoadAllByPrefix(ctx context.Context, pathPrefix string) ([]EtcdKvItem, EtcdRevision)

	// WatchByPrefix streams changes after revision until ctx is done
	WatchByPrefix(ctx context.Context, pathPrefix string, revision EtcdRevision) chan EtcdKvItem
}

var (
	providerMu          sync.Mutex
	currentEtcdProvider EtcdProvider
)

// GetCurrentEtcdProvider lazily dials the default provider.
func GetCurrentEtcdProvider(ctx context.Context) EtcdProvider {
	providerMu.Lock()
	defer providerMu.Unlock()
	if currentEtcdProvider == nil {
		currentEtcdProvider = NewDefaultEtcdProvider(ctx)
	}
	return currentEtcdProvider
}

// RunWithEtcdProvider swaps in provider for the duration of fn (tests, dry runs).
func RunWithEtcdProvider(provider EtcdProvider, fn func()) {
	providerMu.Lock()
	old := currentEtcdProvider
	currentEtcdProvider = provider
	providerMu.Unlock()
	klogging.Debug(context.Background()).Log("RunWithEtcdProvider", "etcd provider swapped")
	defer func() {
		providerMu.Lock()
		currentEtcdProvider = old
		providerMu.Unlock()
	}()
	fn()
}
