package etcdprov

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// FakeEtcdProvider is an in-memory EtcdProvider with etcd-like revisions and prefix watches.
type FakeEtcdProvider struct {
	mu              sync.Mutex
	data            map[string]*fakeKV
	currentRevision EtcdRevision
	watchers        map[string][]chan EtcdKvItem
}

type fakeKV struct {
	Value       string
	ModRevision EtcdRevision
}

func NewFakeEtcdProvider() *FakeEtcdProvider {
	return &FakeEtcdProvider{
		data:            map[string]*fakeKV{},
		currentRevision: 1,
		watchers:        map[string][]chan EtcdKvItem{},
	}
}

func (f *FakeEtcdProvider) Get(ctx context.Context, key string) EtcdKvItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kv, ok := f.data[key]; ok {
		return EtcdKvItem{Key: key, Value: kv.Value, ModRevision: kv.ModRevision}
	}
	return EtcdKvItem{Key: key}
}

func (f *FakeEtcdProvider) Set(ctx context.Context, key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLocked(key, value)
}

func (f *FakeEtcdProvider) putLocked(key, value string) {
	f.currentRevision++
	f.data[key] = &fakeKV{Value: value, ModRevision: f.currentRevision}
	f.notifyLocked(EtcdKvItem{Key: key, Value: value, ModRevision: f.currentRevision})
}

func (f *FakeEtcdProvider) CompareAndSet(ctx context.Context, key string, expected EtcdRevision, value string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var current EtcdRevision
	if kv, ok := f.data[key]; ok {
		current = kv.ModRevision
	}
	if current != expected {
		return false
	}
	f.putLocked(key, value)
	return true
}

func (f *FakeEtcdProvider) Delete(ctx context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return
	}
	f.currentRevision++
	delete(f.data, key)
	f.notifyLocked(EtcdKvItem{Key: key, ModRevision: f.currentRevision, Deleted: true})
}

func (f *FakeEtcdProvider) LoadAllByPrefix(ctx context.Context, pathPrefix string) ([]EtcdKvItem, EtcdRevision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []EtcdKvItem
	for k, v := range f.data {
		if strings.HasPrefix(k, pathPrefix) {
			items = append(items, EtcdKvItem{Key: k, Value: v.Value, ModRevision: v.ModRevision})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Key < items[j].Key
	})
	return items, f.currentRevision
}

// WatchByPrefix only delivers changes made after the call; history replay is not simulated.
func (f *FakeEtcdProvider) WatchByPrefix(ctx context.Context, pathPrefix string, revision EtcdRevision) chan EtcdKvItem {
	ch := make(chan EtcdKvItem, 100)
	f.mu.Lock()
	f.watchers[pathPrefix] = append(f.watchers[pathPrefix], ch)
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		list := f.watchers[pathPrefix]
		for i, c := range list {
			if c == ch {
				f.watchers[pathPrefix] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notifyLocked never blocks: a full watcher channel drops the event.
func (f *FakeEtcdProvider) notifyLocked(item EtcdKvItem) {
	for prefix, channels := range f.watchers {
		if !strings.HasPrefix(item.Key, prefix) {
			continue
		}
		for _, ch := range channels {
			select {
			case ch <- item:
			default:
			}
		}
	}
}

func (f *FakeEtcdProvider) CurrentRevision() EtcdRevision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentRevision
}
