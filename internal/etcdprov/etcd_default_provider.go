package etcdprov

import (
	"context"
	"strings"
	"time"

	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// etcdDefaultProvider talks to a real cluster. Env:
//   - ETCD_ENDPOINTS, comma separated, default "localhost:2379"
//   - ETCD_DIAL_TIMEOUT_SEC, default 5
type etcdDefaultProvider struct {
	client *clientv3.Client
}

func NewDefaultEtcdProvider(ctx context.Context) EtcdProvider {
	endpoints := strings.Split(kcommon.GetEnvString("ETCD_ENDPOINTS", "localhost:2379"), ",")
	dialTimeoutSec := kcommon.GetEnvInt("ETCD_DIAL_TIMEOUT_SEC", 5)
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: time.Duration(dialTimeoutSec) * time.Second,
	})
	if err != nil {
		panic(kerror.Wrap(err, "EtcdConnectError", "failed to connect to etcd", false).
			WithErrorCode(kerror.EC_INTERNAL_ERROR).
			With("endpoints", strings.Join(endpoints, ",")))
	}
	klogging.Info(ctx).With("endpoints", endpoints).Log("EtcdConnected", "")
	return &etcdDefaultProvider{client: cli}
}

func etcdError(err error, errType, msg, key string) *kerror.Kerror {
	return kerror.Wrap(err, errType, msg, false).
		WithErrorCode(kerror.EC_RETRYABLE).
		With("key", key)
}

func (pvd *etcdDefaultProvider) Get(ctx context.Context, key string) EtcdKvItem {
	resp, err := pvd.client.Get(ctx, key)
	if err != nil {
		panic(etcdError(err, "EtcdGetError", "failed to get key from etcd", key))
	}
	if len(resp.Kvs) == 0 {
		return EtcdKvItem{Key: key}
	}
	kv := resp.Kvs[0]
	return EtcdKvItem{
		Key:         string(kv.Key),
		Value:       string(kv.Value),
		ModRevision: EtcdRevision(kv.ModRevision),
	}
}

func (pvd *etcdDefaultProvider) Set(ctx context.Context, key, value string) {
	if _, err := pvd.client.Put(ctx, key, value); err != nil {
		panic(etcdError(err, "EtcdPutError", "failed to set key in etcd", key))
	}
}

func (pvd *etcdDefaultProvider) CompareAndSet(ctx context.Context, key string, expected EtcdRevision, value string) bool {
	resp, err := pvd.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", int64(expected))).
		Then(clientv3.OpPut(key, value)).
		Commit()
	if err != nil {
		panic(etcdError(err, "EtcdTxnError", "compare and set failed", key))
	}
	return resp.Succeeded
}

func (pvd *etcdDefaultProvider) Delete(ctx context.Context, key string) {
	if _, err := pvd.client.Delete(ctx, key); err != nil {
		panic(etcdError(err, "EtcdDeleteError", "failed to delete key from etcd", key))
	}
}

// LoadAllByPrefix pages through the prefix at a pinned revision so the result is consistent.
func (pvd *etcdDefaultProvider) LoadAllByPrefix(ctx context.Context, pathPrefix string) ([]EtcdKvItem, EtcdRevision) {
	const pageSize = 1000
	rangeEnd := clientv3.GetPrefixRangeEnd(pathPrefix)
	var items []EtcdKvItem
	var revision int64
	key := pathPrefix
	for {
		opts := []clientv3.OpOption{
			clientv3.WithRange(rangeEnd),
			clientv3.WithLimit(pageSize),
			clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
		}
		if revision != 0 {
			opts = append(opts, clientv3.WithRev(revision))
		}
		resp, err := pvd.client.Get(ctx, key, opts...)
		if err != nil {
			panic(etcdError(err, "EtcdLoadError", "failed to load keys from etcd", pathPrefix))
		}
		if revision == 0 {
			revision = resp.Header.Revision
		}
		for _, kv := range resp.Kvs {
			items = append(items, EtcdKvItem{
				Key:         string(kv.Key),
				Value:       string(kv.Value),
				ModRevision: EtcdRevision(kv.ModRevision),
			})
		}
		if !resp.More || len(resp.Kvs) == 0 {
			break
		}
		// next page starts right after the last key
		key = string(resp.Kvs[len(resp.Kvs)-1].Key) + "\x00"
	}
	klogging.Debug(ctx).With("pathPrefix", pathPrefix).With("count", len(items)).With("revision", revision).Log("LoadAllByPrefix", "")
	return items, EtcdRevision(revision)
}

// WatchByPrefix re-establishes the watch on errors, resuming after the last seen revision.
func (pvd *etcdDefaultProvider) WatchByPrefix(ctx context.Context, pathPrefix string, revision EtcdRevision) chan EtcdKvItem {
	eventChan := make(chan EtcdKvItem, 100)
	go func() {
		defer close(eventChan)
		nextRev := int64(revision) + 1
		for ctx.Err() == nil {
			watchChan := pvd.client.Watch(ctx, pathPrefix, clientv3.WithPrefix(), clientv3.WithRev(nextRev))
			for wresp := range watchChan {
				if wresp.CompactRevision > 0 {
					klogging.Warning(ctx).With("pathPrefix", pathPrefix).With("compactRevision", wresp.CompactRevision).Log("WatchCompacted", "resuming from compact revision")
					nextRev = wresp.CompactRevision
					break
				}
				if err := wresp.Err(); err != nil {
					klogging.Error(ctx).With("pathPrefix", pathPrefix).WithError(err).Log("WatchError", "")
					break
				}
				for _, event := range wresp.Events {
					item := EtcdKvItem{
						Key:         string(event.Kv.Key),
						ModRevision: EtcdRevision(event.Kv.ModRevision),
						Deleted:     event.Type == mvccpb.DELETE,
					}
					if !item.Deleted {
						item.Value = string(event.Kv.Value)
					}
					nextRev = event.Kv.ModRevision + 1
					select {
					case eventChan <- item:
					case <-ctx.Done():
						return
					}
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
	return eventChan
}
