package etcdprov

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeEtcdProvider_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	f := NewFakeEtcdProvider()

	assert.Equal(t, EtcdRevision(0), f.Get(ctx, "/a").ModRevision)
	f.Set(ctx, "/a", "1")
	item := f.Get(ctx, "/a")
	assert.Equal(t, "1", item.Value)
	assert.Equal(t, EtcdRevision(2), item.ModRevision)

	f.Delete(ctx, "/a")
	assert.Equal(t, "", f.Get(ctx, "/a").Value)
	assert.Equal(t, EtcdRevision(3), f.CurrentRevision())
}

func TestFakeEtcdProvider_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	f := NewFakeEtcdProvider()

	assert.True(t, f.CompareAndSet(ctx, "/k", 0, "v1"))
	assert.False(t, f.CompareAndSet(ctx, "/k", 0, "v2"))
	rev := f.Get(ctx, "/k").ModRevision
	assert.True(t, f.CompareAndSet(ctx, "/k", rev, "v2"))
	assert.False(t, f.CompareAndSet(ctx, "/k", rev, "v3"))
	assert.Equal(t, "v2", f.Get(ctx, "/k").Value)
}

func TestFakeEtcdProvider_LoadAndWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := NewFakeEtcdProvider()
	f.Set(ctx, "/p/b", "2")
	f.Set(ctx, "/p/a", "1")
	f.Set(ctx, "/q/x", "x")

	items, rev := f.LoadAllByPrefix(ctx, "/p/")
	assert.Equal(t, 2, len(items))
	assert.Equal(t, "/p/a", items[0].Key)
	assert.Equal(t, f.CurrentRevision(), rev)

	ch := f.WatchByPrefix(ctx, "/p/", rev)
	f.Set(ctx, "/q/y", "ignored")
	f.Set(ctx, "/p/c", "3")
	f.Delete(ctx, "/p/a")

	select {
	case ev := <-ch:
		assert.Equal(t, "/p/c", ev.Key)
		assert.False(t, ev.Deleted)
	case <-time.After(time.Second):
		t.Fatal("no put event")
	}
	select {
	case ev := <-ch:
		assert.Equal(t, "/p/a", ev.Key)
		assert.True(t, ev.Deleted)
	case <-time.After(time.Second):
		t.Fatal("no delete event")
	}
}
