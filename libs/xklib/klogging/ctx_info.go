package klogging

import (
	"context"
	"sync"
)

type ctxInfoKey int

var userKey ctxInfoKey

// CtxInfo carries key/values that get attached to every log entry made with the ctx.
// Parents are visited first.
type CtxInfo struct {
	Parent *CtxInfo

	mu   sync.RWMutex
	keys []string
	vals map[string]string
}

func NewCtxInfo(parent *CtxInfo) *CtxInfo {
	return &CtxInfo{
		Parent: parent,
		vals:   map[string]string{},
	}
}

// GetCurrentCtxInfo returns nil if ctx carries no CtxInfo.
func GetCurrentCtxInfo(ctx context.Context) *CtxInfo {
	if ctx == nil {
		return nil
	}
	info, _ := ctx.Value(userKey).(*CtxInfo)
	return info
}

// CreateCtxInfo creates a child of whatever CtxInfo ctx already carries.
func CreateCtxInfo(ctx context.Context) (context.Context, *CtxInfo) {
	info := NewCtxInfo(GetCurrentCtxInfo(ctx))
	return context.WithValue(ctx, userKey, info), info
}

func GetOrCreateCtxInfo(ctx context.Context) (context.Context, *CtxInfo) {
	if info := GetCurrentCtxInfo(ctx); info != nil {
		return ctx, info
	}
	return CreateCtxInfo(ctx)
}

// EmbedTraceId returns a child ctx tagged with traceId.
func EmbedTraceId(ctx context.Context, traceId string) context.Context {
	ctx2, info := CreateCtxInfo(ctx)
	info.With("traceId", traceId)
	return ctx2
}

func (info *CtxInfo) With(k string, v string) *CtxInfo {
	info.mu.Lock()
	defer info.mu.Unlock()
	if _, ok := info.vals[k]; !ok {
		info.keys = append(info.keys, k)
	}
	info.vals[k] = v
	return info
}

// FindByKey walks up the parent chain; empty values count as missing.
func (info *CtxInfo) FindByKey(k string, fallback string) string {
	if info == nil {
		return fallback
	}
	info.mu.RLock()
	v, ok := info.vals[k]
	info.mu.RUnlock()
	if ok && v != "" {
		return v
	}
	return info.Parent.FindByKey(k, fallback)
}

func (info *CtxInfo) visit(fn func(k, v string)) {
	if info == nil {
		return
	}
	info.Parent.visit(fn)
	info.mu.RLock()
	defer info.mu.RUnlock()
	for _, k := range info.keys {
		if v := info.vals[k]; v != "" {
			fn(k, v)
		}
	}
}

func (info *CtxInfo) GetAllValuesAsMap() map[string]string {
	data := map[string]string{}
	info.visit(func(k, v string) {
		data[k] = v
	})
	return data
}
