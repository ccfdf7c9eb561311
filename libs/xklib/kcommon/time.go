package kcommon

import (
	"context"
	"sync/atomic"
	"time"
)

// TimeProvider is the only clock the placement code reads, so tests can swap it.
type TimeProvider interface {
	GetWallTimeMs() int64
	GetMonoTimeMs() int64
	ScheduleRun(delayMs int, fn func())
	SleepMs(ctx context.Context, ms int)
}

type timeProviderHolder struct {
	tp TimeProvider
}

var currentTimeProvider atomic.Value

func init() {
	currentTimeProvider.Store(&timeProviderHolder{NewSystemTimeProvider()})
}

func getTimeProvider() TimeProvider {
	return currentTimeProvider.Load().(*timeProviderHolder).tp
}

// RunWithTimeProvider installs tp for the duration of fn.
func RunWithTimeProvider(tp TimeProvider, fn func()) {
	old := getTimeProvider()
	currentTimeProvider.Store(&timeProviderHolder{tp})
	defer currentTimeProvider.Store(&timeProviderHolder{old})
	fn()
}

func SetTimeProvider(tp TimeProvider) {
	currentTimeProvider.Store(&timeProviderHolder{tp})
}

func GetWallTimeMs() int64 {
	return getTimeProvider().GetWallTimeMs()
}

func GetMonoTimeMs() int64 {
	return getTimeProvider().GetMonoTimeMs()
}

func ScheduleRun(delayMs int, fn func()) {
	getTimeProvider().ScheduleRun(delayMs, fn)
}

func SleepMs(ctx context.Context, ms int) {
	getTimeProvider().SleepMs(ctx, ms)
}

// SystemTimeProvider: implements TimeProvider on top of the real clock.
type SystemTimeProvider struct {
	startTime time.Time
}

func NewSystemTimeProvider() *SystemTimeProvider {
	return &SystemTimeProvider{startTime: time.Now()}
}

func (provider *SystemTimeProvider) GetWallTimeMs() int64 {
	return time.Now().UnixMilli()
}

func (provider *SystemTimeProvider) GetMonoTimeMs() int64 {
	return time.Since(provider.startTime).Milliseconds()
}

func (provider *SystemTimeProvider) ScheduleRun(delayMs int, fn func()) {
	time.AfterFunc(time.Duration(delayMs)*time.Millisecond, fn)
}

func (provider *SystemTimeProvider) SleepMs(ctx context.Context, ms int) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(ms) * time.Millisecond):
	}
}

// StepTimeProvider advances its clock by StepMs on every read. Useful to make a time budget
// expire after a known number of checkpoints. Scheduled tasks run immediately on a goroutine.
type StepTimeProvider struct {
	StepMs int64
	now    atomic.Int64
}

func NewStepTimeProvider(startMs int64, stepMs int64) *StepTimeProvider {
	tp := &StepTimeProvider{StepMs: stepMs}
	tp.now.Store(startMs)
	return tp
}

func (provider *StepTimeProvider) GetWallTimeMs() int64 {
	return provider.now.Add(provider.StepMs)
}

func (provider *StepTimeProvider) GetMonoTimeMs() int64 {
	return provider.now.Add(provider.StepMs)
}

func (provider *StepTimeProvider) ScheduleRun(delayMs int, fn func()) {
	go fn()
}

func (provider *StepTimeProvider) SleepMs(ctx context.Context, ms int) {
	provider.now.Add(int64(ms))
}
