package klogging

import (
	"os"
	"sync"
)

var (
	exitMu   sync.Mutex
	exitFunc = os.Exit
)

// OsExit is called after a fatal entry is written.
func OsExit(code int) {
	exitMu.Lock()
	fn := exitFunc
	exitMu.Unlock()
	fn(code)
}

// SetExitFuncForTest replaces the exit hook so tests can observe fatal logs. Call the returned
// func to restore it.
func SetExitFuncForTest(fn func(code int)) (restore func()) {
	exitMu.Lock()
	old := exitFunc
	exitFunc = fn
	exitMu.Unlock()
	return func() {
		exitMu.Lock()
		exitFunc = old
		exitMu.Unlock()
	}
}
