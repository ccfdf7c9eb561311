package kcommon

import "sync"

func RunWithLock(m *sync.Mutex, fnc func()) {
	m.Lock()
	defer m.Unlock()
	fnc()
}

func RunWithRLock(m *sync.RWMutex, fnc func()) {
	m.RLock()
	defer m.RUnlock()
	fnc()
}
