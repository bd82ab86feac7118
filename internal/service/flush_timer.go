package service

import (
	"sync"
	"time"
)

// flushTimer отложенный локальный Flush после коммита.
// Таймер привязан к номеру коммита: новый коммит, новая речь или
// полученный Final отменяют его, устаревший таймер ничего не делает.
type flushTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	commitID uint64
	activity uint64

	// valid перепроверяет условия под блокировкой в момент срабатывания
	valid  func(commitID, activity uint64) bool
	onFire func(commitID uint64)
}

func newFlushTimer(valid func(commitID, activity uint64) bool, onFire func(commitID uint64)) *flushTimer {
	return &flushTimer{valid: valid, onFire: onFire}
}

// arm взводит таймер для коммита, отменяя предыдущий
func (f *flushTimer) arm(commitID, activity uint64, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.commitID = commitID
	f.activity = activity
	f.timer = time.AfterFunc(d, func() { f.fire(commitID) })
}

// cancel отменяет взведённый таймер
func (f *flushTimer) cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.commitID = 0
}

// armed номер коммита взведённого таймера, 0 если нет
func (f *flushTimer) armed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commitID
}

func (f *flushTimer) fire(commitID uint64) {
	f.mu.Lock()
	if f.commitID != commitID {
		f.mu.Unlock()
		return
	}
	activity := f.activity
	f.commitID = 0
	f.timer = nil
	ok := f.valid == nil || f.valid(commitID, activity)
	f.mu.Unlock()

	if ok {
		f.onFire(commitID)
	}
}
