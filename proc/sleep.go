package proc

import "sync"

// sleep channels: any pointer works as a key, like sleeping on a kernel
// address
type waiter_t struct {
	cond *sync.Cond
	n    int
}

var wtab = struct {
	sync.Mutex
	m map[any]*waiter_t
}{m: make(map[any]*waiter_t)}

// Sleep atomically releases lk and sleeps on key; lk is held again on
// return. Wakeups may be spurious, so callers loop on their condition.
// The caller must hold lk, and a given key must always be used with the
// same lock.
func Sleep(key any, lk *sync.Mutex) {
	wtab.Lock()
	w := wtab.m[key]
	if w == nil {
		w = &waiter_t{cond: sync.NewCond(lk)}
		wtab.m[key] = w
	}
	w.n++
	wtab.Unlock()

	w.cond.Wait()

	wtab.Lock()
	w.n--
	if w.n == 0 {
		delete(wtab.m, key)
	}
	wtab.Unlock()
}

// Wakeup wakes every sleeper on key. Callers should hold the lock the
// sleepers used while changing the awaited condition.
func Wakeup(key any) {
	wtab.Lock()
	w := wtab.m[key]
	wtab.Unlock()
	if w != nil {
		w.cond.Broadcast()
	}
}
