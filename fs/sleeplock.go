package fs

import "sync"

// Sleeplock_t is a long-term mutual exclusion lock; waiters sleep on a
// condition variable instead of spinning. It protects data that is held
// across disk requests (buffer contents, inode fields).
type Sleeplock_t struct {
	lk     sync.Mutex
	cond   *sync.Cond
	locked bool
}

func (l *Sleeplock_t) Acquire() {
	l.lk.Lock()
	if l.cond == nil {
		l.cond = sync.NewCond(&l.lk)
	}
	for l.locked {
		l.cond.Wait()
	}
	l.locked = true
	l.lk.Unlock()
}

func (l *Sleeplock_t) Release() {
	l.lk.Lock()
	if !l.locked {
		l.lk.Unlock()
		panic("release unheld sleep lock")
	}
	l.locked = false
	if l.cond != nil {
		l.cond.Signal()
	}
	l.lk.Unlock()
}

// Isheld reports whether the lock is held. The holder cannot be
// identified, so this is only good for sanity panics.
func (l *Sleeplock_t) Isheld() bool {
	l.lk.Lock()
	r := l.locked
	l.lk.Unlock()
	return r
}
