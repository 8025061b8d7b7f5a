package fs

import (
	"fmt"
	"sync"
)

var log_debug = false

// Log_t is the write-ahead journal. Path syscalls bracket their block
// writes in Begin_op/End_op; dirty blocks go through Log.Write instead of
// Bwrite and stay pinned in the cache until the commit installs them. The
// last op out of a batch commits the whole batch.
type Log_t struct {
	sync.Mutex
	cond        *sync.Cond
	start       int // header block number
	size        int // header + data blocks
	dev         int
	outstanding int
	committing  bool
	lh          []int // absorbed block numbers, in log order
	ncommits    int
	bc          *Bcache_t
}

// MkLog attaches a journal to the log area described by sb and replays
// any committed transaction left by a crash.
func MkLog(bc *Bcache_t, sb *Superblock_t, dev int) *Log_t {
	l := &Log_t{
		start: int(sb.Logstart),
		size:  int(sb.Nlog),
		dev:   dev,
		bc:    bc,
	}
	l.cond = sync.NewCond(l)
	l.recover()
	return l
}

func (l *Log_t) recover() {
	l.readhead()
	if len(l.lh) > 0 && log_debug {
		fmt.Printf("log: recovering %v blocks\n", len(l.lh))
	}
	l.install(true)
	l.lh = l.lh[:0]
	l.writehead()
}

func (l *Log_t) readhead() {
	b := l.bc.Bread(l.dev, l.start)
	n := int(readle32(b.Data[:], 0))
	l.lh = l.lh[:0]
	for i := 0; i < n; i++ {
		l.lh = append(l.lh, int(readle32(b.Data[:], 4+4*i)))
	}
	l.bc.Brelse(b)
}

// writehead commits or erases the transaction: the header write is the
// atomic point.
func (l *Log_t) writehead() {
	b := l.bc.Bread(l.dev, l.start)
	putle32(b.Data[:], 0, uint32(len(l.lh)))
	for i, blkno := range l.lh {
		putle32(b.Data[:], 4+4*i, uint32(blkno))
	}
	l.bc.Bwrite(b)
	l.bc.Brelse(b)
}

// install copies committed blocks from the log area home. Outside of
// recovery each installed block is also unpinned.
func (l *Log_t) install(recovering bool) {
	for i, blkno := range l.lh {
		lbuf := l.bc.Bread(l.dev, l.start+1+i)
		dbuf := l.bc.Bread(l.dev, blkno)
		copy(dbuf.Data[:], lbuf.Data[:])
		l.bc.Bwrite(dbuf)
		if !recovering {
			l.bc.Bunpin(dbuf)
		}
		l.bc.Brelse(lbuf)
		l.bc.Brelse(dbuf)
	}
}

// copy dirty cached blocks into the log area
func (l *Log_t) writelog() {
	for i, blkno := range l.lh {
		lbuf := l.bc.Bread(l.dev, l.start+1+i)
		dbuf := l.bc.Bread(l.dev, blkno)
		copy(lbuf.Data[:], dbuf.Data[:])
		l.bc.Bwrite(lbuf)
		l.bc.Brelse(lbuf)
		l.bc.Brelse(dbuf)
	}
}

// Begin_op reserves log space for one syscall's writes, sleeping while a
// commit is in flight or the reservation would overflow the log.
func (l *Log_t) Begin_op() {
	l.Lock()
	for {
		if l.committing {
			l.cond.Wait()
		} else if len(l.lh)+(l.outstanding+1)*MAXOPBLOCKS > LOGSIZE {
			l.cond.Wait()
		} else {
			l.outstanding++
			l.Unlock()
			return
		}
	}
}

// End_op closes the op; the last op of the batch commits.
func (l *Log_t) End_op() {
	docommit := false
	l.Lock()
	l.outstanding--
	if l.committing {
		panic("log: committing")
	}
	if l.outstanding == 0 {
		docommit = true
		l.committing = true
	} else {
		// reservations shrank; a waiting Begin_op may fit now
		l.cond.Broadcast()
	}
	l.Unlock()

	if docommit {
		l.commit()
		l.Lock()
		l.committing = false
		l.cond.Broadcast()
		l.Unlock()
	}
}

func (l *Log_t) commit() {
	if len(l.lh) == 0 {
		return
	}
	if log_debug {
		fmt.Printf("log: commit %v blocks\n", len(l.lh))
	}
	l.writelog()
	l.writehead() // the real commit
	l.install(false)
	l.lh = l.lh[:0]
	l.writehead()
	l.ncommits++
}

// Write records b as part of the current op and pins it in the cache.
// The caller holds b's sleep lock and releases it as usual; the block
// reaches disk at commit.
func (l *Log_t) Write(b *Buf_t) {
	l.Lock()
	defer l.Unlock()
	if len(l.lh) >= LOGSIZE || len(l.lh) >= l.size-1 {
		panic("log: transaction too big")
	}
	if l.outstanding < 1 {
		panic("log: write outside of op")
	}
	for _, blkno := range l.lh {
		if blkno == b.Blockno {
			return // absorbed
		}
	}
	l.lh = append(l.lh, b.Blockno)
	l.bc.Bpin(b)
}

func (l *Log_t) Stats() string {
	l.Lock()
	defer l.Unlock()
	return fmt.Sprintf("log: %v commits", l.ncommits)
}
