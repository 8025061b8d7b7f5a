package fs

import (
	"fmt"
	"sync"

	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/mem"
)

var bio_debug = false

// Buf_t is one cached disk block. The bucket links are intrusive; a
// buffer is always on exactly one bucket list. Data and valid are
// protected by the sleep lock, the rest by the owning bucket's lock.
type Buf_t struct {
	Dev     int
	Blockno int
	valid   bool
	refcnt  int
	prev    *Buf_t
	next    *Buf_t
	lock    Sleeplock_t
	Pa      mem.Pa_t
	Data    *mem.Bytepg_t
}

// bucket_t heads a doubly-linked list through a sentinel. The list is
// kept in MRU order: released buffers go to the front, victims are taken
// from the back.
type bucket_t struct {
	sync.Mutex
	head Buf_t
}

func (bk *bucket_t) init() {
	bk.head.next = &bk.head
	bk.head.prev = &bk.head
}

func (bk *bucket_t) find(dev, blockno int) *Buf_t {
	for b := bk.head.next; b != &bk.head; b = b.next {
		if b.Dev == dev && b.Blockno == blockno {
			return b
		}
	}
	return nil
}

// victim returns an unreferenced buffer, least-recently released first,
// without unlinking it.
func (bk *bucket_t) victim() *Buf_t {
	for b := bk.head.prev; b != &bk.head; b = b.prev {
		if b.refcnt == 0 {
			return b
		}
	}
	return nil
}

func (bk *bucket_t) remove(b *Buf_t) {
	b.next.prev = b.prev
	b.prev.next = b.next
	b.next = nil
	b.prev = nil
}

func (bk *bucket_t) insertfront(b *Buf_t) {
	b.next = bk.head.next
	b.prev = &bk.head
	bk.head.next.prev = b
	bk.head.next = b
}

type bstats_t struct {
	hits   int
	misses int
	steals int
}

// Bcache_t caches NBUF disk blocks in NBUCKETS hash buckets keyed by
// (dev + blockno) % NBUCKETS. The outer lock serializes eviction only;
// hits take just the bucket lock. Lock order: bcache lock, then bucket
// locks, then buffer sleep locks.
type Bcache_t struct {
	sync.Mutex
	disk    Disk_i
	bufs    [defs.NBUF]Buf_t
	buckets [defs.NBUCKETS]bucket_t
	stats   bstats_t
}

// MkBcache builds a cache over disk with every buffer's data page taken
// from phys. The pages are owned by the cache for its lifetime.
func MkBcache(phys *mem.Physmem_t, disk Disk_i) *Bcache_t {
	bc := &Bcache_t{disk: disk}
	for i := range bc.buckets {
		bc.buckets[i].init()
	}
	// all buffers start in bucket 0, like a freshly booted cache
	for i := range bc.bufs {
		b := &bc.bufs[i]
		pa, ok := phys.Page_alloc()
		if !ok {
			panic("bcache: out of pages")
		}
		b.Pa = pa
		b.Data = phys.Dmap(pa)
		bc.buckets[0].insertfront(b)
	}
	return bc
}

func (bc *Bcache_t) bidx(dev, blockno int) int {
	return (dev + blockno) % defs.NBUCKETS
}

// bget returns the locked buffer for (dev, blockno), evicting if needed.
func (bc *Bcache_t) bget(dev, blockno int) *Buf_t {
	idx := bc.bidx(dev, blockno)
	bk := &bc.buckets[idx]

	bk.Lock()
	if b := bk.find(dev, blockno); b != nil {
		b.refcnt++
		bk.Unlock()
		bc.Lock()
		bc.stats.hits++
		bc.Unlock()
		b.lock.Acquire()
		return b
	}
	bk.Unlock()

	// Miss. Take the cache lock so only one goroutine evicts at a time,
	// then re-check: the block may have been brought in while we raced.
	bc.Lock()
	bc.stats.misses++
	bk.Lock()
	if b := bk.find(dev, blockno); b != nil {
		b.refcnt++
		bk.Unlock()
		bc.Unlock()
		b.lock.Acquire()
		return b
	}
	if b := bk.victim(); b != nil {
		bc.setup(b, dev, blockno)
		bk.Unlock()
		bc.Unlock()
		b.lock.Acquire()
		return b
	}
	bk.Unlock()

	// Steal an idle buffer from another bucket.
	for i := 1; i < defs.NBUCKETS; i++ {
		ob := &bc.buckets[(idx+i)%defs.NBUCKETS]
		ob.Lock()
		b := ob.victim()
		if b == nil {
			ob.Unlock()
			continue
		}
		ob.remove(b)
		ob.Unlock()
		if bio_debug {
			fmt.Printf("bio: steal buf for (%v, %v) from bucket %v\n",
				dev, blockno, (idx+i)%defs.NBUCKETS)
		}
		bk.Lock()
		bc.setup(b, dev, blockno)
		bk.insertfront(b)
		bk.Unlock()
		bc.stats.steals++
		bc.Unlock()
		b.lock.Acquire()
		return b
	}
	panic("bget: no buffers")
}

// caller holds the cache lock and the target bucket lock
func (bc *Bcache_t) setup(b *Buf_t, dev, blockno int) {
	b.Dev = dev
	b.Blockno = blockno
	b.valid = false
	b.refcnt = 1
}

// Bread returns a locked buffer holding the contents of the block,
// reading from disk only if the cached copy is stale.
func (bc *Bcache_t) Bread(dev, blockno int) *Buf_t {
	b := bc.bget(dev, blockno)
	if !b.valid {
		req := MkRequest([]*Buf_t{b}, BDEV_READ, true)
		if bc.disk.Start(req) {
			<-req.AckCh
		}
		b.valid = true
	}
	return b
}

// Bwrite flushes the buffer to disk. The caller must hold the buffer's
// sleep lock.
func (bc *Bcache_t) Bwrite(b *Buf_t) {
	if !b.lock.Isheld() {
		panic("bwrite")
	}
	req := MkRequest([]*Buf_t{b}, BDEV_WRITE, true)
	if bc.disk.Start(req) {
		<-req.AckCh
	}
}

// Brelse drops a locked buffer. At refcnt zero the buffer moves to the
// front of its bucket and becomes the last eviction candidate.
func (bc *Bcache_t) Brelse(b *Buf_t) {
	if !b.lock.Isheld() {
		panic("brelse")
	}
	b.lock.Release()

	bk := &bc.buckets[bc.bidx(b.Dev, b.Blockno)]
	bk.Lock()
	b.refcnt--
	if b.refcnt < 0 {
		panic("brelse: refcnt")
	}
	if b.refcnt == 0 {
		bk.remove(b)
		bk.insertfront(b)
	}
	bk.Unlock()
}

// Bpin holds a buffer in the cache without holding its lock; the journal
// pins blocks until they are installed.
func (bc *Bcache_t) Bpin(b *Buf_t) {
	bk := &bc.buckets[bc.bidx(b.Dev, b.Blockno)]
	bk.Lock()
	b.refcnt++
	bk.Unlock()
}

func (bc *Bcache_t) Bunpin(b *Buf_t) {
	bk := &bc.buckets[bc.bidx(b.Dev, b.Blockno)]
	bk.Lock()
	b.refcnt--
	if b.refcnt < 0 {
		panic("bunpin: refcnt")
	}
	bk.Unlock()
}

func (bc *Bcache_t) Stats() string {
	bc.Lock()
	defer bc.Unlock()
	return fmt.Sprintf("bcache: %v hits, %v misses, %v steals",
		bc.stats.hits, bc.stats.misses, bc.stats.steals)
}
