// Package mem owns the simulated physical memory: a single byte slab
// addressed by Pa_t offsets. Frames are handed out in 4KB pages and, from
// a small reserved pool, 2MB superpages. Free frames are threaded into
// LIFO run lists whose link word lives in the first bytes of the frame
// itself, so a freed frame costs nothing beyond the frame.
package mem

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/kings099/MIT-6.1810-Xv6/defs"
)

const PGSIZE int = defs.PGSIZE
const SUPERPGSIZE int = defs.SUPERPGSIZE

// Pa_t is a physical address: a byte offset into the slab.
type Pa_t uintptr
type Bytepg_t [defs.PGSIZE]uint8

// NILPA terminates a free run list. Pa 0 is never allocatable (the first
// page is reserved as the fake kernel image) so 0 also reads as "no page".
const NILPA Pa_t = ^Pa_t(0)

const allocscrub uint8 = 5
const freescrub uint8 = 1

var mem_debug = false

func Pgroundup(pa Pa_t) Pa_t {
	return (pa + Pa_t(PGSIZE) - 1) &^ (Pa_t(PGSIZE) - 1)
}

func Superpgroundup(pa Pa_t) Pa_t {
	return (pa + Pa_t(SUPERPGSIZE) - 1) &^ (Pa_t(SUPERPGSIZE) - 1)
}

type pool_t struct {
	sync.Mutex
	freei   Pa_t
	freelen int
}

// Physmem_t is one machine's physical memory. All methods are safe for
// concurrent use.
type Physmem_t struct {
	slab    []uint8
	kend    Pa_t // first byte above the fake kernel image
	phystop Pa_t
	pgpool  pool_t
	sppool  pool_t
	spstart Pa_t
	spend   Pa_t
}

// Phys_new creates a physical memory of membytes bytes (rounded up to a
// page) with nsuper 2MB frames carved out for the superpage pool. If the
// superpages do not fit, the whole remainder feeds the 4KB pool instead.
func Phys_new(membytes int, nsuper int) *Physmem_t {
	top := Pgroundup(Pa_t(membytes))
	if top < Pa_t(2*PGSIZE) {
		panic("physical memory too small")
	}
	p := &Physmem_t{
		slab:    make([]uint8, top),
		kend:    Pa_t(PGSIZE),
		phystop: top,
	}
	p.pgpool.freei = NILPA
	p.sppool.freei = NILPA

	spstart := Superpgroundup(p.kend)
	spend := spstart + Pa_t(nsuper*SUPERPGSIZE)
	if nsuper > 0 && spend <= p.phystop {
		p.spstart = spstart
		p.spend = spend
		for pa := spstart; pa < spend; pa += Pa_t(SUPERPGSIZE) {
			p._push(&p.sppool, pa)
		}
		p._freerange(p.kend, spstart)
		p._freerange(spend, p.phystop)
	} else {
		p._freerange(p.kend, p.phystop)
	}
	if mem_debug {
		fmt.Printf("phys: %v pages, %v superpages\n",
			p.pgpool.freelen, p.sppool.freelen)
	}
	return p
}

func (p *Physmem_t) _freerange(start, end Pa_t) {
	for pa := Pgroundup(start); pa+Pa_t(PGSIZE) <= end; pa += Pa_t(PGSIZE) {
		p._push(&p.pgpool, pa)
	}
}

// the link word is the first 8 bytes of the free frame
func (p *Physmem_t) _link(pa Pa_t) *Pa_t {
	return (*Pa_t)(unsafe.Pointer(&p.slab[pa]))
}

func (p *Physmem_t) _push(pool *pool_t, pa Pa_t) {
	*p._link(pa) = pool.freei
	pool.freei = pa
	pool.freelen++
}

func (p *Physmem_t) _pop(pool *pool_t) (Pa_t, bool) {
	pa := pool.freei
	if pa == NILPA {
		return 0, false
	}
	pool.freei = *p._link(pa)
	pool.freelen--
	return pa, true
}

// Page_alloc returns a 4KB frame filled with the alloc scrub byte, or
// false when memory is exhausted.
func (p *Physmem_t) Page_alloc() (Pa_t, bool) {
	p.pgpool.Lock()
	pa, ok := p._pop(&p.pgpool)
	p.pgpool.Unlock()
	if !ok {
		return 0, false
	}
	p._scrub(pa, PGSIZE, allocscrub)
	return pa, true
}

// Page_zalloc is Page_alloc but the frame is zeroed.
func (p *Physmem_t) Page_zalloc() (Pa_t, bool) {
	pa, ok := p.Page_alloc()
	if !ok {
		return 0, false
	}
	p._scrub(pa, PGSIZE, 0)
	return pa, true
}

// Page_free scrubs pa and returns it to the 4KB pool. Freeing a frame the
// allocator never owned is a kernel bug.
func (p *Physmem_t) Page_free(pa Pa_t) {
	if pa%Pa_t(PGSIZE) != 0 || pa < p.kend || pa >= p.phystop {
		panic("page_free")
	}
	p._scrub(pa, PGSIZE, freescrub)
	p.pgpool.Lock()
	p._push(&p.pgpool, pa)
	p.pgpool.Unlock()
}

// Super_alloc returns a 2MB frame from the superpage pool, scrubbed like
// Page_alloc. It does not fall back to the 4KB pool.
func (p *Physmem_t) Super_alloc() (Pa_t, bool) {
	p.sppool.Lock()
	pa, ok := p._pop(&p.sppool)
	p.sppool.Unlock()
	if !ok {
		return 0, false
	}
	p._scrub(pa, SUPERPGSIZE, allocscrub)
	return pa, true
}

func (p *Physmem_t) Super_free(pa Pa_t) {
	if pa%Pa_t(SUPERPGSIZE) != 0 || pa < p.spstart || pa >= p.spend {
		panic("super_free")
	}
	p._scrub(pa, SUPERPGSIZE, freescrub)
	p.sppool.Lock()
	p._push(&p.sppool, pa)
	p.sppool.Unlock()
}

func (p *Physmem_t) _scrub(pa Pa_t, sz int, b uint8) {
	s := p.slab[pa : int(pa)+sz]
	for i := range s {
		s[i] = b
	}
}

// Dmap is the direct map: the page frame at pa as a byte array.
func (p *Physmem_t) Dmap(pa Pa_t) *Bytepg_t {
	if pa >= p.phystop {
		panic("dmap")
	}
	return (*Bytepg_t)(unsafe.Pointer(&p.slab[pa&^(Pa_t(PGSIZE)-1)]))
}

// Dmaplen is the sz bytes of physical memory starting at pa. Unlike Dmap
// it may span page boundaries.
func (p *Physmem_t) Dmaplen(pa Pa_t, sz int) []uint8 {
	if int(pa)+sz > int(p.phystop) {
		panic("dmaplen")
	}
	return p.slab[pa : int(pa)+sz]
}

// Pgcount returns the free 4KB and 2MB frame counts.
func (p *Physmem_t) Pgcount() (int, int) {
	p.pgpool.Lock()
	np := p.pgpool.freelen
	p.pgpool.Unlock()
	p.sppool.Lock()
	ns := p.sppool.freelen
	p.sppool.Unlock()
	return np, ns
}

// Memtotal returns the size of the slab in bytes.
func (p *Physmem_t) Memtotal() int {
	return int(p.phystop)
}

func (p *Physmem_t) Stats() string {
	np, ns := p.Pgcount()
	return fmt.Sprintf("mem: %v free pages, %v free superpages", np, ns)
}
