// Package proc holds the process abstraction: a software page table over
// the physical slab, the per-process file descriptor table, mapped file
// regions, and the sleep/wakeup primitives the rest of the kernel blocks
// on.
package proc

import (
	"sync"

	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/fs"
	"github.com/kings099/MIT-6.1810-Xv6/mem"
)

// page table entry: page-aligned Pa or'd with the low flag bits
type Pte_t uintptr

const (
	PTE_V Pte_t = 1 << 0
	PTE_R Pte_t = 1 << 1
	PTE_W Pte_t = 1 << 2
	PTE_X Pte_t = 1 << 3
	PTE_U Pte_t = 1 << 4

	pte_flags Pte_t = Pte_t(defs.PGSIZE) - 1
)

func (p Pte_t) Pa() mem.Pa_t {
	return mem.Pa_t(p &^ pte_flags)
}

// Vma_t describes one mapped file region.
type Vma_t struct {
	Used  bool
	Addr  uintptr
	Len   int
	Prot  int
	Flags int
	F     *File_t
	Off   int
}

// Proc_t is one process. The lock protects the page table and the VMA
// array; the fd table is only touched by the process's own threads, as
// in any kernel without shared descriptor tables.
type Proc_t struct {
	sync.Mutex
	Pid  int
	phys *mem.Physmem_t
	pmap map[uintptr]Pte_t
	Fds  [defs.NOFILE]*File_t
	Cwd  *fs.Inode_t
	Vmas [defs.NVMA]Vma_t
	Sz   uintptr

	// Pgfault services an access to an unmapped page, demand paging
	// mmap regions. Set by the kernel at process creation.
	Pgfault func(p *Proc_t, va uintptr, write bool) defs.Err_t
}

func MkProc(phys *mem.Physmem_t, pid int) *Proc_t {
	return &Proc_t{
		Pid:  pid,
		phys: phys,
		pmap: make(map[uintptr]Pte_t),
	}
}

func (p *Proc_t) Phys() *mem.Physmem_t {
	return p.phys
}

// Walk returns the PTE for va, if present.
func (p *Proc_t) Walk(va uintptr) (Pte_t, bool) {
	p.Lock()
	pte, ok := p.pmap[defs.Pgrounddown(va)]
	p.Unlock()
	return pte, ok
}

// Mappages maps [va, va+sz) to the physical range at pa. Remapping a
// present page is a kernel bug.
func (p *Proc_t) Mappages(va uintptr, pa mem.Pa_t, sz int, perms Pte_t) {
	if va%uintptr(defs.PGSIZE) != 0 || pa%mem.Pa_t(defs.PGSIZE) != 0 {
		panic("mappages: misaligned")
	}
	p.Lock()
	defer p.Unlock()
	for off := 0; off < sz; off += defs.PGSIZE {
		v := va + uintptr(off)
		if _, ok := p.pmap[v]; ok {
			panic("mappages: remap")
		}
		p.pmap[v] = Pte_t(pa+mem.Pa_t(off)) | perms | PTE_V
	}
}

// Uvmunmap removes npages mappings starting at va, optionally freeing
// the frames. Missing pages are skipped (they may never have faulted in).
func (p *Proc_t) Uvmunmap(va uintptr, npages int, free bool) {
	if va%uintptr(defs.PGSIZE) != 0 {
		panic("uvmunmap: misaligned")
	}
	p.Lock()
	defer p.Unlock()
	for i := 0; i < npages; i++ {
		v := va + uintptr(i*defs.PGSIZE)
		pte, ok := p.pmap[v]
		if !ok {
			continue
		}
		delete(p.pmap, v)
		if free {
			p.phys.Page_free(pte.Pa())
		}
	}
}

// Uvmfree tears down the whole page table, freeing every frame.
func (p *Proc_t) Uvmfree() {
	p.Lock()
	for va, pte := range p.pmap {
		delete(p.pmap, va)
		p.phys.Page_free(pte.Pa())
	}
	p.Unlock()
}

// Uvmalloc maps fresh zeroed user pages at [va, va+sz); for building
// program segments.
func (p *Proc_t) Uvmalloc(va uintptr, sz int, perms Pte_t) defs.Err_t {
	va = defs.Pgrounddown(va)
	for off := 0; off < sz; off += defs.PGSIZE {
		pa, ok := p.phys.Page_zalloc()
		if !ok {
			return -defs.ENOMEM
		}
		p.Mappages(va+uintptr(off), pa, defs.PGSIZE, perms|PTE_U)
	}
	return 0
}

// lookup va for an access, faulting the page in if a handler is set
func (p *Proc_t) _access(va uintptr, write bool) (Pte_t, defs.Err_t) {
	pte, ok := p.Walk(va)
	if !ok && p.Pgfault != nil {
		if err := p.Pgfault(p, va, write); err != 0 {
			return 0, err
		}
		pte, ok = p.Walk(va)
	}
	if !ok {
		return 0, -defs.EFAULT
	}
	if pte&PTE_U == 0 {
		return 0, -defs.EFAULT
	}
	if write && pte&PTE_W == 0 {
		return 0, -defs.EFAULT
	}
	if !write && pte&PTE_R == 0 {
		return 0, -defs.EFAULT
	}
	return pte, 0
}

// Copyout copies src to the user address va, demand paging as needed.
func (p *Proc_t) Copyout(va uintptr, src []uint8) defs.Err_t {
	for len(src) > 0 {
		pgva := defs.Pgrounddown(va)
		pte, err := p._access(va, true)
		if err != 0 {
			return err
		}
		off := int(va - pgva)
		m := defs.PGSIZE - off
		if m > len(src) {
			m = len(src)
		}
		pg := p.phys.Dmap(pte.Pa())
		copy(pg[off:off+m], src[:m])
		src = src[m:]
		va += uintptr(m)
	}
	return 0
}

// Copyin copies len(dst) bytes from the user address va.
func (p *Proc_t) Copyin(dst []uint8, va uintptr) defs.Err_t {
	for len(dst) > 0 {
		pgva := defs.Pgrounddown(va)
		pte, err := p._access(va, false)
		if err != 0 {
			return err
		}
		off := int(va - pgva)
		m := defs.PGSIZE - off
		if m > len(dst) {
			m = len(dst)
		}
		pg := p.phys.Dmap(pte.Pa())
		copy(dst[:m], pg[off:off+m])
		dst = dst[m:]
		va += uintptr(m)
	}
	return 0
}

// Copyinstr copies a NUL-terminated string of at most max bytes from va.
func (p *Proc_t) Copyinstr(va uintptr, max int) (string, defs.Err_t) {
	ret := make([]uint8, 0, 16)
	for len(ret) < max {
		pgva := defs.Pgrounddown(va)
		pte, err := p._access(va, false)
		if err != 0 {
			return "", err
		}
		off := int(va - pgva)
		pg := p.phys.Dmap(pte.Pa())
		for off < defs.PGSIZE && len(ret) < max {
			b := pg[off]
			if b == 0 {
				return string(ret), 0
			}
			ret = append(ret, b)
			off++
			va++
		}
	}
	return "", -defs.ENAMETOOLONG
}

// Fd_insert places f in the lowest free slot, or fails with -EMFILE.
func (p *Proc_t) Fd_insert(f *File_t) (int, defs.Err_t) {
	for i := range p.Fds {
		if p.Fds[i] == nil {
			p.Fds[i] = f
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

func (p *Proc_t) Fd_get(fd int) *File_t {
	if fd < 0 || fd >= defs.NOFILE {
		return nil
	}
	return p.Fds[fd]
}

func (p *Proc_t) Fd_del(fd int) *File_t {
	f := p.Fd_get(fd)
	if f != nil {
		p.Fds[fd] = nil
	}
	return f
}
