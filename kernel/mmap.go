package kernel

import (
	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/fs"
	"github.com/kings099/MIT-6.1810-Xv6/proc"
)

// Mmapfailed is what Sys_mmap returns on error; callers compare against
// it since any address would be "negative" as a pointer.
const Mmapfailed = ^uintptr(0)

// Sys_mmap maps length bytes of fd at offset off into the process,
// lazily: no frame is allocated until the region is touched. The kernel
// picks the address, growing the mapped area down from just under the
// trapframe page.
func (k *Kernel_t) Sys_mmap(p *proc.Proc_t, addr uintptr, length int,
	prot, flags, fd int, off int) uintptr {
	if addr != 0 || length <= 0 || off < 0 || off%defs.PGSIZE != 0 {
		return Mmapfailed
	}
	if flags != defs.MAP_SHARED && flags != defs.MAP_PRIVATE {
		return Mmapfailed
	}
	f := p.Fd_get(fd)
	if f == nil || f.Type != proc.FD_INODE {
		return Mmapfailed
	}
	// a shared writable mapping writes back; the fd must allow it
	if prot&defs.PROT_WRITE != 0 && flags == defs.MAP_SHARED && !f.Writable {
		return Mmapfailed
	}
	if prot&defs.PROT_READ != 0 && !f.Readable {
		return Mmapfailed
	}

	var v *proc.Vma_t
	for i := range p.Vmas {
		if !p.Vmas[i].Used {
			v = &p.Vmas[i]
			break
		}
	}
	if v == nil {
		return Mmapfailed
	}

	sz := int(defs.Pgroundup(uintptr(length)))
	if uintptr(sz) > defs.TRAPFRAME-p.Sz {
		return Mmapfailed
	}
	va := defs.TRAPFRAME - uintptr(sz)
	for k.vmaoverlap(p, va, sz) {
		va -= uintptr(defs.PGSIZE)
		if va < p.Sz {
			return Mmapfailed
		}
	}
	if va < p.Sz {
		return Mmapfailed
	}

	v.Used = true
	v.Addr = va
	v.Len = sz
	v.Prot = prot
	v.Flags = flags
	v.F = f.Dup()
	v.Off = off
	return va
}

func (k *Kernel_t) vmaoverlap(p *proc.Proc_t, va uintptr, sz int) bool {
	for i := range p.Vmas {
		v := &p.Vmas[i]
		if !v.Used {
			continue
		}
		if va < v.Addr+uintptr(v.Len) && v.Addr < va+uintptr(sz) {
			return true
		}
	}
	return false
}

// Pagefault services a fault at va: if a VMA covers it and permits the
// access, fault in one page of the file. Faults outside any VMA, and
// permission violations, are errors for the trap path to kill on.
func (k *Kernel_t) Pagefault(p *proc.Proc_t, va uintptr, write bool) defs.Err_t {
	if va >= defs.TRAPFRAME {
		return -defs.EFAULT
	}
	var v *proc.Vma_t
	for i := range p.Vmas {
		c := &p.Vmas[i]
		if c.Used && va >= c.Addr && va < c.Addr+uintptr(c.Len) {
			v = c
			break
		}
	}
	if v == nil {
		return -defs.EFAULT
	}
	if write && v.Prot&defs.PROT_WRITE == 0 {
		return -defs.EFAULT
	}
	if !write && v.Prot&defs.PROT_READ == 0 {
		return -defs.EFAULT
	}

	pgva := defs.Pgrounddown(va)
	if _, mapped := p.Walk(pgva); mapped {
		// a fault on a present page is a real permission violation,
		// never something to page over
		return -defs.EFAULT
	}

	pa, ok := k.Phys.Page_zalloc()
	if !ok {
		return -defs.ENOMEM
	}
	foff := v.Off + int(pgva-v.Addr)
	ip := v.F.Ip
	ip.Ilock()
	ip.Readi(k.Phys.Dmap(pa)[:], foff) // short read leaves zeros
	ip.Iunlock()

	perms := proc.PTE_U
	if v.Prot&defs.PROT_READ != 0 {
		perms |= proc.PTE_R
	}
	if v.Prot&defs.PROT_WRITE != 0 {
		perms |= proc.PTE_W
	}
	if v.Prot&defs.PROT_EXEC != 0 {
		perms |= proc.PTE_X
	}
	p.Mappages(pgva, pa, defs.PGSIZE, perms)
	return 0
}

// Sys_munmap unmaps [addr, addr+length) from a single VMA. Only trims
// at the start, at the end, or the whole region are allowed; punching a
// hole would need a second VMA. Dirty pages of MAP_SHARED mappings are
// written back, clipped to the file's current size, a few pages per
// journal op.
func (k *Kernel_t) Sys_munmap(p *proc.Proc_t, addr uintptr, length int) int {
	if addr%uintptr(defs.PGSIZE) != 0 || length <= 0 {
		return int(-defs.EINVAL)
	}
	sz := int(defs.Pgroundup(uintptr(length)))

	var v *proc.Vma_t
	for i := range p.Vmas {
		c := &p.Vmas[i]
		if c.Used && addr >= c.Addr && addr+uintptr(sz) <= c.Addr+uintptr(c.Len) {
			v = c
			break
		}
	}
	if v == nil {
		return int(-defs.EINVAL)
	}
	if addr != v.Addr && addr+uintptr(sz) != v.Addr+uintptr(v.Len) {
		return int(-defs.EINVAL)
	}

	if v.Flags == defs.MAP_SHARED {
		k.writeback(p, v, addr, sz)
	}
	p.Uvmunmap(addr, sz/defs.PGSIZE, true)

	if addr == v.Addr && sz == v.Len {
		v.F.Close()
		*v = proc.Vma_t{}
	} else if addr == v.Addr {
		v.Addr += uintptr(sz)
		v.Off += sz
		v.Len -= sz
	} else {
		v.Len -= sz
	}
	return 0
}

func (k *Kernel_t) writeback(p *proc.Proc_t, v *proc.Vma_t, addr uintptr, sz int) {
	// a few pages per op, like file writes, so a large mapping cannot
	// outgrow the log
	const maxpgs = (fs.MAXOPBLOCKS - 4) / 2
	ip := v.F.Ip
	for o := 0; o < sz; {
		k.Fs.Begin_op()
		ip.Ilock()
		for done := 0; o < sz && done < maxpgs; o += defs.PGSIZE {
			pgva := addr + uintptr(o)
			pte, ok := p.Walk(pgva)
			if !ok {
				continue // never faulted in, nothing to flush
			}
			foff := v.Off + int(pgva-v.Addr)
			if foff >= int(ip.Size) {
				continue
			}
			n := defs.PGSIZE
			if foff+n > int(ip.Size) {
				// never grow the file from a write-back
				n = int(ip.Size) - foff
			}
			pg := k.Phys.Dmap(pte.Pa())
			if ip.Writei(pg[:n], foff) != n {
				panic("munmap: writeback")
			}
			done++
		}
		ip.Iunlock()
		k.Fs.End_op()
	}
}
