// Package kernel wires the subsystems together and exposes the syscall
// surface as methods on Kernel_t. Each Kernel_t is a complete, isolated
// machine: its own memory, disk, file system and network stack.
package kernel

import (
	"sync"

	"github.com/kings099/MIT-6.1810-Xv6/bnet"
	"github.com/kings099/MIT-6.1810-Xv6/e1000"
	"github.com/kings099/MIT-6.1810-Xv6/fs"
	"github.com/kings099/MIT-6.1810-Xv6/mem"
	"github.com/kings099/MIT-6.1810-Xv6/proc"
)

// the addresses qemu's user-mode network gives a guest
var (
	Qemumac   = e1000.Mac_t{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	Qemuip    = bnet.Ip4(10, 0, 2, 15)
	Qemugwmac = e1000.Mac_t{0x52, 0x55, 0x0a, 0x00, 0x02, 0x02}
)

// Loader_i loads a program image into a process. Load returns the
// syscall result: 0 on success, negative errno otherwise.
type Loader_i interface {
	Load(p *proc.Proc_t, path string, argv []string) int
}

type Kernel_t struct {
	Phys *mem.Physmem_t
	Fs   *fs.Fs_t
	Nic  *e1000.Nic_t
	Net  *bnet.Net_t

	Loader Loader_i

	pidlk   sync.Mutex
	nextpid int
}

// Mkkernel boots the file system on disk (replaying the journal) without
// a network.
func Mkkernel(phys *mem.Physmem_t, disk fs.Disk_i) *Kernel_t {
	k := &Kernel_t{Phys: phys}
	k.Fs = fs.MkFs(phys, disk, 0)
	return k
}

// Attach_net brings up the NIC and the network stack with the given
// addresses.
func (k *Kernel_t) Attach_net(mac e1000.Mac_t, ip bnet.Ip4_t, gwmac e1000.Mac_t) {
	k.Nic = e1000.Mknic(k.Phys, mac)
	k.Net = bnet.Mknet(k.Phys, k.Nic, mac, ip, gwmac)
	k.Nic.Set_rx(k.Net.Net_rx)
}

// Proc_new creates a process rooted at /, with demand paging wired up.
func (k *Kernel_t) Proc_new() *proc.Proc_t {
	k.pidlk.Lock()
	k.nextpid++
	pid := k.nextpid
	k.pidlk.Unlock()

	p := proc.MkProc(k.Phys, pid)
	p.Cwd = k.Fs.Iget(0, fs.ROOTINO)
	p.Pgfault = k.Pagefault
	return p
}

// Proc_free releases everything the process holds: open files, mapped
// regions (with write-back) and the cwd.
func (k *Kernel_t) Proc_free(p *proc.Proc_t) {
	for fd := range p.Fds {
		if p.Fds[fd] != nil {
			k.Sys_close(p, fd)
		}
	}
	for i := range p.Vmas {
		v := &p.Vmas[i]
		if v.Used {
			k.Sys_munmap(p, v.Addr, v.Len)
		}
	}
	p.Uvmfree()
	k.Fs.Begin_op()
	p.Cwd.Iput()
	k.Fs.End_op()
	p.Cwd = nil
}
