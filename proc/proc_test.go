package proc

import (
	"sync"
	"testing"

	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/mem"
)

func mkproc(t *testing.T) *Proc_t {
	t.Helper()
	phys := mem.Phys_new(8<<20, 0)
	return MkProc(phys, 1)
}

func TestCopyAcrossPages(t *testing.T) {
	p := mkproc(t)
	va := uintptr(0x40000)
	if err := p.Uvmalloc(va, 2*defs.PGSIZE, PTE_R|PTE_W); err != 0 {
		t.Fatalf("uvmalloc: %v", err)
	}
	msg := make([]uint8, 100)
	for i := range msg {
		msg[i] = uint8(i)
	}
	// straddle the page boundary
	at := va + uintptr(defs.PGSIZE) - 50
	if err := p.Copyout(at, msg); err != 0 {
		t.Fatalf("copyout: %v", err)
	}
	got := make([]uint8, 100)
	if err := p.Copyin(got, at); err != 0 {
		t.Fatalf("copyin: %v", err)
	}
	for i := range got {
		if got[i] != msg[i] {
			t.Fatalf("byte %v: %v", i, got[i])
		}
	}
}

func TestCopyUnmappedFaults(t *testing.T) {
	p := mkproc(t)
	if err := p.Copyout(0x1000, []uint8{1}); err != -defs.EFAULT {
		t.Fatalf("copyout to nowhere: %v", err)
	}
	var b [1]uint8
	if err := p.Copyin(b[:], 0x1000); err != -defs.EFAULT {
		t.Fatalf("copyin from nowhere: %v", err)
	}
}

func TestCopyRespectsPerms(t *testing.T) {
	p := mkproc(t)
	va := uintptr(0x40000)
	if err := p.Uvmalloc(va, defs.PGSIZE, PTE_R); err != 0 {
		t.Fatalf("uvmalloc: %v", err)
	}
	if err := p.Copyout(va, []uint8{1}); err != -defs.EFAULT {
		t.Fatalf("copyout to read-only page: %v", err)
	}
	var b [1]uint8
	if err := p.Copyin(b[:], va); err != 0 {
		t.Fatalf("copyin from read-only page: %v", err)
	}
}

func TestCopyinstr(t *testing.T) {
	p := mkproc(t)
	va := uintptr(0x40000)
	p.Uvmalloc(va, defs.PGSIZE, PTE_R|PTE_W)
	p.Copyout(va, []uint8("a string\x00junk"))
	s, err := p.Copyinstr(va, 64)
	if err != 0 || s != "a string" {
		t.Fatalf("copyinstr: %q %v", s, err)
	}
	// no terminator within max
	p.Copyout(va, []uint8{'x', 'x', 'x', 'x'})
	if _, err := p.Copyinstr(va, 3); err != -defs.ENAMETOOLONG {
		t.Fatalf("unterminated string: %v", err)
	}
}

func TestDemandFaultHandler(t *testing.T) {
	p := mkproc(t)
	faults := 0
	p.Pgfault = func(pp *Proc_t, va uintptr, write bool) defs.Err_t {
		faults++
		pa, ok := pp.phys.Page_zalloc()
		if !ok {
			return -defs.ENOMEM
		}
		pp.Mappages(defs.Pgrounddown(va), pa, defs.PGSIZE, PTE_U|PTE_R|PTE_W)
		return 0
	}
	va := uintptr(0x50000)
	if err := p.Copyout(va, []uint8("lazy")); err != 0 {
		t.Fatalf("copyout: %v", err)
	}
	var b [4]uint8
	if err := p.Copyin(b[:], va); err != 0 {
		t.Fatalf("copyin: %v", err)
	}
	if string(b[:]) != "lazy" {
		t.Fatalf("got %q", b)
	}
	if faults != 1 {
		t.Fatalf("%v faults", faults)
	}
}

func TestUvmunmapFrees(t *testing.T) {
	p := mkproc(t)
	free0, _ := p.phys.Pgcount()
	va := uintptr(0x40000)
	p.Uvmalloc(va, 4*defs.PGSIZE, PTE_R|PTE_W)
	if f, _ := p.phys.Pgcount(); free0-f != 4 {
		t.Fatalf("allocated %v pages", free0-f)
	}
	p.Uvmunmap(va, 4, true)
	if f, _ := p.phys.Pgcount(); f != free0 {
		t.Fatalf("unmap did not free")
	}
	if _, ok := p.Walk(va); ok {
		t.Fatalf("mapping survived unmap")
	}
}

func TestPipeBlocksAndFlows(t *testing.T) {
	r, w := MkPipe()
	big := make([]uint8, 3*PIPESIZE)
	for i := range big {
		big[i] = uint8(i)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// forces the writer to block on the full ring until the reader
		// drains
		if n := w.Write(big); n != len(big) {
			panic("pipe write short")
		}
		w.Close()
	}()

	var got []uint8
	buf := make([]uint8, 100)
	for {
		n := r.Read(buf)
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	wg.Wait()
	r.Close()

	if len(got) != len(big) {
		t.Fatalf("read %v of %v bytes", len(got), len(big))
	}
	for i := range got {
		if got[i] != big[i] {
			t.Fatalf("byte %v: %v", i, got[i])
		}
	}
}

func TestPipeEpipe(t *testing.T) {
	r, w := MkPipe()
	r.Close()
	if n := w.Write([]uint8{1}); n != -int(defs.EPIPE) {
		t.Fatalf("write to closed pipe: %v", n)
	}
	w.Close()
}

func TestSleepWakeup(t *testing.T) {
	var lk sync.Mutex
	var key int
	ready := false
	done := make(chan bool)
	go func() {
		lk.Lock()
		for !ready {
			Sleep(&key, &lk)
		}
		lk.Unlock()
		done <- true
	}()
	lk.Lock()
	ready = true
	Wakeup(&key)
	lk.Unlock()
	<-done
}
