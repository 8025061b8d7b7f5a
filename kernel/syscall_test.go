package kernel

import (
	"testing"

	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/fs"
	"github.com/kings099/MIT-6.1810-Xv6/mem"
	"github.com/kings099/MIT-6.1810-Xv6/proc"
)

const (
	ubuf  = uintptr(0x10000)
	ubuf2 = uintptr(0x20000)
)

func mkkern(t *testing.T) (*Kernel_t, *proc.Proc_t) {
	t.Helper()
	phys := mem.Phys_new(32<<20, 0)
	d := fs.MkMemdisk(2000)
	fs.Mkfs(d, 2000, 200)
	k := Mkkernel(phys, d)
	p := k.Proc_new()
	for _, va := range []uintptr{ubuf, ubuf2} {
		if err := p.Uvmalloc(va, defs.PGSIZE, proc.PTE_R|proc.PTE_W); err != 0 {
			t.Fatalf("uvmalloc: %v", err)
		}
	}
	return k, p
}

// place data in user memory and return its address
func user(t *testing.T, p *proc.Proc_t, va uintptr, data []uint8) uintptr {
	t.Helper()
	if err := p.Copyout(va, data); err != 0 {
		t.Fatalf("copyout: %v", err)
	}
	return va
}

func ucheck(t *testing.T, p *proc.Proc_t, va uintptr, want string) {
	t.Helper()
	buf := make([]uint8, len(want))
	if err := p.Copyin(buf, va); err != 0 {
		t.Fatalf("copyin: %v", err)
	}
	if string(buf) != want {
		t.Fatalf("user memory holds %q, want %q", buf, want)
	}
}

func TestOpenWriteRead(t *testing.T) {
	k, p := mkkern(t)
	fd := k.Sys_open(p, "/hello", defs.O_CREATE|defs.O_RDWR)
	if fd < 0 {
		t.Fatalf("open: %v", fd)
	}
	user(t, p, ubuf, []uint8("file systems are fun"))
	if r := k.Sys_write(p, fd, ubuf, 20); r != 20 {
		t.Fatalf("write: %v", r)
	}
	if r := k.Sys_close(p, fd); r != 0 {
		t.Fatalf("close: %v", r)
	}

	fd = k.Sys_open(p, "/hello", defs.O_RDONLY)
	if fd < 0 {
		t.Fatalf("reopen: %v", fd)
	}
	if r := k.Sys_read(p, fd, ubuf2, 64); r != 20 {
		t.Fatalf("read: %v", r)
	}
	ucheck(t, p, ubuf2, "file systems are fun")
	// offset advanced to EOF
	if r := k.Sys_read(p, fd, ubuf2, 64); r != 0 {
		t.Fatalf("read at eof: %v", r)
	}
	k.Sys_close(p, fd)
	k.Proc_free(p)
}

func TestOpenMissing(t *testing.T) {
	k, p := mkkern(t)
	if r := k.Sys_open(p, "/ghost", defs.O_RDONLY); r != int(-defs.ENOENT) {
		t.Fatalf("open missing: %v", r)
	}
}

func TestDupSharesOffset(t *testing.T) {
	k, p := mkkern(t)
	fd := k.Sys_open(p, "/f", defs.O_CREATE|defs.O_RDWR)
	fd2 := k.Sys_dup(p, fd)
	if fd2 < 0 || fd2 == fd {
		t.Fatalf("dup: %v", fd2)
	}
	user(t, p, ubuf, []uint8("ab"))
	k.Sys_write(p, fd, ubuf, 2)
	k.Sys_write(p, fd2, ubuf, 2)
	var st fs.Stat_t
	stbuf := make([]uint8, fs.STATSZ)
	if r := k.Sys_fstat(p, fd, ubuf2); r != 0 {
		t.Fatalf("fstat: %v", r)
	}
	p.Copyin(stbuf, ubuf2)
	st.Unmarshal(stbuf)
	if st.Size != 4 {
		t.Fatalf("dup'd writes did not share the offset: size %v", st.Size)
	}
	if st.Type != defs.T_FILE || st.Nlink != 1 {
		t.Fatalf("fstat: %+v", st)
	}
}

func TestLinkUnlink(t *testing.T) {
	k, p := mkkern(t)
	fd := k.Sys_open(p, "/old", defs.O_CREATE|defs.O_RDWR)
	user(t, p, ubuf, []uint8("shared bytes"))
	k.Sys_write(p, fd, ubuf, 12)
	k.Sys_close(p, fd)

	if r := k.Sys_link(p, "/old", "/new"); r != 0 {
		t.Fatalf("link: %v", r)
	}
	if r := k.Sys_unlink(p, "/old"); r != 0 {
		t.Fatalf("unlink old: %v", r)
	}
	// content lives on under the other name
	fd = k.Sys_open(p, "/new", defs.O_RDONLY)
	if fd < 0 {
		t.Fatalf("open new: %v", fd)
	}
	if r := k.Sys_read(p, fd, ubuf2, 32); r != 12 {
		t.Fatalf("read new: %v", r)
	}
	ucheck(t, p, ubuf2, "shared bytes")
	k.Sys_close(p, fd)

	if r := k.Sys_unlink(p, "/new"); r != 0 {
		t.Fatalf("unlink new: %v", r)
	}
	if r := k.Sys_open(p, "/new", defs.O_RDONLY); r != int(-defs.ENOENT) {
		t.Fatalf("open after last unlink: %v", r)
	}
	if r := k.Sys_link(p, "/new", "/x"); r != int(-defs.ENOENT) {
		t.Fatalf("link of missing file: %v", r)
	}
}

func TestUnlinkRefusals(t *testing.T) {
	k, p := mkkern(t)
	if r := k.Sys_unlink(p, "/."); r != int(-defs.EINVAL) {
		t.Fatalf("unlink .: %v", r)
	}
	k.Sys_mkdir(p, "/d")
	fd := k.Sys_open(p, "/d/f", defs.O_CREATE|defs.O_RDWR)
	k.Sys_close(p, fd)
	if r := k.Sys_unlink(p, "/d"); r != int(-defs.ENOTEMPTY) {
		t.Fatalf("unlink non-empty dir: %v", r)
	}
	k.Sys_unlink(p, "/d/f")
	if r := k.Sys_unlink(p, "/d"); r != 0 {
		t.Fatalf("unlink empty dir: %v", r)
	}
}

func TestMkdirChdir(t *testing.T) {
	k, p := mkkern(t)
	if r := k.Sys_mkdir(p, "/dir"); r != 0 {
		t.Fatalf("mkdir: %v", r)
	}
	if r := k.Sys_mkdir(p, "/dir"); r != int(-defs.EEXIST) {
		t.Fatalf("mkdir twice: %v", r)
	}
	if r := k.Sys_chdir(p, "/dir"); r != 0 {
		t.Fatalf("chdir: %v", r)
	}
	fd := k.Sys_open(p, "rel", defs.O_CREATE|defs.O_RDWR)
	if fd < 0 {
		t.Fatalf("create relative: %v", fd)
	}
	k.Sys_close(p, fd)
	if fd = k.Sys_open(p, "/dir/rel", defs.O_RDONLY); fd < 0 {
		t.Fatalf("absolute lookup of relative create: %v", fd)
	}
	k.Sys_close(p, fd)
	if r := k.Sys_chdir(p, "/dir/rel"); r != int(-defs.ENOTDIR) {
		t.Fatalf("chdir to file: %v", r)
	}
	if r := k.Sys_chdir(p, ".."); r != 0 {
		t.Fatalf("chdir ..: %v", r)
	}
}

func TestMknodDevice(t *testing.T) {
	k, p := mkkern(t)
	var out []uint8
	proc.Devsw[3] = &proc.Devsw_t{
		Read: func(dst []uint8) int {
			for i := range dst {
				dst[i] = 'z'
			}
			return len(dst)
		},
		Write: func(src []uint8) int {
			out = append(out, src...)
			return len(src)
		},
	}
	defer func() { proc.Devsw[3] = nil }()

	if r := k.Sys_mknod(p, "/dev0", 3, 0); r != 0 {
		t.Fatalf("mknod: %v", r)
	}
	fd := k.Sys_open(p, "/dev0", defs.O_RDWR)
	if fd < 0 {
		t.Fatalf("open device: %v", fd)
	}
	user(t, p, ubuf, []uint8("to-dev"))
	if r := k.Sys_write(p, fd, ubuf, 6); r != 6 {
		t.Fatalf("device write: %v", r)
	}
	if string(out) != "to-dev" {
		t.Fatalf("device got %q", out)
	}
	if r := k.Sys_read(p, fd, ubuf2, 3); r != 3 {
		t.Fatalf("device read: %v", r)
	}
	ucheck(t, p, ubuf2, "zzz")
}

func TestPipeSyscall(t *testing.T) {
	k, p := mkkern(t)
	if r := k.Sys_pipe(p, ubuf); r != 0 {
		t.Fatalf("pipe: %v", r)
	}
	var fdbuf [8]uint8
	p.Copyin(fdbuf[:], ubuf)
	rfd := int(int32(fdbuf[0]) | int32(fdbuf[1])<<8 | int32(fdbuf[2])<<16 | int32(fdbuf[3])<<24)
	wfd := int(int32(fdbuf[4]) | int32(fdbuf[5])<<8 | int32(fdbuf[6])<<16 | int32(fdbuf[7])<<24)

	user(t, p, ubuf2, []uint8("through"))
	if r := k.Sys_write(p, wfd, ubuf2, 7); r != 7 {
		t.Fatalf("pipe write: %v", r)
	}
	if r := k.Sys_read(p, rfd, ubuf2+64, 7); r != 7 {
		t.Fatalf("pipe read: %v", r)
	}
	ucheck(t, p, ubuf2+64, "through")

	// EOF after the write end closes
	k.Sys_close(p, wfd)
	if r := k.Sys_read(p, rfd, ubuf2, 8); r != 0 {
		t.Fatalf("pipe read after close: %v", r)
	}
	k.Sys_close(p, rfd)
}

func TestExec(t *testing.T) {
	k, p := mkkern(t)
	pt := MkProgtab()
	var gotpath string
	var gotargv []string
	pt.Register("/prog", func(pp *proc.Proc_t, argv []string) int {
		gotpath = "/prog"
		gotargv = argv
		return 0
	})
	k.Loader = pt

	fd := k.Sys_open(p, "/prog", defs.O_CREATE|defs.O_RDWR)
	k.Sys_close(p, fd)

	// argv strings and the pointer array, in user memory
	a0 := user(t, p, ubuf, []uint8("prog\x00"))
	a1 := user(t, p, ubuf+16, []uint8("-v\x00"))
	ptrs := make([]uint8, 24)
	for i, va := range []uintptr{a0, a1, 0} {
		for j := 0; j < 8; j++ {
			ptrs[8*i+j] = uint8(va >> (8 * j))
		}
	}
	uargv := user(t, p, ubuf+128, ptrs)

	if r := k.Sys_exec(p, "/prog", uargv); r != 0 {
		t.Fatalf("exec: %v", r)
	}
	if gotpath != "/prog" || len(gotargv) != 2 ||
		gotargv[0] != "prog" || gotargv[1] != "-v" {
		t.Fatalf("loader saw %q %q", gotpath, gotargv)
	}

	if r := k.Sys_exec(p, "/missing", uargv); r != int(-defs.ENOENT) {
		t.Fatalf("exec of missing program: %v", r)
	}
}

func TestExecTooManyArgs(t *testing.T) {
	k, p := mkkern(t)
	a := user(t, p, ubuf, []uint8("x\x00"))
	ptrs := make([]uint8, 8*(defs.MAXARG+1))
	for i := 0; i <= defs.MAXARG; i++ {
		for j := 0; j < 8; j++ {
			ptrs[8*i+j] = uint8(a >> (8 * j))
		}
	}
	uargv := user(t, p, ubuf2, ptrs)
	free0, _ := k.Phys.Pgcount()
	if r := k.Sys_exec(p, "/prog", uargv); r != int(-defs.E2BIG) {
		t.Fatalf("exec with %v args: %v", defs.MAXARG+1, r)
	}
	// every argv page went back
	if f, _ := k.Phys.Pgcount(); f != free0 {
		t.Fatalf("exec leaked %v pages", free0-f)
	}
}

func TestBadFd(t *testing.T) {
	k, p := mkkern(t)
	for _, r := range []int{
		k.Sys_read(p, 12, ubuf, 1),
		k.Sys_write(p, -1, ubuf, 1),
		k.Sys_close(p, 5),
		k.Sys_dup(p, defs.NOFILE),
		k.Sys_fstat(p, 9, ubuf),
	} {
		if r != int(-defs.EBADF) {
			t.Fatalf("bad fd accepted: %v", r)
		}
	}
}

func TestFdTableFull(t *testing.T) {
	k, p := mkkern(t)
	fd := k.Sys_open(p, "/f", defs.O_CREATE|defs.O_RDWR)
	n := 1
	for {
		r := k.Sys_dup(p, fd)
		if r < 0 {
			if r != int(-defs.EMFILE) {
				t.Fatalf("dup failed with %v", r)
			}
			break
		}
		n++
	}
	if n != defs.NOFILE {
		t.Fatalf("table held %v fds", n)
	}
}
