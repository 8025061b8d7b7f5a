package kernel

import (
	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/fs"
	"github.com/kings099/MIT-6.1810-Xv6/proc"
)

func (k *Kernel_t) argfd(p *proc.Proc_t, fd int) (*proc.File_t, defs.Err_t) {
	f := p.Fd_get(fd)
	if f == nil {
		return nil, -defs.EBADF
	}
	return f, 0
}

func (k *Kernel_t) Sys_dup(p *proc.Proc_t, fd int) int {
	f, err := k.argfd(p, fd)
	if err != 0 {
		return int(err)
	}
	nfd, err := p.Fd_insert(f)
	if err != 0 {
		return int(err)
	}
	f.Dup()
	return nfd
}

func (k *Kernel_t) Sys_read(p *proc.Proc_t, fd int, uva uintptr, n int) int {
	f, err := k.argfd(p, fd)
	if err != 0 {
		return int(err)
	}
	if n < 0 {
		return int(-defs.EINVAL)
	}
	buf := make([]uint8, n)
	c := f.Read(buf)
	if c <= 0 {
		return c
	}
	if err := p.Copyout(uva, buf[:c]); err != 0 {
		return int(err)
	}
	return c
}

func (k *Kernel_t) Sys_write(p *proc.Proc_t, fd int, uva uintptr, n int) int {
	f, err := k.argfd(p, fd)
	if err != 0 {
		return int(err)
	}
	if n < 0 {
		return int(-defs.EINVAL)
	}
	buf := make([]uint8, n)
	if err := p.Copyin(buf, uva); err != 0 {
		return int(err)
	}
	return f.Write(buf)
}

func (k *Kernel_t) Sys_close(p *proc.Proc_t, fd int) int {
	f := p.Fd_del(fd)
	if f == nil {
		return int(-defs.EBADF)
	}
	f.Close()
	return 0
}

func (k *Kernel_t) Sys_fstat(p *proc.Proc_t, fd int, uva uintptr) int {
	f, err := k.argfd(p, fd)
	if err != 0 {
		return int(err)
	}
	st, serr := f.Stat()
	if serr != 0 {
		return int(serr)
	}
	var buf [fs.STATSZ]uint8
	st.Marshal(buf[:])
	if err := p.Copyout(uva, buf[:]); err != 0 {
		return int(err)
	}
	return 0
}

// Sys_link gives old a second name; the extra nlink is taken first and
// given back if anything later fails.
func (k *Kernel_t) Sys_link(p *proc.Proc_t, old, new string) int {
	k.Fs.Begin_op()
	defer k.Fs.End_op()

	ip := k.Fs.Namei(p.Cwd, old)
	if ip == nil {
		return int(-defs.ENOENT)
	}
	ip.Ilock()
	if ip.Type == defs.T_DIR {
		ip.Iunlockput()
		return int(-defs.EPERM)
	}
	ip.Nlink++
	ip.Iupdate()
	ip.Iunlock()

	bad := func() int {
		ip.Ilock()
		ip.Nlink--
		ip.Iupdate()
		ip.Iunlockput()
		return int(-defs.ENOENT)
	}
	dp, name := k.Fs.Nameiparent(p.Cwd, new)
	if dp == nil {
		return bad()
	}
	dp.Ilock()
	if dp.Dev != ip.Dev || dp.Dirlink(name, ip.Inum) != 0 {
		dp.Iunlockput()
		return bad()
	}
	dp.Iunlockput()
	ip.Iput()
	return 0
}

func (k *Kernel_t) Sys_unlink(p *proc.Proc_t, path string) int {
	k.Fs.Begin_op()
	defer k.Fs.End_op()

	dp, name := k.Fs.Nameiparent(p.Cwd, path)
	if dp == nil {
		return int(-defs.ENOENT)
	}
	dp.Ilock()
	if name == "." || name == ".." {
		dp.Iunlockput()
		return int(-defs.EINVAL)
	}
	ip, off := dp.Dirlookup(name)
	if ip == nil {
		dp.Iunlockput()
		return int(-defs.ENOENT)
	}
	ip.Ilock()
	if ip.Nlink < 1 {
		panic("unlink: nlink < 1")
	}
	if ip.Type == defs.T_DIR && !ip.Isdirempty() {
		ip.Iunlockput()
		dp.Iunlockput()
		return int(-defs.ENOTEMPTY)
	}

	var zero [fs.DIRSIZ + 2]uint8
	if dp.Writei(zero[:], off) != len(zero) {
		panic("unlink: dirent write")
	}
	if ip.Type == defs.T_DIR {
		dp.Nlink--
		dp.Iupdate()
	}
	dp.Iunlockput()

	ip.Nlink--
	ip.Iupdate()
	ip.Iunlockput()
	return 0
}

// create makes a new inode of the given type linked at path, returning
// it locked. Opening an existing file with O_CREATE lands here and is
// tolerated; an existing name of the wrong type is an error. The parent
// gains its ".." nlink only after everything else has succeeded.
func (k *Kernel_t) create(p *proc.Proc_t, path string, typ int16,
	major, minor int16) (*fs.Inode_t, defs.Err_t) {
	dp, name := k.Fs.Nameiparent(p.Cwd, path)
	if dp == nil {
		return nil, -defs.ENOENT
	}
	dp.Ilock()

	if ip, _ := dp.Dirlookup(name); ip != nil {
		dp.Iunlockput()
		ip.Ilock()
		if typ == defs.T_FILE &&
			(ip.Type == defs.T_FILE || ip.Type == defs.T_DEVICE) {
			return ip, 0
		}
		ip.Iunlockput()
		return nil, -defs.EEXIST
	}

	ip := k.Fs.Ialloc(dp.Dev, typ)
	ip.Ilock()
	ip.Major = major
	ip.Minor = minor
	ip.Nlink = 1
	ip.Iupdate()

	fail := func() (*fs.Inode_t, defs.Err_t) {
		// undo the allocation: drop the link and let Iput reclaim
		ip.Nlink = 0
		ip.Iupdate()
		ip.Iunlockput()
		dp.Iunlockput()
		return nil, -defs.EEXIST
	}
	if typ == defs.T_DIR {
		if ip.Dirlink(".", ip.Inum) != 0 || ip.Dirlink("..", dp.Inum) != 0 {
			return fail()
		}
	}
	if dp.Dirlink(name, ip.Inum) != 0 {
		return fail()
	}
	if typ == defs.T_DIR {
		// ".." in the child; taken last so failure needs no undo
		dp.Nlink++
		dp.Iupdate()
	}
	dp.Iunlockput()
	return ip, 0
}

func (k *Kernel_t) Sys_open(p *proc.Proc_t, path string, omode int) int {
	k.Fs.Begin_op()
	defer k.Fs.End_op()

	var ip *fs.Inode_t
	if omode&defs.O_CREATE != 0 {
		var err defs.Err_t
		ip, err = k.create(p, path, defs.T_FILE, 0, 0)
		if err != 0 {
			return int(err)
		}
	} else {
		ip = k.Fs.Namei(p.Cwd, path)
		if ip == nil {
			return int(-defs.ENOENT)
		}
		ip.Ilock()
		if ip.Type == defs.T_DIR && omode != defs.O_RDONLY {
			ip.Iunlockput()
			return int(-defs.EISDIR)
		}
	}

	if ip.Type == defs.T_DEVICE && (ip.Major < 0 || ip.Major >= defs.NDEV) {
		ip.Iunlockput()
		return int(-defs.ENODEV)
	}

	typ := proc.FD_INODE
	if ip.Type == defs.T_DEVICE {
		typ = proc.FD_DEVICE
	}
	readable := omode&defs.O_WRONLY == 0
	writable := omode&defs.O_WRONLY != 0 || omode&defs.O_RDWR != 0
	f := proc.MkFile(k.Fs, ip, typ, ip.Major, readable, writable)
	fd, err := p.Fd_insert(f)
	if err != 0 {
		ip.Iunlockput()
		return int(err)
	}

	if omode&defs.O_TRUNC != 0 && ip.Type == defs.T_FILE {
		ip.Itrunc()
	}
	ip.Iunlock()
	return fd
}

func (k *Kernel_t) Sys_mkdir(p *proc.Proc_t, path string) int {
	k.Fs.Begin_op()
	defer k.Fs.End_op()
	ip, err := k.create(p, path, defs.T_DIR, 0, 0)
	if err != 0 {
		return int(err)
	}
	ip.Iunlockput()
	return 0
}

func (k *Kernel_t) Sys_mknod(p *proc.Proc_t, path string, major, minor int16) int {
	k.Fs.Begin_op()
	defer k.Fs.End_op()
	ip, err := k.create(p, path, defs.T_DEVICE, major, minor)
	if err != 0 {
		return int(err)
	}
	ip.Iunlockput()
	return 0
}

func (k *Kernel_t) Sys_chdir(p *proc.Proc_t, path string) int {
	k.Fs.Begin_op()
	defer k.Fs.End_op()
	ip := k.Fs.Namei(p.Cwd, path)
	if ip == nil {
		return int(-defs.ENOENT)
	}
	ip.Ilock()
	if ip.Type != defs.T_DIR {
		ip.Iunlockput()
		return int(-defs.ENOTDIR)
	}
	ip.Iunlock()
	p.Cwd.Iput()
	p.Cwd = ip
	return 0
}

func (k *Kernel_t) Sys_pipe(p *proc.Proc_t, uva uintptr) int {
	r, w := proc.MkPipe()
	rfd, err := p.Fd_insert(r)
	if err != 0 {
		r.Close()
		w.Close()
		return int(err)
	}
	wfd, err := p.Fd_insert(w)
	if err != 0 {
		p.Fd_del(rfd)
		r.Close()
		w.Close()
		return int(err)
	}
	var buf [8]uint8
	putint32(buf[0:], int32(rfd))
	putint32(buf[4:], int32(wfd))
	if cerr := p.Copyout(uva, buf[:]); cerr != 0 {
		p.Fd_del(rfd)
		p.Fd_del(wfd)
		r.Close()
		w.Close()
		return int(cerr)
	}
	return 0
}

func putint32(d []uint8, v int32) {
	d[0] = uint8(v)
	d[1] = uint8(v >> 8)
	d[2] = uint8(v >> 16)
	d[3] = uint8(v >> 24)
}
