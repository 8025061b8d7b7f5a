package proc

import (
	"sync"

	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/fs"
)

type Ftype_t int

const (
	FD_NONE Ftype_t = iota
	FD_PIPE
	FD_INODE
	FD_DEVICE
)

// Devsw_t is a character device's entry points.
type Devsw_t struct {
	Read  func(dst []uint8) int
	Write func(src []uint8) int
}

// Devsw maps major device numbers to drivers. Entries are registered at
// boot, before any file can name them.
var Devsw [defs.NDEV]*Devsw_t

// File_t is an open file: a shared, refcounted view of an inode, pipe or
// device plus an offset. The lock protects ref and Off.
type File_t struct {
	sync.Mutex
	Type     Ftype_t
	ref      int
	Readable bool
	Writable bool
	Pipe     *Pipe_t
	Ip       *fs.Inode_t
	Off      int
	Major    int16
	fs       *fs.Fs_t
}

// MkFile returns an inode- or device-backed file with one reference. The
// caller hands over its inode ref.
func MkFile(f *fs.Fs_t, ip *fs.Inode_t, typ Ftype_t, major int16,
	readable, writable bool) *File_t {
	return &File_t{
		Type:     typ,
		ref:      1,
		Readable: readable,
		Writable: writable,
		Ip:       ip,
		Major:    major,
		fs:       f,
	}
}

func (f *File_t) Dup() *File_t {
	f.Lock()
	if f.ref < 1 {
		panic("filedup")
	}
	f.ref++
	f.Unlock()
	return f
}

// Close drops a reference; the last one releases the underlying object.
func (f *File_t) Close() {
	f.Lock()
	if f.ref < 1 {
		panic("fileclose")
	}
	f.ref--
	if f.ref > 0 {
		f.Unlock()
		return
	}
	f.Unlock()

	switch f.Type {
	case FD_PIPE:
		f.Pipe.close(f.Writable)
	case FD_INODE, FD_DEVICE:
		f.fs.Begin_op()
		f.Ip.Iput()
		f.fs.End_op()
	}
	f.Type = FD_NONE
}

// Read reads up to len(dst) bytes at the file's offset.
func (f *File_t) Read(dst []uint8) int {
	if !f.Readable {
		return -int(defs.EBADF)
	}
	switch f.Type {
	case FD_PIPE:
		return f.Pipe.read(dst)
	case FD_DEVICE:
		dev := devget(f.Major)
		if dev == nil || dev.Read == nil {
			return -int(defs.ENODEV)
		}
		return dev.Read(dst)
	case FD_INODE:
		f.Ip.Ilock()
		f.Lock()
		n := f.Ip.Readi(dst, f.Off)
		if n > 0 {
			f.Off += n
		}
		f.Unlock()
		f.Ip.Iunlock()
		return n
	}
	panic("fileread")
}

// Write writes len(src) bytes at the file's offset. Inode writes are
// split into chunks so each journal op stays within its block budget.
func (f *File_t) Write(src []uint8) int {
	if !f.Writable {
		return -int(defs.EBADF)
	}
	switch f.Type {
	case FD_PIPE:
		return f.Pipe.write(src)
	case FD_DEVICE:
		dev := devget(f.Major)
		if dev == nil || dev.Write == nil {
			return -int(defs.ENODEV)
		}
		return dev.Write(src)
	case FD_INODE:
		max := (fs.MAXOPBLOCKS - 4) / 2 * defs.BSIZE
		tot := 0
		for tot < len(src) {
			m := len(src) - tot
			if m > max {
				m = max
			}
			f.fs.Begin_op()
			f.Ip.Ilock()
			f.Lock()
			n := f.Ip.Writei(src[tot:tot+m], f.Off)
			if n > 0 {
				f.Off += n
			}
			f.Unlock()
			f.Ip.Iunlock()
			f.fs.End_op()
			if n != m {
				return -int(defs.EIO)
			}
			tot += n
		}
		return tot
	}
	panic("filewrite")
}

// Stat reports inode metadata; pipes have none.
func (f *File_t) Stat() (fs.Stat_t, defs.Err_t) {
	if f.Type != FD_INODE && f.Type != FD_DEVICE {
		return fs.Stat_t{}, -defs.EBADF
	}
	f.Ip.Ilock()
	st := f.Ip.Stati()
	f.Ip.Iunlock()
	return st, 0
}

func devget(major int16) *Devsw_t {
	if major < 0 || int(major) >= len(Devsw) {
		return nil
	}
	return Devsw[major]
}

const PIPESIZE = 512

// Pipe_t is a byte ring shared by a read end and a write end.
type Pipe_t struct {
	lk        sync.Mutex
	data      [PIPESIZE]uint8
	nread     uint32
	nwrite    uint32
	readopen  bool
	writeopen bool
}

// MkPipe returns the read and write ends of a fresh pipe.
func MkPipe() (*File_t, *File_t) {
	pi := &Pipe_t{readopen: true, writeopen: true}
	r := &File_t{Type: FD_PIPE, ref: 1, Readable: true, Pipe: pi}
	w := &File_t{Type: FD_PIPE, ref: 1, Writable: true, Pipe: pi}
	return r, w
}

func (pi *Pipe_t) write(src []uint8) int {
	pi.lk.Lock()
	defer pi.lk.Unlock()
	i := 0
	for i < len(src) {
		if !pi.readopen {
			return -int(defs.EPIPE)
		}
		if pi.nwrite == pi.nread+PIPESIZE {
			Wakeup(&pi.nread)
			Sleep(&pi.nwrite, &pi.lk)
			continue
		}
		pi.data[pi.nwrite%PIPESIZE] = src[i]
		pi.nwrite++
		i++
	}
	Wakeup(&pi.nread)
	return i
}

func (pi *Pipe_t) read(dst []uint8) int {
	pi.lk.Lock()
	defer pi.lk.Unlock()
	for pi.nread == pi.nwrite && pi.writeopen {
		Sleep(&pi.nread, &pi.lk)
	}
	i := 0
	for i < len(dst) && pi.nread != pi.nwrite {
		dst[i] = pi.data[pi.nread%PIPESIZE]
		pi.nread++
		i++
	}
	Wakeup(&pi.nwrite)
	return i
}

func (pi *Pipe_t) close(writable bool) {
	pi.lk.Lock()
	if writable {
		pi.writeopen = false
		Wakeup(&pi.nread)
	} else {
		pi.readopen = false
		Wakeup(&pi.nwrite)
	}
	pi.lk.Unlock()
}
