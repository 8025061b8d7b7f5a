package fs

import (
	"sync"

	"github.com/kings099/MIT-6.1810-Xv6/defs"
)

// Inode_t is an in-core inode. ref and the table slot are protected by
// the table lock; everything below the sleep lock is protected by it.
type Inode_t struct {
	fs   *Fs_t
	Dev  int
	Inum defs.Inum_t

	ref  int
	lock Sleeplock_t

	valid bool
	Type  int16
	Major int16
	Minor int16
	Nlink int16
	Size  uint32
	addrs [NDIRECT + 1]uint32
}

type itable_t struct {
	sync.Mutex
	inodes [NINODE]Inode_t
}

// Stat_t is what fstat reports.
type Stat_t struct {
	Dev   int
	Ino   defs.Inum_t
	Type  int16
	Nlink int16
	Size  uint64
}

const STATSZ = 24

// Marshal packs the stat into its 24-byte user-visible form.
func (st *Stat_t) Marshal(d []uint8) {
	putle32(d, 0, uint32(st.Dev))
	putle32(d, 4, uint32(st.Ino))
	putle16(d, 8, uint16(st.Type))
	putle16(d, 10, uint16(st.Nlink))
	putle32(d, 12, uint32(st.Size))
	putle32(d, 16, uint32(st.Size>>32))
	putle32(d, 20, 0)
}

func (st *Stat_t) Unmarshal(d []uint8) {
	st.Dev = int(readle32(d, 0))
	st.Ino = defs.Inum_t(readle32(d, 4))
	st.Type = int16(readle16(d, 8))
	st.Nlink = int16(readle16(d, 10))
	st.Size = uint64(readle32(d, 12)) | uint64(readle32(d, 16))<<32
}

// Ialloc allocates a fresh on-disk inode of the given type and returns
// its unlocked in-core inode. Caller must be inside an op.
func (fs *Fs_t) Ialloc(dev int, typ int16) *Inode_t {
	for inum := defs.Inum_t(1); int(inum) < int(fs.sb.Ninodes); inum++ {
		bp := fs.Bcache.Bread(dev, fs.sb.iblock(inum))
		off := int(inum) % IPB * DINODESZ
		if readle16(bp.Data[:], off) == 0 {
			// zero the whole dinode and claim it
			for i := 0; i < DINODESZ; i++ {
				bp.Data[off+i] = 0
			}
			putle16(bp.Data[:], off, uint16(typ))
			fs.Log.Write(bp)
			fs.Bcache.Brelse(bp)
			return fs.Iget(dev, inum)
		}
		fs.Bcache.Brelse(bp)
	}
	panic("ialloc: no inodes")
}

// Iget returns the in-core inode for (dev, inum) with its reference count
// bumped. It does not lock the inode or read it from disk.
func (fs *Fs_t) Iget(dev int, inum defs.Inum_t) *Inode_t {
	it := &fs.itable
	it.Lock()
	defer it.Unlock()

	var empty *Inode_t
	for i := range it.inodes {
		ip := &it.inodes[i]
		if ip.ref > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.ref++
			return ip
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		panic("iget: no inodes")
	}
	empty.fs = fs
	empty.Dev = dev
	empty.Inum = inum
	empty.ref = 1
	empty.valid = false
	return empty
}

// Idup bumps ref; for handing the inode to another holder.
func (ip *Inode_t) Idup() *Inode_t {
	it := &ip.fs.itable
	it.Lock()
	ip.ref++
	it.Unlock()
	return ip
}

// Ilock sleep-locks the inode, reading it from disk on first use.
func (ip *Inode_t) Ilock() {
	if ip == nil || ip.ref < 1 {
		panic("ilock")
	}
	ip.lock.Acquire()
	if !ip.valid {
		fs := ip.fs
		bp := fs.Bcache.Bread(ip.Dev, fs.sb.iblock(ip.Inum))
		off := int(ip.Inum) % IPB * DINODESZ
		d := bp.Data[off : off+DINODESZ]
		ip.Type = int16(readle16(d, 0))
		ip.Major = int16(readle16(d, 2))
		ip.Minor = int16(readle16(d, 4))
		ip.Nlink = int16(readle16(d, 6))
		ip.Size = readle32(d, 8)
		for i := range ip.addrs {
			ip.addrs[i] = readle32(d, 12+4*i)
		}
		fs.Bcache.Brelse(bp)
		ip.valid = true
		if ip.Type == 0 {
			panic("ilock: no type")
		}
	}
}

func (ip *Inode_t) Iunlock() {
	if ip == nil || !ip.lock.Isheld() || ip.ref < 1 {
		panic("iunlock")
	}
	ip.lock.Release()
}

// Iupdate copies the in-core inode to its dinode and journals the block.
// Caller must hold the sleep lock and be inside an op.
func (ip *Inode_t) Iupdate() {
	fs := ip.fs
	bp := fs.Bcache.Bread(ip.Dev, fs.sb.iblock(ip.Inum))
	off := int(ip.Inum) % IPB * DINODESZ
	d := bp.Data[off : off+DINODESZ]
	putle16(d, 0, uint16(ip.Type))
	putle16(d, 2, uint16(ip.Major))
	putle16(d, 4, uint16(ip.Minor))
	putle16(d, 6, uint16(ip.Nlink))
	putle32(d, 8, ip.Size)
	for i, a := range ip.addrs {
		putle32(d, 12+4*i, a)
	}
	fs.Log.Write(bp)
	fs.Bcache.Brelse(bp)
}

// Iput drops a reference. The last ref of an unlinked inode truncates and
// frees it on disk; that path writes, so callers must be inside an op.
func (ip *Inode_t) Iput() {
	it := &ip.fs.itable
	it.Lock()
	if ip.ref == 1 && ip.valid && ip.Nlink == 0 {
		// no other holder can appear: ref would have to come through
		// the table, and we hold its lock
		ip.lock.Acquire()
		it.Unlock()

		ip.Itrunc()
		ip.Type = 0
		ip.Iupdate()
		ip.valid = false
		ip.lock.Release()

		it.Lock()
	}
	ip.ref--
	it.Unlock()
}

func (ip *Inode_t) Iunlockput() {
	ip.Iunlock()
	ip.Iput()
}

// bmap returns the disk block for file block bn, allocating it (and the
// indirect block) as needed.
func (ip *Inode_t) bmap(bn int) int {
	fs := ip.fs
	if bn < NDIRECT {
		if ip.addrs[bn] == 0 {
			ip.addrs[bn] = uint32(fs.balloc(ip.Dev))
		}
		return int(ip.addrs[bn])
	}
	bn -= NDIRECT
	if bn >= NINDIRECT {
		panic("bmap: out of range")
	}
	if ip.addrs[NDIRECT] == 0 {
		ip.addrs[NDIRECT] = uint32(fs.balloc(ip.Dev))
	}
	bp := fs.Bcache.Bread(ip.Dev, int(ip.addrs[NDIRECT]))
	addr := readle32(bp.Data[:], 4*bn)
	if addr == 0 {
		addr = uint32(fs.balloc(ip.Dev))
		putle32(bp.Data[:], 4*bn, addr)
		fs.Log.Write(bp)
	}
	fs.Bcache.Brelse(bp)
	return int(addr)
}

// Itrunc frees all of the file's blocks. Caller holds the sleep lock and
// is inside an op.
func (ip *Inode_t) Itrunc() {
	fs := ip.fs
	for i := 0; i < NDIRECT; i++ {
		if ip.addrs[i] != 0 {
			fs.bfree(ip.Dev, int(ip.addrs[i]))
			ip.addrs[i] = 0
		}
	}
	if ip.addrs[NDIRECT] != 0 {
		bp := fs.Bcache.Bread(ip.Dev, int(ip.addrs[NDIRECT]))
		for i := 0; i < NINDIRECT; i++ {
			if a := readle32(bp.Data[:], 4*i); a != 0 {
				fs.bfree(ip.Dev, int(a))
			}
		}
		fs.Bcache.Brelse(bp)
		fs.bfree(ip.Dev, int(ip.addrs[NDIRECT]))
		ip.addrs[NDIRECT] = 0
	}
	ip.Size = 0
	ip.Iupdate()
}

func (ip *Inode_t) Stati() Stat_t {
	return Stat_t{
		Dev:   ip.Dev,
		Ino:   ip.Inum,
		Type:  ip.Type,
		Nlink: ip.Nlink,
		Size:  uint64(ip.Size),
	}
}

// Readi reads up to len(dst) bytes at off, returning the count (0 at or
// past EOF). Caller holds the sleep lock.
func (ip *Inode_t) Readi(dst []uint8, off int) int {
	fs := ip.fs
	if off < 0 || off > int(ip.Size) {
		return 0
	}
	n := len(dst)
	if off+n > int(ip.Size) {
		n = int(ip.Size) - off
	}
	tot := 0
	for tot < n {
		bp := fs.Bcache.Bread(ip.Dev, ip.bmap(off/defs.BSIZE))
		m := min(n-tot, defs.BSIZE-off%defs.BSIZE)
		copy(dst[tot:tot+m], bp.Data[off%defs.BSIZE:])
		fs.Bcache.Brelse(bp)
		tot += m
		off += m
	}
	return tot
}

// Writei writes len(src) bytes at off, growing the file as needed, and
// returns the count or -1 for an invalid offset. Caller holds the sleep
// lock and is inside an op.
func (ip *Inode_t) Writei(src []uint8, off int) int {
	fs := ip.fs
	n := len(src)
	if off < 0 || off > int(ip.Size) {
		return -1
	}
	if off+n > MAXFILE*defs.BSIZE {
		return -1
	}
	tot := 0
	for tot < n {
		bp := fs.Bcache.Bread(ip.Dev, ip.bmap(off/defs.BSIZE))
		m := min(n-tot, defs.BSIZE-off%defs.BSIZE)
		copy(bp.Data[off%defs.BSIZE:], src[tot:tot+m])
		fs.Log.Write(bp)
		fs.Bcache.Brelse(bp)
		tot += m
		off += m
	}
	if off > int(ip.Size) {
		ip.Size = uint32(off)
	}
	// flush the size and any new block pointers
	ip.Iupdate()
	return tot
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
