package fs

import (
	"fmt"

	"github.com/kings099/MIT-6.1810-Xv6/mem"
)

// Fs_t glues one mounted file system together: block cache, journal,
// in-core inode table and the superblock.
type Fs_t struct {
	dev    int
	Bcache *Bcache_t
	Log    *Log_t
	sb     Superblock_t
	itable itable_t
}

// MkFs mounts the file system on disk, replaying the journal if a
// committed transaction is pending.
func MkFs(phys *mem.Physmem_t, disk Disk_i, dev int) *Fs_t {
	fs := &Fs_t{dev: dev}
	fs.Bcache = MkBcache(phys, disk)
	b := fs.Bcache.Bread(dev, 1)
	fs.sb.unmarshal(b.Data[:])
	fs.Bcache.Brelse(b)
	if fs.sb.Magic != FSMAGIC {
		panic("mkfs: bad magic")
	}
	fs.Log = MkLog(fs.Bcache, &fs.sb, dev)
	return fs
}

func (fs *Fs_t) Begin_op() { fs.Log.Begin_op() }
func (fs *Fs_t) End_op()   { fs.Log.End_op() }

func (fs *Fs_t) Superblock() Superblock_t { return fs.sb }

// zero a block and journal it
func (fs *Fs_t) bzero(dev, blockno int) {
	b := fs.Bcache.Bread(dev, blockno)
	for i := range b.Data {
		b.Data[i] = 0
	}
	fs.Log.Write(b)
	fs.Bcache.Brelse(b)
}

// balloc allocates a zeroed data block. Caller must be inside an op.
func (fs *Fs_t) balloc(dev int) int {
	for b := 0; b < int(fs.sb.Size); b += BPB {
		bp := fs.Bcache.Bread(dev, fs.sb.bblock(b))
		for bi := 0; bi < BPB && b+bi < int(fs.sb.Size); bi++ {
			m := uint8(1) << (uint(bi) % 8)
			if bp.Data[bi/8]&m == 0 {
				bp.Data[bi/8] |= m
				fs.Log.Write(bp)
				fs.Bcache.Brelse(bp)
				fs.bzero(dev, b+bi)
				return b + bi
			}
		}
		fs.Bcache.Brelse(bp)
	}
	panic("balloc: out of blocks")
}

func (fs *Fs_t) bfree(dev, blockno int) {
	bp := fs.Bcache.Bread(dev, fs.sb.bblock(blockno))
	bi := blockno % BPB
	m := uint8(1) << (uint(bi) % 8)
	if bp.Data[bi/8]&m == 0 {
		panic("bfree: freeing free block")
	}
	bp.Data[bi/8] &^= m
	fs.Log.Write(bp)
	fs.Bcache.Brelse(bp)
}

func (fs *Fs_t) Stats() string {
	return fmt.Sprintf("%s; %s", fs.Bcache.Stats(), fs.Log.Stats())
}
