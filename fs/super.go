package fs

import (
	"fmt"

	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/mem"
)

// On-disk layout:
//   [ boot | super | log | inodes | free bit map | data ]
const (
	FSMAGIC = 0x10203040

	ROOTINO defs.Inum_t = 1

	NDIRECT   = 12
	NINDIRECT = defs.BSIZE / 4
	MAXFILE   = NDIRECT + NINDIRECT

	// on-disk inode size and inodes per block
	DINODESZ = 64
	IPB      = defs.BSIZE / DINODESZ
	// bitmap bits per block
	BPB = defs.BSIZE * 8

	// journal capacity and the most blocks one op may dirty
	LOGSIZE     = 30
	MAXOPBLOCKS = 10

	// in-core inode table size
	NINODE = 50

	DIRSIZ = 14
)

type Superblock_t struct {
	Magic      uint32
	Size       uint32 // total blocks
	Nblocks    uint32 // data blocks
	Ninodes    uint32
	Nlog       uint32
	Logstart   uint32
	Inodestart uint32
	Bmapstart  uint32
}

func readle32(d []uint8, off int) uint32 {
	return uint32(d[off]) | uint32(d[off+1])<<8 |
		uint32(d[off+2])<<16 | uint32(d[off+3])<<24
}

func putle32(d []uint8, off int, v uint32) {
	d[off] = uint8(v)
	d[off+1] = uint8(v >> 8)
	d[off+2] = uint8(v >> 16)
	d[off+3] = uint8(v >> 24)
}

func readle16(d []uint8, off int) uint16 {
	return uint16(d[off]) | uint16(d[off+1])<<8
}

func putle16(d []uint8, off int, v uint16) {
	d[off] = uint8(v)
	d[off+1] = uint8(v >> 8)
}

func (sb *Superblock_t) unmarshal(d []uint8) {
	sb.Magic = readle32(d, 0)
	sb.Size = readle32(d, 4)
	sb.Nblocks = readle32(d, 8)
	sb.Ninodes = readle32(d, 12)
	sb.Nlog = readle32(d, 16)
	sb.Logstart = readle32(d, 20)
	sb.Inodestart = readle32(d, 24)
	sb.Bmapstart = readle32(d, 28)
}

func (sb *Superblock_t) marshal(d []uint8) {
	putle32(d, 0, sb.Magic)
	putle32(d, 4, sb.Size)
	putle32(d, 8, sb.Nblocks)
	putle32(d, 12, sb.Ninodes)
	putle32(d, 16, sb.Nlog)
	putle32(d, 20, sb.Logstart)
	putle32(d, 24, sb.Inodestart)
	putle32(d, 28, sb.Bmapstart)
}

// iblock is the block holding inode i.
func (sb *Superblock_t) iblock(i defs.Inum_t) int {
	return int(i)/IPB + int(sb.Inodestart)
}

// bblock is the bitmap block covering block b.
func (sb *Superblock_t) bblock(b int) int {
	return b/BPB + int(sb.Bmapstart)
}

// Mkfs formats a fresh file system of nblocks total blocks with ninodes
// inodes on disk d, and returns its superblock. The root directory is
// created with "." and ".." entries. All writes go straight to the disk;
// there is nothing to journal yet.
func Mkfs(d Disk_i, nblocks, ninodes int) *Superblock_t {
	nlog := LOGSIZE + 1 // header block plus LOGSIZE data blocks
	ninodeblocks := ninodes/IPB + 1
	nbitmap := nblocks/BPB + 1
	nmeta := 2 + nlog + ninodeblocks + nbitmap
	if nmeta >= nblocks {
		panic("mkfs: disk too small")
	}
	sb := &Superblock_t{
		Magic:      FSMAGIC,
		Size:       uint32(nblocks),
		Nblocks:    uint32(nblocks - nmeta),
		Ninodes:    uint32(ninodes),
		Nlog:       uint32(nlog),
		Logstart:   2,
		Inodestart: uint32(2 + nlog),
		Bmapstart:  uint32(2 + nlog + ninodeblocks),
	}

	var pg mem.Bytepg_t
	wsect := func(blockno int) {
		b := &Buf_t{Blockno: blockno, Data: &pg}
		b.lock.Acquire()
		req := MkRequest([]*Buf_t{b}, BDEV_WRITE, true)
		if d.Start(req) {
			<-req.AckCh
		}
		b.lock.Release()
	}
	zero := func() {
		for i := range pg {
			pg[i] = 0
		}
	}

	// every block starts zeroed
	for i := 0; i < nblocks; i++ {
		zero()
		wsect(i)
	}

	zero()
	sb.marshal(pg[:])
	wsect(1)

	// root directory: inode 1, entries "." and ".."
	zero()
	off := int(ROOTINO) % IPB * DINODESZ
	putle16(pg[:], off+0, defs.T_DIR)
	putle16(pg[:], off+6, 1) // nlink; ".." self-reference is not counted
	putle32(pg[:], off+8, 2*uint32(direntsz))
	firstdata := nmeta
	putle32(pg[:], off+12, uint32(firstdata))
	wsect(sb.iblock(ROOTINO))

	zero()
	de := func(slot int, inum defs.Inum_t, name string) {
		o := slot * direntsz
		putle16(pg[:], o, uint16(inum))
		copy(pg[o+2:o+2+DIRSIZ], name)
	}
	de(0, ROOTINO, ".")
	de(1, ROOTINO, "..")
	wsect(firstdata)

	// mark the metadata blocks and the root dir block in use
	zero()
	used := nmeta + 1
	for i := 0; i < used; i++ {
		pg[i/8] |= 1 << (uint(i) % 8)
	}
	if used > BPB {
		panic("mkfs: metadata exceeds one bitmap block")
	}
	wsect(int(sb.Bmapstart))
	return sb
}

// Probe reports whether d holds a file system, by magic. Lets the boot
// command decide between mounting and formatting.
func Probe(d Disk_i) bool {
	var pg mem.Bytepg_t
	b := &Buf_t{Blockno: 1, Data: &pg}
	req := MkRequest([]*Buf_t{b}, BDEV_READ, true)
	if d.Start(req) {
		<-req.AckCh
	}
	var sb Superblock_t
	sb.unmarshal(pg[:])
	return sb.Magic == FSMAGIC
}

func (sb *Superblock_t) String() string {
	return fmt.Sprintf("sb: size %v nblocks %v ninodes %v nlog %v "+
		"logstart %v inodestart %v bmapstart %v", sb.Size, sb.Nblocks,
		sb.Ninodes, sb.Nlog, sb.Logstart, sb.Inodestart, sb.Bmapstart)
}
