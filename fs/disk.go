package fs

import (
	"fmt"
	"os"
	"sync"

	"github.com/kings099/MIT-6.1810-Xv6/defs"
)

var disk_debug = false

type Bdevcmd_t uint

const (
	BDEV_WRITE Bdevcmd_t = iota
	BDEV_READ
	BDEV_FLUSH
)

// Bdev_req_t is one request handed to a block device. If the driver
// returns true from Start, the issuer sleeps on AckCh for completion.
type Bdev_req_t struct {
	Cmd   Bdevcmd_t
	Blks  []*Buf_t
	AckCh chan bool
	Sync  bool
}

func MkRequest(blks []*Buf_t, cmd Bdevcmd_t, sync bool) *Bdev_req_t {
	ret := &Bdev_req_t{}
	ret.Blks = blks
	ret.AckCh = make(chan bool)
	ret.Cmd = cmd
	ret.Sync = sync
	return ret
}

type Disk_i interface {
	// Start submits the request. It returns true if the issuer must
	// wait on req.AckCh.
	Start(req *Bdev_req_t) bool
	Stats() string
}

// Memdisk_t is an in-memory block device. Requests complete synchronously
// in the caller, so Start never asks the issuer to wait.
type Memdisk_t struct {
	sync.Mutex
	blks    [][defs.BSIZE]uint8
	nreads  int
	nwrites int
}

func MkMemdisk(nblocks int) *Memdisk_t {
	return &Memdisk_t{blks: make([][defs.BSIZE]uint8, nblocks)}
}

func (d *Memdisk_t) Start(req *Bdev_req_t) bool {
	d.Lock()
	defer d.Unlock()
	for _, b := range req.Blks {
		if b.Blockno < 0 || b.Blockno >= len(d.blks) {
			panic(fmt.Sprintf("memdisk: bad block %v", b.Blockno))
		}
		switch req.Cmd {
		case BDEV_READ:
			copy(b.Data[:], d.blks[b.Blockno][:])
			d.nreads++
		case BDEV_WRITE:
			copy(d.blks[b.Blockno][:], b.Data[:])
			d.nwrites++
		case BDEV_FLUSH:
		}
		if disk_debug {
			fmt.Printf("memdisk: cmd %v block %v\n", req.Cmd, b.Blockno)
		}
	}
	return false
}

func (d *Memdisk_t) Stats() string {
	d.Lock()
	defer d.Unlock()
	return fmt.Sprintf("disk: %v reads, %v writes", d.nreads, d.nwrites)
}

// Counts returns the read and write totals; tests use them to observe
// cache hits.
func (d *Memdisk_t) Counts() (int, int) {
	d.Lock()
	defer d.Unlock()
	return d.nreads, d.nwrites
}

// Filedisk_t is a block device backed by a host file, used by the boot
// command so the image survives restarts.
type Filedisk_t struct {
	sync.Mutex
	f       *os.File
	nblocks int
	nreads  int
	nwrites int
}

func MkFiledisk(path string, nblocks int) (*Filedisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(nblocks) * defs.BSIZE); err != nil {
		f.Close()
		return nil, err
	}
	return &Filedisk_t{f: f, nblocks: nblocks}, nil
}

func (d *Filedisk_t) Start(req *Bdev_req_t) bool {
	d.Lock()
	defer d.Unlock()
	for _, b := range req.Blks {
		if b.Blockno < 0 || b.Blockno >= d.nblocks {
			panic(fmt.Sprintf("filedisk: bad block %v", b.Blockno))
		}
		off := int64(b.Blockno) * defs.BSIZE
		var err error
		switch req.Cmd {
		case BDEV_READ:
			_, err = d.f.ReadAt(b.Data[:], off)
			d.nreads++
		case BDEV_WRITE:
			_, err = d.f.WriteAt(b.Data[:], off)
			d.nwrites++
		case BDEV_FLUSH:
			err = d.f.Sync()
		}
		if err != nil {
			panic(fmt.Sprintf("filedisk: block %v: %v", b.Blockno, err))
		}
	}
	return false
}

func (d *Filedisk_t) Stats() string {
	d.Lock()
	defer d.Unlock()
	return fmt.Sprintf("disk: %v reads, %v writes", d.nreads, d.nwrites)
}

func (d *Filedisk_t) Close() error {
	return d.f.Close()
}

var _ Disk_i = (*Memdisk_t)(nil)
var _ Disk_i = (*Filedisk_t)(nil)
