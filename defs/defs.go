package defs

type Inum_t int

const (
	PGSHIFT uint = 12
	PGSIZE  int  = 1 << PGSHIFT

	SUPERPGSHIFT uint = 21
	SUPERPGSIZE  int  = 1 << SUPERPGSHIFT

	// disk block size; one physical page per block
	BSIZE = 4096

	// buffer cache size and bucket count; the bucket count is prime so
	// dev+blockno sums spread evenly
	NBUF     = 30
	NBUCKETS = 13

	// open files per process
	NOFILE = 16
	// major device numbers
	NDEV = 10
	// max exec arguments
	MAXARG = 32
	// max path name length
	MAXPATH = 128
	// mapped regions per process
	NVMA = 16
)

// Simulated user address space layout. The top two pages are reserved for
// the trampoline and trapframe; mmap regions grow down from TRAPFRAME.
const (
	MAXVA      uintptr = 1 << 38
	TRAMPOLINE uintptr = MAXVA - uintptr(PGSIZE)
	TRAPFRAME  uintptr = TRAMPOLINE - uintptr(PGSIZE)
)

// file types
const (
	T_DIR    = 1
	T_FILE   = 2
	T_DEVICE = 3
)

// open modes
const (
	O_RDONLY = 0x000
	O_WRONLY = 0x001
	O_RDWR   = 0x002
	O_CREATE = 0x200
	O_TRUNC  = 0x400
)

// mmap protections and flags
const (
	PROT_NONE  = 0x0
	PROT_READ  = 0x1
	PROT_WRITE = 0x2
	PROT_EXEC  = 0x4

	MAP_SHARED  = 0x01
	MAP_PRIVATE = 0x02
)

func Pgroundup(v uintptr) uintptr {
	return (v + uintptr(PGSIZE) - 1) &^ (uintptr(PGSIZE) - 1)
}

func Pgrounddown(v uintptr) uintptr {
	return v &^ (uintptr(PGSIZE) - 1)
}
