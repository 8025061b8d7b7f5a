package defs

// Err_t is a kernel errno. Syscalls return -int(err) to user space.
type Err_t int

const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	EINTR        Err_t = 4
	EIO          Err_t = 5
	E2BIG        Err_t = 7
	EBADF        Err_t = 9
	EAGAIN       Err_t = 11
	ENOMEM       Err_t = 12
	EACCES       Err_t = 13
	EFAULT       Err_t = 14
	EBUSY        Err_t = 16
	EEXIST       Err_t = 17
	ENODEV       Err_t = 19
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	EMFILE       Err_t = 24
	ENOSPC       Err_t = 28
	ESPIPE       Err_t = 29
	EPIPE        Err_t = 32
	ENAMETOOLONG Err_t = 36
	ENOSYS       Err_t = 38
	ENOTEMPTY    Err_t = 39
	EADDRINUSE   Err_t = 48
	ENOTSOCK     Err_t = 88
	EMSGSIZE     Err_t = 90
	ECONNREFUSED Err_t = 111
)
