package kernel

import (
	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/mem"
	"github.com/kings099/MIT-6.1810-Xv6/proc"
)

// Progtab_t is the default loader: a table of in-kernel "programs". A
// real loader would parse an executable from the file system instead.
type Progtab_t struct {
	progs map[string]func(p *proc.Proc_t, argv []string) int
}

func MkProgtab() *Progtab_t {
	return &Progtab_t{progs: make(map[string]func(*proc.Proc_t, []string) int)}
}

func (pt *Progtab_t) Register(name string, fn func(*proc.Proc_t, []string) int) {
	pt.progs[name] = fn
}

func (pt *Progtab_t) Load(p *proc.Proc_t, path string, argv []string) int {
	fn, ok := pt.progs[path]
	if !ok {
		return int(-defs.ENOENT)
	}
	return fn(p, argv)
}

// Sys_exec gathers up to MAXARG argument strings from the user argv
// array into kernel pages, verifies the path exists, and hands off to
// the loader. The pages are freed no matter how loading goes.
func (k *Kernel_t) Sys_exec(p *proc.Proc_t, path string, uargv uintptr) int {
	var pas []mem.Pa_t
	var argv []string
	ret := int(-defs.ENOENT)
	defer func() {
		for _, pa := range pas {
			k.Phys.Page_free(pa)
		}
	}()

	for i := 0; ; i++ {
		if i >= defs.MAXARG {
			return int(-defs.E2BIG)
		}
		var pbuf [8]uint8
		if err := p.Copyin(pbuf[:], uargv+uintptr(8*i)); err != 0 {
			return int(err)
		}
		sva := uintptr(0)
		for j := 7; j >= 0; j-- {
			sva = sva<<8 | uintptr(pbuf[j])
		}
		if sva == 0 {
			break
		}
		s, err := p.Copyinstr(sva, defs.PGSIZE-1)
		if err != 0 {
			return int(err)
		}
		// each argument lives in its own kernel page while we hold it
		pa, ok := k.Phys.Page_zalloc()
		if !ok {
			return int(-defs.ENOMEM)
		}
		pas = append(pas, pa)
		pg := k.Phys.Dmap(pa)
		copy(pg[:], s)
		argv = append(argv, string(pg[:len(s)]))
	}

	k.Fs.Begin_op()
	ip := k.Fs.Namei(p.Cwd, path)
	if ip == nil {
		k.Fs.End_op()
		return ret
	}
	ip.Iput()
	k.Fs.End_op()

	if k.Loader == nil {
		return int(-defs.ENOSYS)
	}
	return k.Loader.Load(p, path, argv)
}
