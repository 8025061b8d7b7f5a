package kernel

import (
	"github.com/kings099/MIT-6.1810-Xv6/bnet"
	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/proc"
)

func (k *Kernel_t) Sys_bind(p *proc.Proc_t, port uint16) int {
	if k.Net == nil {
		return int(-defs.ENODEV)
	}
	return int(k.Net.Bind(port))
}

func (k *Kernel_t) Sys_unbind(p *proc.Proc_t, port uint16) int {
	if k.Net == nil {
		return int(-defs.ENODEV)
	}
	return int(k.Net.Unbind(port))
}

// Sys_recv blocks for a datagram on dport and copies out the payload,
// the sender's IP (to srcva) and the sender's port (to sportva). Returns
// the payload byte count. The datagram is consumed even if a copyout
// faults.
func (k *Kernel_t) Sys_recv(p *proc.Proc_t, dport uint16,
	srcva, sportva, bufva uintptr, maxlen int) int {
	if k.Net == nil {
		return int(-defs.ENODEV)
	}
	if maxlen < 0 {
		return int(-defs.EINVAL)
	}
	buf := make([]uint8, maxlen)
	n, sip, sport, err := k.Net.Recv(dport, buf)
	if err != 0 {
		return int(err)
	}
	var b4 [4]uint8
	putint32(b4[:], int32(sip))
	if err := p.Copyout(srcva, b4[:]); err != 0 {
		return int(err)
	}
	var b2 [2]uint8
	b2[0] = uint8(sport)
	b2[1] = uint8(sport >> 8)
	if err := p.Copyout(sportva, b2[:]); err != 0 {
		return int(err)
	}
	if err := p.Copyout(bufva, buf[:n]); err != 0 {
		return int(err)
	}
	return n
}

// Sys_send transmits a datagram; it does not block, failing instead when
// the TX ring is full.
func (k *Kernel_t) Sys_send(p *proc.Proc_t, sport uint16, dip bnet.Ip4_t,
	dport uint16, bufva uintptr, n int) int {
	if k.Net == nil {
		return int(-defs.ENODEV)
	}
	if n < 0 || n > bnet.MAXPAYLOAD {
		return int(-defs.EMSGSIZE)
	}
	buf := make([]uint8, n)
	if err := p.Copyin(buf, bufva); err != 0 {
		return int(err)
	}
	if err := k.Net.Send(sport, dip, dport, buf); err != 0 {
		return int(err)
	}
	return 0
}
