// Package bnet is a minimal UDP/IPv4 network stack over an e1000-style
// NIC: ethernet and ARP handling, a fixed table of datagram sockets
// keyed by local port, and bounded per-socket receive queues.
package bnet

import (
	"fmt"
	"sync"

	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/e1000"
	"github.com/kings099/MIT-6.1810-Xv6/mem"
	"github.com/kings099/MIT-6.1810-Xv6/proc"
)

var net_debug = false

const (
	SOCK_MAX  = 16
	QUEUE_MAX = 16

	hdrlen = ETHERLEN + IP4LEN + UDPLEN
	// payload must leave room for the headers in one frame
	MAXPAYLOAD = e1000.MAXFRAME - hdrlen
)

// Nic_i is what the stack needs from the driver. Transmit owns the page
// on success.
type Nic_i interface {
	Transmit(pa mem.Pa_t, length int) int
}

// one queued datagram; the page holds the whole frame
type pkt_t struct {
	pa     mem.Pa_t
	payoff int
	paylen int
	sip    Ip4_t
	sport  uint16
}

type sock_t struct {
	inuse bool
	port  uint16
	q     []pkt_t
}

type nstats_t struct {
	qdrops   int
	baddrops int
	arps     int
}

// Net_t is one stack instance. A single lock covers the socket table and
// all queues; receivers sleep on their socket's address.
type Net_t struct {
	sync.Mutex
	phys       *mem.Physmem_t
	nic        Nic_i
	mac        e1000.Mac_t
	ip         Ip4_t
	gwmac      e1000.Mac_t
	arpreplied bool
	ipid       uint16
	socks      [SOCK_MAX]sock_t
	stats      nstats_t
}

// Mknet builds a stack with the given local MAC/IP. All outgoing frames
// are addressed to gwmac, the first-hop gateway.
func Mknet(phys *mem.Physmem_t, nic Nic_i, mac e1000.Mac_t, ip Ip4_t,
	gwmac e1000.Mac_t) *Net_t {
	return &Net_t{phys: phys, nic: nic, mac: mac, ip: ip, gwmac: gwmac}
}

// Bind reserves port for a new socket.
func (n *Net_t) Bind(port uint16) defs.Err_t {
	n.Lock()
	defer n.Unlock()
	var free *sock_t
	for i := range n.socks {
		s := &n.socks[i]
		if s.inuse && s.port == port {
			return -defs.EADDRINUSE
		}
		if free == nil && !s.inuse {
			free = s
		}
	}
	if free == nil {
		return -defs.EMFILE
	}
	free.inuse = true
	free.port = port
	free.q = free.q[:0]
	return 0
}

// Unbind releases the socket bound to port, freeing its queued pages and
// waking any sleeping receivers; they find the socket gone and fail.
// Unbinding an unbound port is a no-op.
func (n *Net_t) Unbind(port uint16) defs.Err_t {
	n.Lock()
	defer n.Unlock()
	for i := range n.socks {
		s := &n.socks[i]
		if s.inuse && s.port == port {
			for _, p := range s.q {
				n.phys.Page_free(p.pa)
			}
			s.q = nil
			s.inuse = false
			proc.Wakeup(s)
			return 0
		}
	}
	return 0
}

// Recv blocks until a datagram arrives on dport, then copies up to
// len(buf) payload bytes and returns the count and the sender. If the
// socket is (or becomes) unbound, Recv returns -EBADF.
func (n *Net_t) Recv(dport uint16, buf []uint8) (int, Ip4_t, uint16, defs.Err_t) {
	n.Lock()
	defer n.Unlock()
	s := n.lookup(dport)
	if s == nil {
		return 0, 0, 0, -defs.EBADF
	}
	for len(s.q) == 0 {
		proc.Sleep(s, &n.Mutex)
		if !s.inuse || s.port != dport {
			return 0, 0, 0, -defs.EBADF
		}
	}
	p := s.q[0]
	s.q = s.q[1:]
	c := p.paylen
	if c > len(buf) {
		c = len(buf)
	}
	copy(buf[:c], n.phys.Dmaplen(p.pa+mem.Pa_t(p.payoff), p.paylen))
	n.phys.Page_free(p.pa)
	return c, p.sip, p.sport, 0
}

// Send transmits payload as a UDP datagram from sport to dip:dport. The
// frame is built in one fresh page which the NIC then owns; if the TX
// ring is full the page is freed and Send fails with -EAGAIN.
func (n *Net_t) Send(sport uint16, dip Ip4_t, dport uint16, payload []uint8) defs.Err_t {
	if len(payload) > MAXPAYLOAD {
		return -defs.EMSGSIZE
	}
	pa, ok := n.phys.Page_alloc()
	if !ok {
		return -defs.ENOMEM
	}
	f := n.phys.Dmaplen(pa, hdrlen+len(payload))

	n.Lock()
	n.ipid++
	id := n.ipid
	n.Unlock()

	eh := Etherhdr_t{Dst: n.gwmac, Src: n.mac, Etype: ETH_IP4}
	eh.Marshal(f)

	ih := Ip4hdr_t{
		Vihl:  4<<4 | IP4LEN/4,
		Tlen:  uint16(IP4LEN + UDPLEN + len(payload)),
		Id:    id,
		Ttl:   IPDEFTTL,
		Proto: IPPROTO_UDP,
		Sip:   n.ip,
		Dip:   dip,
	}
	ih.Marshal(f[ETHERLEN:])
	ih.Csum = in_cksum(f[ETHERLEN : ETHERLEN+IP4LEN])
	putbe16(f, ETHERLEN+10, ih.Csum)

	uh := Udphdr_t{
		Sport: sport,
		Dport: dport,
		Ulen:  uint16(UDPLEN + len(payload)),
	}
	uh.Marshal(f[ETHERLEN+IP4LEN:])
	copy(f[hdrlen:], payload)

	if n.nic.Transmit(pa, hdrlen+len(payload)) != 0 {
		n.phys.Page_free(pa)
		return -defs.EAGAIN
	}
	return 0
}

// Net_rx is the NIC's input upcall; the page at pa is ours to queue or
// free. Runs without the NIC lock held.
func (n *Net_t) Net_rx(pa mem.Pa_t, length int) {
	if length < ETHERLEN {
		n.drop(pa)
		return
	}
	f := n.phys.Dmaplen(pa, length)
	var eh Etherhdr_t
	eh.Unmarshal(f)
	switch eh.Etype {
	case ETH_ARP:
		n.arp_rx(pa, f)
	case ETH_IP4:
		n.ip_rx(pa, f)
	default:
		n.drop(pa)
	}
}

func (n *Net_t) drop(pa mem.Pa_t) {
	n.Lock()
	n.stats.baddrops++
	n.Unlock()
	n.phys.Page_free(pa)
}

// arp_rx answers the first request for our IP; one reply primes the
// peer's cache for the session, everything after is noise.
func (n *Net_t) arp_rx(pa mem.Pa_t, f []uint8) {
	if len(f) < ETHERLEN+ARPLEN {
		n.drop(pa)
		return
	}
	var ah Arphdr_t
	ah.Unmarshal(f[ETHERLEN:])
	n.Lock()
	ok := ah.Htype == ARP_HTYPE_ETH && ah.Ptype == ETH_IP4 &&
		ah.Op == ARP_OP_REQ && ah.Tip == n.ip && !n.arpreplied
	if ok {
		n.arpreplied = true
		n.stats.arps++
	}
	n.Unlock()
	if !ok {
		n.phys.Page_free(pa)
		return
	}

	rpa, allocok := n.phys.Page_alloc()
	if !allocok {
		n.phys.Page_free(pa)
		return
	}
	r := n.phys.Dmaplen(rpa, ETHERLEN+ARPLEN)
	eh := Etherhdr_t{Dst: ah.Sha, Src: n.mac, Etype: ETH_ARP}
	eh.Marshal(r)
	reply := Arphdr_t{
		Htype: ARP_HTYPE_ETH,
		Ptype: ETH_IP4,
		Hlen:  6,
		Plen:  4,
		Op:    ARP_OP_REPLY,
		Sha:   n.mac,
		Sip:   n.ip,
		Tha:   ah.Sha,
		Tip:   ah.Sip,
	}
	reply.Marshal(r[ETHERLEN:])
	n.phys.Page_free(pa)
	if n.nic.Transmit(rpa, ETHERLEN+ARPLEN) != 0 {
		n.phys.Page_free(rpa)
	}
}

func (n *Net_t) ip_rx(pa mem.Pa_t, f []uint8) {
	if len(f) < ETHERLEN+IP4LEN {
		n.drop(pa)
		return
	}
	var ih Ip4hdr_t
	ih.Unmarshal(f[ETHERLEN:])
	if ih.Vihl != 4<<4|IP4LEN/4 || ih.Proto != IPPROTO_UDP {
		n.drop(pa)
		return
	}
	if int(ih.Tlen) > len(f)-ETHERLEN || int(ih.Tlen) < IP4LEN+UDPLEN {
		n.drop(pa)
		return
	}
	var uh Udphdr_t
	uh.Unmarshal(f[ETHERLEN+IP4LEN:])
	paylen := int(uh.Ulen) - UDPLEN
	if paylen < 0 || UDPLEN+paylen > int(ih.Tlen)-IP4LEN {
		n.drop(pa)
		return
	}

	n.Lock()
	s := n.lookup(uh.Dport)
	if s == nil || len(s.q) >= QUEUE_MAX {
		if s != nil {
			n.stats.qdrops++
		} else {
			n.stats.baddrops++
		}
		n.Unlock()
		n.phys.Page_free(pa)
		return
	}
	s.q = append(s.q, pkt_t{
		pa:     pa,
		payoff: hdrlen,
		paylen: paylen,
		sip:    ih.Sip,
		sport:  uh.Sport,
	})
	proc.Wakeup(s)
	n.Unlock()
	if net_debug {
		fmt.Printf("net: udp %v bytes for port %v from %v:%v\n",
			paylen, uh.Dport, ih.Sip, uh.Sport)
	}
}

// caller holds the net lock
func (n *Net_t) lookup(port uint16) *sock_t {
	for i := range n.socks {
		if n.socks[i].inuse && n.socks[i].port == port {
			return &n.socks[i]
		}
	}
	return nil
}

func (n *Net_t) Stats() string {
	n.Lock()
	defer n.Unlock()
	return fmt.Sprintf("net: %v queue drops, %v bad drops, %v arp replies",
		n.stats.qdrops, n.stats.baddrops, n.stats.arps)
}
