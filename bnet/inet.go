package bnet

import (
	"fmt"

	"github.com/kings099/MIT-6.1810-Xv6/e1000"
)

// Be16 is a 16-bit value in network byte order.
type Be16 uint16

// Ip4_t is an IPv4 address in host byte order.
type Ip4_t uint32

func Htons(v uint16) Be16 {
	return Be16(v>>8 | v<<8)
}

func Ntohs(v Be16) uint16 {
	return uint16(v>>8 | v<<8)
}

func Ip4(a, b, c, d uint8) Ip4_t {
	return Ip4_t(a)<<24 | Ip4_t(b)<<16 | Ip4_t(c)<<8 | Ip4_t(d)
}

func (ip Ip4_t) String() string {
	return fmt.Sprintf("%d.%d.%d.%d",
		uint8(ip>>24), uint8(ip>>16), uint8(ip>>8), uint8(ip))
}

const (
	ETHERLEN = 14
	ARPLEN   = 28
	IP4LEN   = 20
	UDPLEN   = 8

	ETH_ARP = 0x0806
	ETH_IP4 = 0x0800

	ARP_HTYPE_ETH = 1
	ARP_OP_REQ    = 1
	ARP_OP_REPLY  = 2

	IPPROTO_UDP = 17

	// outgoing datagrams
	IPDEFTTL = 100
)

func getbe16(d []uint8, off int) uint16 {
	return uint16(d[off])<<8 | uint16(d[off+1])
}

func putbe16(d []uint8, off int, v uint16) {
	d[off] = uint8(v >> 8)
	d[off+1] = uint8(v)
}

func getbe32(d []uint8, off int) uint32 {
	return uint32(d[off])<<24 | uint32(d[off+1])<<16 |
		uint32(d[off+2])<<8 | uint32(d[off+3])
}

func putbe32(d []uint8, off int, v uint32) {
	d[off] = uint8(v >> 24)
	d[off+1] = uint8(v >> 16)
	d[off+2] = uint8(v >> 8)
	d[off+3] = uint8(v)
}

type Etherhdr_t struct {
	Dst   e1000.Mac_t
	Src   e1000.Mac_t
	Etype uint16
}

func (h *Etherhdr_t) Unmarshal(d []uint8) {
	copy(h.Dst[:], d[0:6])
	copy(h.Src[:], d[6:12])
	h.Etype = getbe16(d, 12)
}

func (h *Etherhdr_t) Marshal(d []uint8) {
	copy(d[0:6], h.Dst[:])
	copy(d[6:12], h.Src[:])
	putbe16(d, 12, h.Etype)
}

type Arphdr_t struct {
	Htype uint16
	Ptype uint16
	Hlen  uint8
	Plen  uint8
	Op    uint16
	Sha   e1000.Mac_t
	Sip   Ip4_t
	Tha   e1000.Mac_t
	Tip   Ip4_t
}

func (h *Arphdr_t) Unmarshal(d []uint8) {
	h.Htype = getbe16(d, 0)
	h.Ptype = getbe16(d, 2)
	h.Hlen = d[4]
	h.Plen = d[5]
	h.Op = getbe16(d, 6)
	copy(h.Sha[:], d[8:14])
	h.Sip = Ip4_t(getbe32(d, 14))
	copy(h.Tha[:], d[18:24])
	h.Tip = Ip4_t(getbe32(d, 24))
}

func (h *Arphdr_t) Marshal(d []uint8) {
	putbe16(d, 0, h.Htype)
	putbe16(d, 2, h.Ptype)
	d[4] = h.Hlen
	d[5] = h.Plen
	putbe16(d, 6, h.Op)
	copy(d[8:14], h.Sha[:])
	putbe32(d, 14, uint32(h.Sip))
	copy(d[18:24], h.Tha[:])
	putbe32(d, 24, uint32(h.Tip))
}

type Ip4hdr_t struct {
	Vihl  uint8
	Tos   uint8
	Tlen  uint16
	Id    uint16
	Foff  uint16
	Ttl   uint8
	Proto uint8
	Csum  uint16
	Sip   Ip4_t
	Dip   Ip4_t
}

func (h *Ip4hdr_t) Unmarshal(d []uint8) {
	h.Vihl = d[0]
	h.Tos = d[1]
	h.Tlen = getbe16(d, 2)
	h.Id = getbe16(d, 4)
	h.Foff = getbe16(d, 6)
	h.Ttl = d[8]
	h.Proto = d[9]
	h.Csum = getbe16(d, 10)
	h.Sip = Ip4_t(getbe32(d, 12))
	h.Dip = Ip4_t(getbe32(d, 16))
}

func (h *Ip4hdr_t) Marshal(d []uint8) {
	d[0] = h.Vihl
	d[1] = h.Tos
	putbe16(d, 2, h.Tlen)
	putbe16(d, 4, h.Id)
	putbe16(d, 6, h.Foff)
	d[8] = h.Ttl
	d[9] = h.Proto
	putbe16(d, 10, h.Csum)
	putbe32(d, 12, uint32(h.Sip))
	putbe32(d, 16, uint32(h.Dip))
}

type Udphdr_t struct {
	Sport uint16
	Dport uint16
	Ulen  uint16
	Csum  uint16
}

func (h *Udphdr_t) Unmarshal(d []uint8) {
	h.Sport = getbe16(d, 0)
	h.Dport = getbe16(d, 2)
	h.Ulen = getbe16(d, 4)
	h.Csum = getbe16(d, 6)
}

func (h *Udphdr_t) Marshal(d []uint8) {
	putbe16(d, 0, h.Sport)
	putbe16(d, 2, h.Dport)
	putbe16(d, 4, h.Ulen)
	putbe16(d, 6, h.Csum)
}

// in_cksum is the internet checksum: the one's complement of the one's
// complement sum of b as big-endian 16-bit words.
func in_cksum(b []uint8) uint16 {
	var sum uint32
	i := 0
	for ; i+1 < len(b); i += 2 {
		sum += uint32(getbe16(b, i))
	}
	if i < len(b) {
		sum += uint32(b[i]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}
