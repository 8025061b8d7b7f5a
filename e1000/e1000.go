// Package e1000 is a register-level model of the Intel 82540 NIC and its
// driver. The driver side (Transmit, Intr) follows the real programming
// model: descriptor rings in memory, producer/consumer indexes in device
// registers, DD status bits for completion. The device side (Hw_*) stands
// in for the wire and is driven by tests and the loopback harness.
package e1000

import (
	"fmt"
	"sync"

	"github.com/kings099/MIT-6.1810-Xv6/mem"
)

const (
	NTX = 16
	NRX = 16

	// largest frame a ring buffer holds; buffers are one page
	MAXFRAME = 1518
)

// register indexes (byte offset / 4)
const (
	CTL   = 0x00000 / 4
	ICR   = 0x000c0 / 4
	IMS   = 0x000d0 / 4
	IMC   = 0x000d8 / 4
	RCTL  = 0x00100 / 4
	TCTL  = 0x00400 / 4
	TIPG  = 0x00410 / 4
	RDBAL = 0x02800 / 4
	RDBAH = 0x02804 / 4
	RDLEN = 0x02808 / 4
	RDH   = 0x02810 / 4
	RDT   = 0x02818 / 4
	RDTR  = 0x02820 / 4
	RADV  = 0x0282c / 4
	TDBAL = 0x03800 / 4
	TDBAH = 0x03804 / 4
	TDLEN = 0x03808 / 4
	TDH   = 0x03810 / 4
	TDT   = 0x03818 / 4
	MTA   = 0x05200 / 4
	RA    = 0x05400 / 4

	NREGS = 0x06000 / 4
)

const (
	CTL_RST = 1 << 26

	TCTL_EN         = 1 << 1
	TCTL_PSP        = 1 << 3
	TCTL_CT_SHIFT   = 4
	TCTL_COLD_SHIFT = 12

	RCTL_EN      = 1 << 1
	RCTL_BAM     = 1 << 15
	RCTL_SZ_2048 = 0 << 16
	RCTL_SECRC   = 1 << 26

	IMS_RXT0 = 1 << 7

	RAV = 1 << 31 // address valid, in the high RA word
)

const (
	TXD_STAT_DD = 1 << 0
	TXD_CMD_EOP = 1 << 0
	TXD_CMD_RS  = 1 << 3

	RXD_STAT_DD  = 1 << 0
	RXD_STAT_EOP = 1 << 1
)

// legacy transmit descriptor
type txdesc_t struct {
	addr    uint64
	length  uint16
	cso     uint8
	cmd     uint8
	status  uint8
	css     uint8
	special uint16
}

// legacy receive descriptor
type rxdesc_t struct {
	addr    uint64
	length  uint16
	csum    uint16
	status  uint8
	errors  uint8
	special uint16
}

type Mac_t [6]uint8

func (m Mac_t) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		m[0], m[1], m[2], m[3], m[4], m[5])
}

var e1000_debug = false

// Nic_t is one NIC instance: registers, rings and the stashes of pages
// the driver owes back to the allocator. The lock covers all of it; it is
// dropped across the receive upcall so the stack may transmit from it.
type Nic_t struct {
	sync.Mutex
	phys   *mem.Physmem_t
	regs   [NREGS]uint32
	txring [NTX]txdesc_t
	rxring [NRX]rxdesc_t
	txbufs [NTX]mem.Pa_t
	rxbufs [NRX]mem.Pa_t
	mac    Mac_t
	netrx  func(pa mem.Pa_t, length int)

	txpkts  int
	rxpkts  int
	rxdrops int
	txfails int
}

func (n *Nic_t) rl(reg int) uint32 {
	return n.regs[reg]
}

func (n *Nic_t) rs(reg int, v uint32) {
	n.regs[reg] = v
}

// Mknic brings up a NIC with the given MAC. Every TX slot starts
// completed (DD) so the first 16 transmits find room; every RX slot gets
// a fresh page.
func Mknic(phys *mem.Physmem_t, mac Mac_t) *Nic_t {
	n := &Nic_t{phys: phys, mac: mac}

	// reset, then a device at rest
	n.rs(IMS, 0)
	n.rs(CTL, n.rl(CTL)|CTL_RST)
	n.rs(CTL, n.rl(CTL)&^CTL_RST)

	for i := range n.txring {
		n.txring[i].status = TXD_STAT_DD
		n.txbufs[i] = mem.NILPA
	}
	n.rs(TDLEN, NTX*16)
	n.rs(TDH, 0)
	n.rs(TDT, 0)

	for i := range n.rxring {
		pa, ok := phys.Page_alloc()
		if !ok {
			panic("e1000: no rx pages")
		}
		n.rxbufs[i] = pa
		n.rxring[i].addr = uint64(pa)
	}
	n.rs(RDLEN, NRX*16)
	n.rs(RDH, 0)
	n.rs(RDT, NRX-1)

	// perfect filter slot 0 gets our MAC
	n.rs(RA, uint32(mac[0])|uint32(mac[1])<<8|
		uint32(mac[2])<<16|uint32(mac[3])<<24)
	n.rs(RA+1, uint32(mac[4])|uint32(mac[5])<<8|RAV)
	for i := 0; i < 128; i++ {
		n.rs(MTA+i, 0)
	}

	n.rs(TCTL, TCTL_EN|TCTL_PSP|0x10<<TCTL_CT_SHIFT|0x40<<TCTL_COLD_SHIFT)
	n.rs(TIPG, 10|6<<10|4<<20)
	n.rs(RCTL, RCTL_EN|RCTL_BAM|RCTL_SZ_2048|RCTL_SECRC)

	n.rs(RDTR, 0)
	n.rs(RADV, 0)
	n.rs(IMS, IMS_RXT0)
	return n
}

func (n *Nic_t) Mac() Mac_t {
	return n.mac
}

// Set_rx registers the stack's input routine. The page passed up belongs
// to the callee.
func (n *Nic_t) Set_rx(f func(pa mem.Pa_t, length int)) {
	n.Lock()
	n.netrx = f
	n.Unlock()
}

// Transmit queues the frame in the page at pa for transmission and takes
// ownership of the page. Returns -1 if the ring is full, in which case
// the caller keeps the page.
func (n *Nic_t) Transmit(pa mem.Pa_t, length int) int {
	if length > MAXFRAME {
		panic("e1000: oversized frame")
	}
	n.Lock()
	defer n.Unlock()

	tdt := n.rl(TDT) % NTX
	d := &n.txring[tdt]
	if d.status&TXD_STAT_DD == 0 {
		// ring overflow: the device still owns this slot
		n.txfails++
		return -1
	}
	if n.txbufs[tdt] != mem.NILPA {
		// previous frame in this slot finished; free its page now
		n.phys.Page_free(n.txbufs[tdt])
		n.txbufs[tdt] = mem.NILPA
	}
	d.addr = uint64(pa)
	d.length = uint16(length)
	d.cmd = TXD_CMD_EOP | TXD_CMD_RS
	d.status = 0
	n.txbufs[tdt] = pa
	n.rs(TDT, (tdt+1)%NTX)
	n.txpkts++
	if e1000_debug {
		fmt.Printf("e1000: tx %v bytes, slot %v\n", length, tdt)
	}
	return 0
}

// Intr is the interrupt handler: ack the cause, then drain the RX ring.
func (n *Nic_t) Intr() {
	n.Lock()
	n.rs(ICR, 0xffffffff)
	n.Unlock()
	n.recv()
}

func (n *Nic_t) recv() {
	for {
		n.Lock()
		idx := (n.rl(RDT) + 1) % NRX
		d := &n.rxring[idx]
		if d.status&RXD_STAT_DD == 0 {
			n.Unlock()
			return
		}
		length := int(d.length)
		pa := n.rxbufs[idx]

		// hand the device a fresh page before passing this one up
		npa, ok := n.phys.Page_alloc()
		if !ok {
			panic("e1000: no rx pages")
		}
		n.rxbufs[idx] = npa
		d.addr = uint64(npa)
		d.status = 0
		n.rs(RDT, idx)
		n.rxpkts++
		netrx := n.netrx
		n.Unlock()

		// upcall without the lock: the stack may transmit in response
		if netrx != nil {
			netrx(pa, length)
		} else {
			n.phys.Page_free(pa)
		}
	}
}

func (n *Nic_t) Stats() string {
	n.Lock()
	defer n.Unlock()
	return fmt.Sprintf("e1000: %v tx (%v failed), %v rx (%v dropped)",
		n.txpkts, n.txfails, n.rxpkts, n.rxdrops)
}

// The device side: what the wire would do.

// Hw_txdrain completes all pending transmissions, returning the frames in
// order. Completed slots get their DD bit back.
func (n *Nic_t) Hw_txdrain() [][]uint8 {
	n.Lock()
	defer n.Unlock()
	var frames [][]uint8
	for {
		tdh := n.rl(TDH)
		if tdh == n.rl(TDT) {
			break
		}
		d := &n.txring[tdh]
		f := make([]uint8, d.length)
		copy(f, n.phys.Dmaplen(mem.Pa_t(d.addr), int(d.length)))
		frames = append(frames, f)
		d.status |= TXD_STAT_DD
		n.rs(TDH, (tdh+1)%NTX)
	}
	return frames
}

// Hw_rxdeliver places a frame in the next RX slot and raises the receive
// interrupt. If the ring is full the frame is dropped, as the device
// would.
func (n *Nic_t) Hw_rxdeliver(frame []uint8) bool {
	n.Lock()
	if len(frame) > MAXFRAME {
		n.rxdrops++
		n.Unlock()
		return false
	}
	rdh := n.rl(RDH)
	d := &n.rxring[rdh]
	if d.status&RXD_STAT_DD != 0 {
		// software hasn't consumed this slot yet
		n.rxdrops++
		n.Unlock()
		return false
	}
	pg := n.phys.Dmap(mem.Pa_t(d.addr))
	copy(pg[:], frame)
	d.length = uint16(len(frame))
	d.status = RXD_STAT_DD | RXD_STAT_EOP
	n.rs(RDH, (rdh+1)%NRX)
	intr := n.rl(IMS)&IMS_RXT0 != 0
	n.Unlock()

	if intr {
		n.Intr()
	}
	return true
}
