package bnet

import (
	"testing"
	"time"

	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/e1000"
	"github.com/kings099/MIT-6.1810-Xv6/mem"
)

var (
	lmac  = e1000.Mac_t{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	gwmac = e1000.Mac_t{0x52, 0x55, 0x0a, 0x00, 0x02, 0x02}
	lip   = Ip4(10, 0, 2, 15)
	hip   = Ip4(10, 0, 2, 2)
)

// fakenic_t records transmitted frames and frees their pages, like a
// driver whose transmissions always complete at once.
type fakenic_t struct {
	phys   *mem.Physmem_t
	frames [][]uint8
	full   bool
}

func (f *fakenic_t) Transmit(pa mem.Pa_t, length int) int {
	if f.full {
		return -1
	}
	fr := make([]uint8, length)
	copy(fr, f.phys.Dmaplen(pa, length))
	f.frames = append(f.frames, fr)
	f.phys.Page_free(pa)
	return 0
}

func mknet(t *testing.T) (*Net_t, *fakenic_t, *mem.Physmem_t) {
	t.Helper()
	phys := mem.Phys_new(8<<20, 0)
	nic := &fakenic_t{phys: phys}
	return Mknet(phys, nic, lmac, lip, gwmac), nic, phys
}

// hand the stack a frame the way the driver would: in a page it owns
func inject(t *testing.T, n *Net_t, frame []uint8) {
	t.Helper()
	pa, ok := n.phys.Page_alloc()
	if !ok {
		t.Fatalf("no memory")
	}
	copy(n.phys.Dmap(pa)[:], frame)
	n.Net_rx(pa, len(frame))
}

func mkudp(sip Ip4_t, sport uint16, dport uint16, payload []uint8) []uint8 {
	f := make([]uint8, hdrlen+len(payload))
	eh := Etherhdr_t{Dst: lmac, Src: gwmac, Etype: ETH_IP4}
	eh.Marshal(f)
	ih := Ip4hdr_t{
		Vihl:  4<<4 | IP4LEN/4,
		Tlen:  uint16(IP4LEN + UDPLEN + len(payload)),
		Ttl:   64,
		Proto: IPPROTO_UDP,
		Sip:   sip,
		Dip:   lip,
	}
	ih.Marshal(f[ETHERLEN:])
	putbe16(f, ETHERLEN+10, in_cksum(f[ETHERLEN:ETHERLEN+IP4LEN]))
	uh := Udphdr_t{Sport: sport, Dport: dport, Ulen: uint16(UDPLEN + len(payload))}
	uh.Marshal(f[ETHERLEN+IP4LEN:])
	copy(f[hdrlen:], payload)
	return f
}

func TestBindUnbind(t *testing.T) {
	n, _, _ := mknet(t)
	if err := n.Bind(2000); err != 0 {
		t.Fatalf("bind: %v", err)
	}
	if err := n.Bind(2000); err != -defs.EADDRINUSE {
		t.Fatalf("double bind: %v", err)
	}
	if err := n.Unbind(2000); err != 0 {
		t.Fatalf("unbind: %v", err)
	}
	if err := n.Bind(2000); err != 0 {
		t.Fatalf("rebind: %v", err)
	}
	// the table holds SOCK_MAX sockets
	for p := uint16(3000); p < 3000+SOCK_MAX-1; p++ {
		if err := n.Bind(p); err != 0 {
			t.Fatalf("bind %v: %v", p, err)
		}
	}
	if err := n.Bind(4000); err != -defs.EMFILE {
		t.Fatalf("bind past table: %v", err)
	}
}

func TestUdpDeliver(t *testing.T) {
	n, _, phys := mknet(t)
	free0, _ := phys.Pgcount()
	n.Bind(2000)

	inject(t, n, mkudp(hip, 26099, 2000, []uint8{'h', 'i'}))

	buf := make([]uint8, 64)
	c, sip, sport, err := n.Recv(2000, buf)
	if err != 0 {
		t.Fatalf("recv: %v", err)
	}
	if c != 2 || string(buf[:c]) != "hi" {
		t.Fatalf("payload %q", buf[:c])
	}
	if sip != hip || sport != 26099 {
		t.Fatalf("sender %v:%v", sip, sport)
	}
	if f, _ := phys.Pgcount(); f != free0 {
		t.Fatalf("leaked %v pages", free0-f)
	}
}

func TestUnboundPortDropped(t *testing.T) {
	n, _, phys := mknet(t)
	free0, _ := phys.Pgcount()
	inject(t, n, mkudp(hip, 1, 9999, []uint8{1}))
	if f, _ := phys.Pgcount(); f != free0 {
		t.Fatalf("dropped frame leaked its page")
	}
	if n.stats.baddrops != 1 {
		t.Fatalf("baddrops %v", n.stats.baddrops)
	}
}

func TestQueueBoundFifo(t *testing.T) {
	n, _, _ := mknet(t)
	n.Bind(2000)
	for i := 0; i < QUEUE_MAX+3; i++ {
		inject(t, n, mkudp(hip, 1000, 2000, []uint8{uint8(i)}))
	}
	if n.stats.qdrops != 3 {
		t.Fatalf("qdrops %v", n.stats.qdrops)
	}
	// the survivors are the first QUEUE_MAX, in arrival order
	buf := make([]uint8, 8)
	for i := 0; i < QUEUE_MAX; i++ {
		c, _, _, err := n.Recv(2000, buf)
		if err != 0 || c != 1 {
			t.Fatalf("recv %v: c %v err %v", i, c, err)
		}
		if buf[0] != uint8(i) {
			t.Fatalf("datagram %v out of order: %v", i, buf[0])
		}
	}
}

func TestRecvBlocks(t *testing.T) {
	n, _, _ := mknet(t)
	n.Bind(2000)
	done := make(chan string)
	go func() {
		buf := make([]uint8, 16)
		c, _, _, err := n.Recv(2000, buf)
		if err != 0 {
			done <- "error"
			return
		}
		done <- string(buf[:c])
	}()
	select {
	case <-done:
		t.Fatalf("recv returned with nothing queued")
	case <-time.After(10 * time.Millisecond):
	}
	inject(t, n, mkudp(hip, 7, 2000, []uint8("wake")))
	if got := <-done; got != "wake" {
		t.Fatalf("got %q", got)
	}
}

func TestUnbindWakesReceiver(t *testing.T) {
	n, _, _ := mknet(t)
	n.Bind(2000)
	done := make(chan defs.Err_t)
	go func() {
		buf := make([]uint8, 16)
		_, _, _, err := n.Recv(2000, buf)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := n.Unbind(2000); err != 0 {
		t.Fatalf("unbind: %v", err)
	}
	select {
	case err := <-done:
		if err != -defs.EBADF {
			t.Fatalf("woken recv returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("recv still asleep after unbind")
	}
}

func TestUnbindFreesQueue(t *testing.T) {
	n, _, phys := mknet(t)
	free0, _ := phys.Pgcount()
	n.Bind(2000)
	for i := 0; i < 5; i++ {
		inject(t, n, mkudp(hip, 1, 2000, []uint8{uint8(i)}))
	}
	n.Unbind(2000)
	if f, _ := phys.Pgcount(); f != free0 {
		t.Fatalf("unbind leaked %v pages", free0-f)
	}
}

func TestSendFrameFormat(t *testing.T) {
	n, nic, _ := mknet(t)
	pay := []uint8("ping")
	if err := n.Send(2000, hip, 26099, pay); err != 0 {
		t.Fatalf("send: %v", err)
	}
	if len(nic.frames) != 1 {
		t.Fatalf("%v frames", len(nic.frames))
	}
	f := nic.frames[0]
	var eh Etherhdr_t
	eh.Unmarshal(f)
	if eh.Dst != gwmac || eh.Src != lmac || eh.Etype != ETH_IP4 {
		t.Fatalf("bad ether header %+v", eh)
	}
	var ih Ip4hdr_t
	ih.Unmarshal(f[ETHERLEN:])
	if ih.Vihl != 4<<4|5 || ih.Proto != IPPROTO_UDP || ih.Ttl != IPDEFTTL {
		t.Fatalf("bad ip header %+v", ih)
	}
	if ih.Sip != lip || ih.Dip != hip {
		t.Fatalf("bad addresses %v -> %v", ih.Sip, ih.Dip)
	}
	if int(ih.Tlen) != IP4LEN+UDPLEN+len(pay) {
		t.Fatalf("bad tlen %v", ih.Tlen)
	}
	// a valid header checksums to zero
	if in_cksum(f[ETHERLEN:ETHERLEN+IP4LEN]) != 0 {
		t.Fatalf("ip checksum does not verify")
	}
	var uh Udphdr_t
	uh.Unmarshal(f[ETHERLEN+IP4LEN:])
	if uh.Sport != 2000 || uh.Dport != 26099 ||
		int(uh.Ulen) != UDPLEN+len(pay) {
		t.Fatalf("bad udp header %+v", uh)
	}
	if string(f[hdrlen:]) != "ping" {
		t.Fatalf("payload %q", f[hdrlen:])
	}
}

func TestSendRingFull(t *testing.T) {
	n, nic, phys := mknet(t)
	nic.full = true
	free0, _ := phys.Pgcount()
	if err := n.Send(1, hip, 2, []uint8{0}); err != -defs.EAGAIN {
		t.Fatalf("send into full ring: %v", err)
	}
	if f, _ := phys.Pgcount(); f != free0 {
		t.Fatalf("failed send leaked its page")
	}
}

func TestArpAnsweredOnce(t *testing.T) {
	n, nic, _ := mknet(t)
	req := make([]uint8, ETHERLEN+ARPLEN)
	bcast := e1000.Mac_t{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	eh := Etherhdr_t{Dst: bcast, Src: gwmac, Etype: ETH_ARP}
	eh.Marshal(req)
	ah := Arphdr_t{
		Htype: ARP_HTYPE_ETH,
		Ptype: ETH_IP4,
		Hlen:  6,
		Plen:  4,
		Op:    ARP_OP_REQ,
		Sha:   gwmac,
		Sip:   hip,
		Tip:   lip,
	}
	ah.Marshal(req[ETHERLEN:])

	inject(t, n, req)
	inject(t, n, req)

	if len(nic.frames) != 1 {
		t.Fatalf("%v arp replies", len(nic.frames))
	}
	var reh Etherhdr_t
	reh.Unmarshal(nic.frames[0])
	if reh.Dst != gwmac || reh.Src != lmac || reh.Etype != ETH_ARP {
		t.Fatalf("bad reply ether header %+v", reh)
	}
	var rah Arphdr_t
	rah.Unmarshal(nic.frames[0][ETHERLEN:])
	if rah.Op != ARP_OP_REPLY || rah.Sha != lmac || rah.Sip != lip ||
		rah.Tha != gwmac || rah.Tip != hip {
		t.Fatalf("bad reply arp %+v", rah)
	}
}

func TestArpForOtherIpIgnored(t *testing.T) {
	n, nic, _ := mknet(t)
	req := make([]uint8, ETHERLEN+ARPLEN)
	eh := Etherhdr_t{Dst: lmac, Src: gwmac, Etype: ETH_ARP}
	eh.Marshal(req)
	ah := Arphdr_t{
		Htype: ARP_HTYPE_ETH, Ptype: ETH_IP4, Hlen: 6, Plen: 4,
		Op: ARP_OP_REQ, Sha: gwmac, Sip: hip, Tip: Ip4(10, 0, 2, 99),
	}
	ah.Marshal(req[ETHERLEN:])
	inject(t, n, req)
	if len(nic.frames) != 0 {
		t.Fatalf("answered arp for someone else")
	}
}

func TestShortFramesDropped(t *testing.T) {
	n, _, phys := mknet(t)
	free0, _ := phys.Pgcount()
	inject(t, n, []uint8{1, 2, 3})                    // truncated ether
	inject(t, n, mkudp(hip, 1, 2000, nil)[:ETHERLEN+4]) // truncated ip
	if f, _ := phys.Pgcount(); f != free0 {
		t.Fatalf("short frames leaked pages")
	}
}
