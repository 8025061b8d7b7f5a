// kboot boots a kernel instance from a YAML config: physical memory,
// a disk image (formatted on first use), and optionally the network.
// It then runs a short exercise through the syscall surface and prints
// subsystem stats.
package main

import (
	"flag"
	"fmt"
	stdnet "net"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/kings099/MIT-6.1810-Xv6/bnet"
	"github.com/kings099/MIT-6.1810-Xv6/defs"
	"github.com/kings099/MIT-6.1810-Xv6/e1000"
	"github.com/kings099/MIT-6.1810-Xv6/fs"
	"github.com/kings099/MIT-6.1810-Xv6/kernel"
	"github.com/kings099/MIT-6.1810-Xv6/mem"
	"github.com/kings099/MIT-6.1810-Xv6/proc"
)

type diskconf_t struct {
	Image  string `yaml:"image"` // empty means an in-memory disk
	Blocks int    `yaml:"blocks"`
	Inodes int    `yaml:"inodes"`
	Format bool   `yaml:"format"` // reformat even if an fs is present
}

type netconf_t struct {
	Enabled bool   `yaml:"enabled"`
	Mac     string `yaml:"mac"`
	Ip      string `yaml:"ip"`
	Gwmac   string `yaml:"gwmac"`
}

type conf_t struct {
	Memory     string     `yaml:"memory"`
	Superpages int        `yaml:"superpages"`
	Disk       diskconf_t `yaml:"disk"`
	Net        netconf_t  `yaml:"net"`
}

func defaults() conf_t {
	return conf_t{
		Memory:     "64 MiB",
		Superpages: 8,
		Disk:       diskconf_t{Blocks: 2000, Inodes: 200},
		Net: netconf_t{
			Enabled: true,
			Mac:     "52:54:00:12:34:56",
			Ip:      "10.0.2.15",
			Gwmac:   "52:55:0a:00:02:02",
		},
	}
}

func readconf(path string) (conf_t, error) {
	c := defaults()
	if path == "" {
		return c, nil
	}
	d, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(d, &c); err != nil {
		return c, err
	}
	return c, nil
}

func parsemac(s string) (e1000.Mac_t, error) {
	var m e1000.Mac_t
	hw, err := stdnet.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return m, fmt.Errorf("bad mac %q", s)
	}
	copy(m[:], hw)
	return m, nil
}

func parseip(s string) (bnet.Ip4_t, error) {
	ip := stdnet.ParseIP(s).To4()
	if ip == nil {
		return 0, fmt.Errorf("bad ip %q", s)
	}
	return bnet.Ip4(ip[0], ip[1], ip[2], ip[3]), nil
}

const ubuf = uintptr(0x10000)

// write a file through the syscall surface and read it back
func fsdemo(k *kernel.Kernel_t, p *proc.Proc_t) error {
	msg := []uint8("written at boot\n")
	if err := p.Copyout(ubuf, msg); err != 0 {
		return fmt.Errorf("copyout: %v", err)
	}
	fd := k.Sys_open(p, "/boot.log", defs.O_CREATE|defs.O_RDWR)
	if fd < 0 {
		return fmt.Errorf("open: %v", fd)
	}
	if n := k.Sys_write(p, fd, ubuf, len(msg)); n != len(msg) {
		return fmt.Errorf("write: %v", n)
	}
	k.Sys_close(p, fd)

	fd = k.Sys_open(p, "/boot.log", defs.O_RDONLY)
	if fd < 0 {
		return fmt.Errorf("reopen: %v", fd)
	}
	n := k.Sys_read(p, fd, ubuf+uintptr(defs.PGSIZE/2), defs.PGSIZE/2)
	k.Sys_close(p, fd)
	if n < len(msg) {
		return fmt.Errorf("read: %v", n)
	}
	back := make([]uint8, n)
	p.Copyin(back, ubuf+uintptr(defs.PGSIZE/2))
	fmt.Printf("fs: /boot.log is %v: %q\n",
		humanize.IBytes(uint64(n)), back)
	return nil
}

// netdemo plays the host's side of the wire: deliver a datagram into the
// RX ring, receive and echo it through the syscalls, then drain the TX
// ring and check the echo.
func netdemo(k *kernel.Kernel_t, p *proc.Proc_t, ip bnet.Ip4_t,
	mac, gwmac e1000.Mac_t) error {
	const port, hport = 2000, 26099
	hostip := bnet.Ip4(10, 0, 2, 2)
	if r := k.Sys_bind(p, port); r != 0 {
		return fmt.Errorf("bind: %v", r)
	}
	defer k.Sys_unbind(p, port)

	payload := []uint8("ping over the wire")
	f := make([]uint8, bnet.ETHERLEN+bnet.IP4LEN+bnet.UDPLEN+len(payload))
	eh := bnet.Etherhdr_t{Dst: mac, Src: gwmac, Etype: bnet.ETH_IP4}
	eh.Marshal(f)
	ih := bnet.Ip4hdr_t{
		Vihl:  4<<4 | bnet.IP4LEN/4,
		Tlen:  uint16(bnet.IP4LEN + bnet.UDPLEN + len(payload)),
		Ttl:   64,
		Proto: bnet.IPPROTO_UDP,
		Sip:   hostip,
		Dip:   ip,
	}
	ih.Marshal(f[bnet.ETHERLEN:])
	uh := bnet.Udphdr_t{
		Sport: hport,
		Dport: port,
		Ulen:  uint16(bnet.UDPLEN + len(payload)),
	}
	uh.Marshal(f[bnet.ETHERLEN+bnet.IP4LEN:])
	copy(f[bnet.ETHERLEN+bnet.IP4LEN+bnet.UDPLEN:], payload)
	if !k.Nic.Hw_rxdeliver(f) {
		return fmt.Errorf("rx ring rejected the frame")
	}

	srcva, sportva, bufva := ubuf, ubuf+8, ubuf+16
	n := k.Sys_recv(p, port, srcva, sportva, bufva, 64)
	if n != len(payload) {
		return fmt.Errorf("recv: %v", n)
	}
	got := make([]uint8, n)
	p.Copyin(got, bufva)
	fmt.Printf("net: received %q\n", got)

	if r := k.Sys_send(p, port, hostip, hport, bufva, n); r != 0 {
		return fmt.Errorf("send: %v", r)
	}
	frames := k.Nic.Hw_txdrain()
	if len(frames) != 1 {
		return fmt.Errorf("%v frames on the wire", len(frames))
	}
	echo := frames[0][bnet.ETHERLEN+bnet.IP4LEN+bnet.UDPLEN:]
	fmt.Printf("net: echoed %q back to the host\n", echo)
	return nil
}

func run() error {
	cpath := flag.String("c", "", "YAML config path")
	flag.Parse()

	c, err := readconf(*cpath)
	if err != nil {
		return err
	}
	membytes, err := humanize.ParseBytes(c.Memory)
	if err != nil {
		return fmt.Errorf("memory %q: %v", c.Memory, err)
	}

	phys := mem.Phys_new(int(membytes), c.Superpages)
	fmt.Printf("mem: %v, %v superpages\n",
		humanize.IBytes(uint64(phys.Memtotal())), c.Superpages)

	var disk fs.Disk_i
	fresh := true
	if c.Disk.Image == "" {
		disk = fs.MkMemdisk(c.Disk.Blocks)
	} else {
		fd, err := fs.MkFiledisk(c.Disk.Image, c.Disk.Blocks)
		if err != nil {
			return err
		}
		defer fd.Close()
		disk = fd
		fresh = c.Disk.Format || !fs.Probe(fd)
	}
	if fresh {
		sb := fs.Mkfs(disk, c.Disk.Blocks, c.Disk.Inodes)
		fmt.Printf("fs: formatted %v blocks (%v)\n", c.Disk.Blocks,
			humanize.IBytes(uint64(c.Disk.Blocks)*defs.BSIZE))
		fmt.Printf("fs: %v\n", sb)
	}

	k := kernel.Mkkernel(phys, disk)
	var mac, gwmac e1000.Mac_t
	var ip bnet.Ip4_t
	if c.Net.Enabled {
		if mac, err = parsemac(c.Net.Mac); err != nil {
			return err
		}
		if gwmac, err = parsemac(c.Net.Gwmac); err != nil {
			return err
		}
		if ip, err = parseip(c.Net.Ip); err != nil {
			return err
		}
		k.Attach_net(mac, ip, gwmac)
		fmt.Printf("net: %v at %v\n", ip, mac)
	}

	p := k.Proc_new()
	if err := p.Uvmalloc(ubuf, defs.PGSIZE, proc.PTE_R|proc.PTE_W); err != 0 {
		return fmt.Errorf("uvmalloc: %v", err)
	}

	if err := fsdemo(k, p); err != nil {
		return err
	}
	if c.Net.Enabled {
		if err := netdemo(k, p, ip, mac, gwmac); err != nil {
			return err
		}
	}
	k.Proc_free(p)

	free, _ := phys.Pgcount()
	fmt.Printf("%v (%v free)\n", phys.Stats(),
		humanize.IBytes(uint64(free*defs.PGSIZE)))
	fmt.Printf("%v\n", k.Fs.Stats())
	fmt.Printf("%v\n", disk.Stats())
	if c.Net.Enabled {
		fmt.Printf("%v\n", k.Nic.Stats())
		fmt.Printf("%v\n", k.Net.Stats())
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kboot: %v\n", err)
		os.Exit(1)
	}
}
