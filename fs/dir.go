package fs

import (
	"github.com/kings099/MIT-6.1810-Xv6/defs"
)

// a directory is a file of direntsz-byte entries: inum, then the name
const direntsz = 2 + DIRSIZ

// Dirent_t is one directory entry; Inum 0 means the slot is free.
type Dirent_t struct {
	Inum defs.Inum_t
	Name string
}

func (de *Dirent_t) unmarshal(d []uint8) {
	de.Inum = defs.Inum_t(readle16(d, 0))
	n := 0
	for n < DIRSIZ && d[2+n] != 0 {
		n++
	}
	de.Name = string(d[2 : 2+n])
}

func (de *Dirent_t) marshal(d []uint8) {
	putle16(d, 0, uint16(de.Inum))
	for i := 0; i < DIRSIZ; i++ {
		d[2+i] = 0
	}
	copy(d[2:2+DIRSIZ], de.Name)
}

// Dirlookup finds name in the locked directory dp, returning the entry's
// inode (ref'd, unlocked) and its byte offset.
func (dp *Inode_t) Dirlookup(name string) (*Inode_t, int) {
	if dp.Type != defs.T_DIR {
		panic("dirlookup: not a dir")
	}
	var de Dirent_t
	var buf [direntsz]uint8
	for off := 0; off < int(dp.Size); off += direntsz {
		if dp.Readi(buf[:], off) != direntsz {
			panic("dirlookup: short read")
		}
		de.unmarshal(buf[:])
		if de.Inum == 0 {
			continue
		}
		if de.Name == name {
			return dp.fs.Iget(dp.Dev, de.Inum), off
		}
	}
	return nil, 0
}

// Dirlink adds (name, inum) to the locked directory dp, reusing a free
// slot if one exists. Fails if name is already present.
func (dp *Inode_t) Dirlink(name string, inum defs.Inum_t) defs.Err_t {
	if ip, _ := dp.Dirlookup(name); ip != nil {
		ip.Iput()
		return -defs.EEXIST
	}
	var de Dirent_t
	var buf [direntsz]uint8
	off := 0
	for ; off < int(dp.Size); off += direntsz {
		if dp.Readi(buf[:], off) != direntsz {
			panic("dirlink: short read")
		}
		de.unmarshal(buf[:])
		if de.Inum == 0 {
			break
		}
	}
	de.Inum = inum
	de.Name = name
	de.marshal(buf[:])
	if dp.Writei(buf[:], off) != direntsz {
		panic("dirlink: short write")
	}
	return 0
}

// Isdirempty reports whether the locked directory holds only "." and
// "..".
func (dp *Inode_t) Isdirempty() bool {
	var de Dirent_t
	var buf [direntsz]uint8
	for off := 2 * direntsz; off < int(dp.Size); off += direntsz {
		if dp.Readi(buf[:], off) != direntsz {
			panic("isdirempty: short read")
		}
		de.unmarshal(buf[:])
		if de.Inum != 0 {
			return false
		}
	}
	return true
}

// skipelem splits "a/bb/c" into the first element "a" and the rest
// "bb/c", eating extra slashes. ok is false when the path is exhausted.
func skipelem(path string) (string, string, bool) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i == len(path) {
		return "", "", false
	}
	s := i
	for i < len(path) && path[i] != '/' {
		i++
	}
	name := path[s:i]
	if len(name) > DIRSIZ {
		name = name[:DIRSIZ]
	}
	for i < len(path) && path[i] == '/' {
		i++
	}
	return name, path[i:], true
}

// namex walks path from cwd (or the root for absolute paths). With
// parent set it stops one level early and also returns the final
// element. The returned inode is ref'd and unlocked.
func (fs *Fs_t) namex(cwd *Inode_t, path string, parent bool) (*Inode_t, string) {
	var ip *Inode_t
	if len(path) > 0 && path[0] == '/' {
		ip = fs.Iget(fs.dev, ROOTINO)
	} else {
		if cwd == nil {
			panic("namex: no cwd")
		}
		ip = cwd.Idup()
	}
	name, rest, ok := skipelem(path)
	for ; ok; name, rest, ok = skipelem(rest) {
		ip.Ilock()
		if ip.Type != defs.T_DIR {
			ip.Iunlockput()
			return nil, ""
		}
		if parent && rest == "" {
			ip.Iunlock()
			return ip, name
		}
		next, _ := ip.Dirlookup(name)
		if next == nil {
			ip.Iunlockput()
			return nil, ""
		}
		ip.Iunlockput()
		ip = next
	}
	if parent {
		// path had no final element ("/", "", "////")
		ip.Iput()
		return nil, ""
	}
	return ip, ""
}

// Namei resolves path to an inode.
func (fs *Fs_t) Namei(cwd *Inode_t, path string) *Inode_t {
	ip, _ := fs.namex(cwd, path, false)
	return ip
}

// Nameiparent resolves path to its parent directory and the final path
// element.
func (fs *Fs_t) Nameiparent(cwd *Inode_t, path string) (*Inode_t, string) {
	return fs.namex(cwd, path, true)
}
