package tarfs

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

const (
	FilesMax    = 8
	FileDataMax = 1024
	SectorSize  = 512
	// room for every file's header and its largest data
	DiskSize = FilesMax * (HeaderSize + FileDataMax)
)

var (
	ErrBadMagic = errors.New("invalid tar header")
	ErrNotFound = errors.New("file not found")
	ErrFull     = errors.New("file table full")
	ErrTooLarge = errors.New("file too large")
	ErrBadName  = errors.New("bad file name")
)

// BlockDev transfers whole sectors.
type BlockDev interface {
	ReadWrite(buf []byte, sector uint64, write bool) error
}

type File struct {
	InUse bool
	Name  string
	Data  [FileDataMax]byte
	Size  int
}

func (f *File) Bytes() []byte {
	return f.Data[:f.Size]
}

// FS mirrors a USTAR archive at the start of a block device into a fixed
// file table. Writes go to the table and reach the disk on Flush.
type FS struct {
	dev   BlockDev
	log   *slog.Logger
	files [FilesMax]File
	disk  [DiskSize]byte
}

func New(dev BlockDev, log *slog.Logger) *FS {
	if log == nil {
		log = slog.Default()
	}
	return &FS{dev: dev, log: log}
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}

func (fs *FS) readDisk() error {
	for sector := 0; sector < DiskSize/SectorSize; sector++ {
		buf := fs.disk[sector*SectorSize : (sector+1)*SectorSize]
		if err := fs.dev.ReadWrite(buf, uint64(sector), false); err != nil {
			return errors.Wrapf(err, "reading sector %d", sector)
		}
	}
	return nil
}

// Load reads the archive and replaces the file table with its entries. It
// stops at the first empty name.
func (fs *FS) Load() error {
	if err := fs.readDisk(); err != nil {
		return err
	}
	fs.files = [FilesMax]File{}
	off := 0
	for i := 0; i < FilesMax && off+HeaderSize <= DiskSize; i++ {
		block := fs.disk[off : off+HeaderSize]
		if block[0] == 0 {
			break
		}
		h, err := UnpackHeader(block)
		if err != nil {
			return err
		}
		if magic := cstring(h.Magic); magic != Magic && magic != MagicGNU {
			return errors.Wrapf(ErrBadMagic, "magic=%q", magic)
		}
		size, err := parseOctal(h.Size)
		if err != nil {
			return err
		}
		name := cstring(h.Name)
		if size > FileDataMax || off+HeaderSize+int(size) > DiskSize {
			return errors.Wrapf(ErrTooLarge, "%s: size=%d", name, size)
		}
		f := &fs.files[i]
		f.InUse = true
		f.Name = name
		f.Size = int(size)
		copy(f.Data[:], fs.disk[off+HeaderSize:off+HeaderSize+f.Size])
		fs.log.Info("file", "name", f.Name, "size", f.Size)
		off += alignUp(HeaderSize+f.Size, SectorSize)
	}
	return nil
}

// Flush rewrites the whole archive region from the file table.
func (fs *FS) Flush() error {
	fs.disk = [DiskSize]byte{}
	off := 0
	for i := range fs.files {
		f := &fs.files[i]
		if !f.InUse {
			continue
		}
		block, err := NewHeader(f.Name, int64(f.Size))
		if err != nil {
			return err
		}
		copy(fs.disk[off:], block)
		copy(fs.disk[off+HeaderSize:], f.Bytes())
		off += alignUp(HeaderSize+f.Size, SectorSize)
	}
	for sector := 0; sector < DiskSize/SectorSize; sector++ {
		buf := fs.disk[sector*SectorSize : (sector+1)*SectorSize]
		if err := fs.dev.ReadWrite(buf, uint64(sector), true); err != nil {
			return errors.Wrapf(err, "writing sector %d", sector)
		}
	}
	fs.log.Debug("flushed file system", "bytes", off)
	return nil
}

// Lookup returns the in-use file called name, or nil.
func (fs *FS) Lookup(name string) *File {
	for i := range fs.files {
		f := &fs.files[i]
		if f.InUse && f.Name == name {
			return f
		}
	}
	return nil
}

// Create returns an empty file in the first free slot.
func (fs *FS) Create(name string) (*File, error) {
	if name == "" || len(name) > NameMax || strings.IndexByte(name, 0) >= 0 {
		return nil, errors.Wrapf(ErrBadName, "%q", name)
	}
	for i := range fs.files {
		f := &fs.files[i]
		if !f.InUse {
			*f = File{InUse: true, Name: name}
			return f, nil
		}
	}
	return nil, ErrFull
}

// Read copies at most len(p) bytes of name into p.
func (fs *FS) Read(name string, p []byte) (int, error) {
	f := fs.Lookup(name)
	if f == nil {
		return 0, errors.Wrap(ErrNotFound, name)
	}
	return copy(p, f.Bytes()), nil
}

// Write replaces the contents of name, creating it if needed, and flushes
// the archive. When the flush fails the file table is left as it was.
func (fs *FS) Write(name string, p []byte) (int, error) {
	if len(p) > FileDataMax {
		return 0, errors.Wrapf(ErrTooLarge, "%s: %d bytes", name, len(p))
	}
	saved := fs.files
	f := fs.Lookup(name)
	if f == nil {
		var err error
		if f, err = fs.Create(name); err != nil {
			return 0, err
		}
	}
	f.Size = copy(f.Data[:], p)
	if err := fs.Flush(); err != nil {
		fs.files = saved
		return 0, err
	}
	return len(p), nil
}

// Files lists the in-use entries in table order.
func (fs *FS) Files() []*File {
	var out []*File
	for i := range fs.files {
		if fs.files[i].InUse {
			out = append(out, &fs.files[i])
		}
	}
	return out
}
