package virtio

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Disk is the storage behind a Device.
type Disk interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

// MemDisk is a fixed-size in-memory disk.
type MemDisk struct {
	mu   sync.Mutex
	data []byte
}

func NewMemDisk(size int64) *MemDisk {
	return &MemDisk{data: make([]byte, size)}
}

// MemDiskFrom wraps an existing image. The slice is used in place.
func MemDiskFrom(data []byte) *MemDisk {
	return &MemDisk{data: data}
}

func (d *MemDisk) Size() int64 { return int64(len(d.data)) }

func (d *MemDisk) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off < 0 || off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *MemDisk) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(d.data)) {
		return 0, errors.Errorf("write of %d bytes at %d past end of disk", len(p), off)
	}
	return copy(d.data[off:], p), nil
}

// Bytes returns a copy of the disk contents.
func (d *MemDisk) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.data...)
}

// FileDisk is a disk image file. Its size is fixed when it is opened.
type FileDisk struct {
	*os.File
	size int64
}

// OpenFileDisk opens path. With create set, a missing image is created
// with size bytes of zeroes.
func OpenFileDisk(path string, size int64, create bool) (*FileDisk, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "opening disk image")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat disk image")
	}
	if fi.Size() == 0 && create {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "sizing disk image")
		}
		fi, _ = f.Stat()
	}
	if fi.Size()%SectorSize != 0 {
		f.Close()
		return nil, errors.Errorf("disk image %s is %d bytes, not a whole number of sectors", path, fi.Size())
	}
	return &FileDisk{File: f, size: fi.Size()}, nil
}

func (d *FileDisk) Size() int64 { return d.size }
