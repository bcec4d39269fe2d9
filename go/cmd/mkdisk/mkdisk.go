package mkdisk

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/cmd"
	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/tarfs"
	"github.com/tinyrv/rvkern/go/virtio"
)

// sectorDev drives a disk image directly, without a virtio queue.
type sectorDev struct {
	disk virtio.Disk
}

func (s sectorDev) ReadWrite(buf []byte, sector uint64, write bool) error {
	off := int64(sector) * virtio.SectorSize
	var err error
	if write {
		_, err = s.disk.WriteAt(buf, off)
	} else {
		_, err = s.disk.ReadAt(buf, off)
	}
	return errors.Wrapf(err, "sector %d", sector)
}

// Build writes files into a fresh image at path, named by their base names.
// An existing image is rewritten from scratch.
func Build(path string, files []string, config *models.Config) error {
	if len(files) > tarfs.FilesMax {
		return errors.Errorf("%d files given, the disk holds %d", len(files), tarfs.FilesMax)
	}
	disk, err := virtio.OpenFileDisk(path, tarfs.DiskSize, true)
	if err != nil {
		return err
	}
	defer disk.Close()
	if disk.Size() < tarfs.DiskSize {
		return errors.Errorf("disk image %s is %d bytes, need %d", path, disk.Size(), tarfs.DiskSize)
	}
	fs := tarfs.New(sectorDev{disk}, config.Logger())
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return errors.Wrap(err, "reading file")
		}
		if _, err := fs.Write(filepath.Base(name), data); err != nil {
			return errors.Wrapf(err, "adding %s", name)
		}
	}
	return fs.Flush()
}

func Main(args []string) {
	fs := flag.NewFlagSet("mkdisk", flag.ExitOnError)
	out := fs.String("o", "disk.tar", "disk image to write")
	verbose := fs.Bool("v", false, "log each file as it is added")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [file...]\n", args[0])
		fs.PrintDefaults()
	}
	fs.Parse(args[1:])

	config := models.DefaultConfig()
	config.Verbose = *verbose
	if err := Build(*out, fs.Args(), config); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() { cmd.Register("mkdisk", "build a disk image from host files", Main) }
