package mkdisk

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/tarfs"
)

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(src, []byte("hi there\n"), 0644); err != nil {
		t.Fatal(err)
	}
	config := models.DefaultConfig()
	config.Output = io.Discard
	image := filepath.Join(dir, "disk.tar")
	if err := Build(image, []string{src}, config); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(image)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	fi, _ := f.Stat()
	if fi.Size() != tarfs.DiskSize {
		t.Fatalf("image is %d bytes", fi.Size())
	}
	tr := tar.NewReader(f)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Name != "hello.txt" || hdr.Size != 9 {
		t.Fatalf("bad header %+v", hdr)
	}
	data, _ := io.ReadAll(tr)
	if string(data) != "hi there\n" {
		t.Fatalf("got %q", data)
	}
}

func TestBuildTooMany(t *testing.T) {
	files := make([]string, tarfs.FilesMax+1)
	config := models.DefaultConfig()
	config.Output = io.Discard
	if err := Build(filepath.Join(t.TempDir(), "disk.tar"), files, config); err == nil {
		t.Fatal("accepted more files than the disk holds")
	}
}
