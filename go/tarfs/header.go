package tarfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

const (
	HeaderSize = 512
	Magic      = "ustar"
	NameMax    = 99

	// GNU tar writes "ustar " with version " \x00"
	MagicGNU = "ustar "
)

// Header is a USTAR header block.
type Header struct {
	Name     string `struc:"[100]byte"`
	Mode     string `struc:"[8]byte"`
	UID      string `struc:"[8]byte"`
	GID      string `struc:"[8]byte"`
	Size     string `struc:"[12]byte"`
	Mtime    string `struc:"[12]byte"`
	Checksum string `struc:"[8]byte"`
	Type     uint8
	Linkname string `struc:"[100]byte"`
	Magic    string `struc:"[6]byte"`
	Version  string `struc:"[2]byte"`
	Uname    string `struc:"[32]byte"`
	Gname    string `struc:"[32]byte"`
	Devmajor string `struc:"[8]byte"`
	Devminor string `struc:"[8]byte"`
	Prefix   string `struc:"[155]byte"`
	Pad      string `struc:"[12]byte"`
}

// offset and width of the checksum field
const (
	chksumOff = 148
	chksumLen = 8
)

func cstring(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}

// octal renders v as width-1 zero-padded octal digits and a NUL.
func octal(v int64, width int) string {
	return fmt.Sprintf("%0*o\x00", width-1, v)
}

// parseOctal reads a numeric field, ignoring NUL and space padding.
func parseOctal(field string) (int64, error) {
	s := strings.Trim(field, " \x00")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 8, 64)
	return v, errors.Wrapf(err, "bad octal field %q", field)
}

// Pack encodes h into one 512 byte block.
func (h *Header) Pack() ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.PackWithOrder(&buf, h, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "packing tar header")
	}
	return buf.Bytes(), nil
}

func UnpackHeader(block []byte) (*Header, error) {
	var h Header
	if err := struc.UnpackWithOrder(bytes.NewReader(block), &h, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "unpacking tar header")
	}
	return &h, nil
}

// Checksum sums the block with the checksum field counted as spaces.
func Checksum(block []byte) int64 {
	var sum int64
	for i, b := range block[:HeaderSize] {
		if i >= chksumOff && i < chksumOff+chksumLen {
			b = ' '
		}
		sum += int64(b)
	}
	return sum
}

// NewHeader builds a regular file header and seals its checksum.
func NewHeader(name string, size int64) ([]byte, error) {
	h := &Header{
		Name:    name,
		Mode:    "0000644\x00",
		UID:     octal(0, 8),
		GID:     octal(0, 8),
		Size:    octal(size, 12),
		Mtime:   octal(0, 12),
		Type:    '0',
		Magic:   Magic + "\x00",
		Version: "00",
	}
	block, err := h.Pack()
	if err != nil {
		return nil, err
	}
	// six digits, NUL, space
	sum := fmt.Sprintf("%06o\x00 ", Checksum(block))
	copy(block[chksumOff:], sum)
	return block, nil
}
