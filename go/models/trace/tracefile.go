package trace

import (
	"encoding/binary"
	"io"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/models"
)

var TRACE_MAGIC = "RVTR"

const TRACE_VERSION = 1

type TraceHeader struct {
	// MAGIC ("RVTR")
	Magic   string `struc:"[4]byte"`
	Version uint32
	// board RAM window, so a reader can tell kernel and user addresses apart
	RAMBase  uint32
	RAMSize  uint32
	UserBase uint32
}

// Record is one trap taken by a user process.
type Record struct {
	PID   uint32
	Cause uint32
	Tval  uint32
	Epc   uint32
	// syscall number from a3, only meaningful for ecalls
	Sysno uint32
}

type TraceWriter struct {
	w  io.WriteCloser
	zw *snappy.Writer
	s  *models.StrucStream
}

func NewWriter(w io.WriteCloser, layout models.Layout) (*TraceWriter, error) {
	header := &TraceHeader{
		Magic:    TRACE_MAGIC,
		Version:  TRACE_VERSION,
		RAMBase:  layout.RAMBase,
		RAMSize:  layout.RAMSize,
		UserBase: layout.UserBase,
	}
	if err := struc.PackWithOrder(w, header, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "failed to pack header")
	}
	zw := snappy.NewBufferedWriter(w)
	return &TraceWriter{
		w:  w,
		zw: zw,
		s:  &models.StrucStream{Stream: readWriter{Writer: zw}, Order: binary.LittleEndian},
	}, nil
}

func (t *TraceWriter) Pack(r *Record) error {
	return t.s.Pack(r)
}

func (t *TraceWriter) Close() error {
	err := t.zw.Close()
	if cerr := t.w.Close(); err == nil {
		err = cerr
	}
	return err
}

type TraceReader struct {
	r      io.ReadCloser
	zr     *snappy.Reader
	s      *models.StrucStream
	Header TraceHeader
}

func NewReader(r io.ReadCloser) (*TraceReader, error) {
	t := &TraceReader{r: r}
	if err := struc.UnpackWithOrder(r, &t.Header, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if t.Header.Magic != TRACE_MAGIC {
		return nil, errors.New("invalid trace file magic")
	}
	if t.Header.Version != TRACE_VERSION {
		return nil, errors.Errorf("unsupported trace version %d", t.Header.Version)
	}
	t.zr = snappy.NewReader(r)
	t.s = &models.StrucStream{Stream: readWriter{Reader: t.zr}, Order: binary.LittleEndian}
	return t, nil
}

// Next returns io.EOF after the last record.
func (t *TraceReader) Next() (*Record, error) {
	var rec Record
	if err := t.s.Unpack(&rec); err != nil {
		if errors.Cause(err) == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "truncated trace record")
	}
	return &rec, nil
}

func (t *TraceReader) Close() error {
	t.zr.Reset(nil)
	return t.r.Close()
}

// readWriter adapts a one-directional stream to StrucStream.
type readWriter struct {
	io.Reader
	io.Writer
}
