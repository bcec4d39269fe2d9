package trace

import (
	"bytes"
	"io"
	"testing"

	"github.com/tinyrv/rvkern/go/models"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestTraceRoundTrip(t *testing.T) {
	buf := nopCloser{&bytes.Buffer{}}
	layout := models.DefaultLayout()
	w, err := NewWriter(buf, layout)
	if err != nil {
		t.Fatal(err)
	}
	recs := []Record{
		{PID: 1, Cause: 8, Epc: 0x01000010, Sysno: 1},
		{PID: 2, Cause: 13, Tval: 0xdead0000, Epc: 0x01000004},
	}
	for i := range recs {
		if err := w.Pack(&recs[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(nopCloser{bytes.NewBuffer(buf.Bytes())})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Header.UserBase != layout.UserBase {
		t.Fatalf("header user base %#x", r.Header.UserBase)
	}
	for i := range recs {
		rec, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		if *rec != recs[i] {
			t.Fatalf("record %d: got %+v, want %+v", i, *rec, recs[i])
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("want EOF after the last record, got %v", err)
	}
}

func TestTraceBadMagic(t *testing.T) {
	data := append([]byte("UCIR"), make([]byte, 16)...)
	if _, err := NewReader(nopCloser{bytes.NewBuffer(data)}); err == nil {
		t.Fatal("accepted a foreign trace file")
	}
}
