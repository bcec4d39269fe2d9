package models

import (
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
)

// StrucStream packs fixed-layout records onto a stream in one byte order.
type StrucStream struct {
	Stream io.ReadWriter
	Order  binary.ByteOrder
}

func (s *StrucStream) Pack(i interface{}) error {
	return struc.PackWithOrder(s.Stream, i, s.Order)
}

func (s *StrucStream) Unpack(i interface{}) error {
	return struc.UnpackWithOrder(s.Stream, i, s.Order)
}
