// Package wire implements the fixed-layout client→master packet protocol
// and the raw, unframed master→client byte stream described in spec.md §4.4
// and §6.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Packet types, client → master.
const (
	Push   byte = 0
	Attach byte = 1
	Detach byte = 2
	Winch  byte = 3
	Redraw byte = 4
)

// Redraw methods, carried in a Redraw packet's Len field.
const (
	RedrawUnspec byte = 0
	RedrawNone   byte = 1
	RedrawCtrlL  byte = 2
	RedrawWinch  byte = 3
)

// Winsize holds the four uint16 fields of the kernel's struct winsize. It is
// the payload overlay for Winch and Redraw packets. On the wire the fields
// are encoded big-endian, so on little-endian hosts the payload bytes differ
// from an in-memory struct winsize.
type Winsize struct {
	Rows, Cols, XPixel, YPixel uint16
}

// payloadSize is sizeof(struct winsize) on the overwhelming majority of
// platforms dtach runs on: four uint16 fields, 8 bytes total.
const payloadSize = 8

// Size is the total on-wire size of one packet: 1 byte type + 1 byte len +
// payloadSize bytes of payload.
const Size = 2 + payloadSize

// Packet is the decoded form of one client→master record.
type Packet struct {
	Type    byte
	Len     byte // PUSH: byte count in Payload; REDRAW: method enum
	Payload [payloadSize]byte
}

// Winsize reinterprets Payload as a Winsize record.
func (p *Packet) Winsize() Winsize {
	return Winsize{
		Rows:   binary.BigEndian.Uint16(p.Payload[0:2]),
		Cols:   binary.BigEndian.Uint16(p.Payload[2:4]),
		XPixel: binary.BigEndian.Uint16(p.Payload[4:6]),
		YPixel: binary.BigEndian.Uint16(p.Payload[6:8]),
	}
}

// PushData returns the PUSH bytes, honoring Len. Callers must have already
// rejected Len > payloadSize per spec.md §4.4.
func (p *Packet) PushData() []byte {
	return p.Payload[:p.Len]
}

// Encode serializes a packet to its 10-byte wire form.
func Encode(typ, length byte, payload []byte) []byte {
	buf := make([]byte, Size)
	buf[0] = typ
	buf[1] = length
	copy(buf[2:], payload)
	return buf
}

// EncodeWinsize builds a Winch or Redraw packet carrying ws.
func EncodeWinsize(typ, length byte, ws Winsize) []byte {
	var payload [payloadSize]byte
	binary.BigEndian.PutUint16(payload[0:2], ws.Rows)
	binary.BigEndian.PutUint16(payload[2:4], ws.Cols)
	binary.BigEndian.PutUint16(payload[4:6], ws.XPixel)
	binary.BigEndian.PutUint16(payload[6:8], ws.YPixel)
	return Encode(typ, length, payload[:])
}

// Decode parses exactly Size bytes into a Packet. Callers are responsible
// for assembling a full record out of possibly-short non-blocking reads
// before calling Decode (session.Master.clientReadLoop uses io.ReadFull).
func Decode(buf []byte) (Packet, error) {
	if len(buf) != Size {
		return Packet{}, fmt.Errorf("wire: expected %d-byte packet, got %d", Size, len(buf))
	}
	var pkt Packet
	pkt.Type = buf[0]
	pkt.Len = buf[1]
	copy(pkt.Payload[:], buf[2:])
	return pkt, nil
}

// ReadPacket reads one full packet from r using blocking semantics.
func ReadPacket(r io.Reader) (Packet, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Packet{}, err
	}
	return Decode(buf)
}
