package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
)

// Type enumerates the package kinds that flow over a server-to-server or
// client-to-server connection (spec §6).
type Type uint8

const (
	TypeAuth Type = iota + 1
	TypeInsert
	TypeQuery
	TypeAck
	TypeError
	TypeReplication
	TypeSubQuery // fan-out sub-query dispatched to a remote pool
	TypeCancel   // abort a previously dispatched sub-query by pid
)

func (t Type) String() string {
	switch t {
	case TypeAuth:
		return "auth"
	case TypeInsert:
		return "insert"
	case TypeQuery:
		return "query"
	case TypeAck:
		return "ack"
	case TypeError:
		return "error"
	case TypeReplication:
		return "replication"
	case TypeSubQuery:
		return "subquery"
	case TypeCancel:
		return "cancel"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// headerSize is the 8-byte header preceding every package body:
// length(4) + pid(2) + tp(1) + checkbit(1).
const headerSize = 8

// checkbit is a fixed sentinel the original protocol uses to catch garbled
// framing early; we keep the same constant so a dump of the wire matches
// what an operator familiar with the format expects.
const checkbit = 0xFF

// Package is one framed unit on the wire: a 16-bit request/response id, a
// type tag, and a msgpack-encoded body. Length is derived at Write time and
// ignored on Package values constructed in memory.
type Package struct {
	PID  uint16
	Type Type
	Body []byte // already msgpack-encoded
}

// Encode marshals v with msgpack and wraps it as a Package body.
func Encode(pid uint16, tp Type, v any) (Package, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return Package{}, fmt.Errorf("wire: encode body: %w", err)
	}
	return Package{PID: pid, Type: tp, Body: body}, nil
}

// Decode unmarshals the package body into v.
func (p Package) Decode(v any) error {
	if err := msgpack.Unmarshal(p.Body, v); err != nil {
		return fmt.Errorf("wire: decode body: %w", err)
	}
	return nil
}

// WriteTo frames p onto w: little-endian length (excluding the 8-byte
// header, per spec §6), pid, type, checkbit, then the body.
func (p Package) WriteTo(w io.Writer) (int64, error) {
	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(p.Body)))
	binary.LittleEndian.PutUint16(hdr[4:6], p.PID)
	hdr[6] = byte(p.Type)
	hdr[7] = checkbit

	n, err := w.Write(hdr)
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(p.Body)
	return int64(n + m), err
}

// maxBodyLen bounds a single package body to guard against a corrupt or
// malicious length header forcing an unbounded allocation.
const maxBodyLen = 64 << 20

// ReadPackage reads one framed package from r. A malformed checkbit or an
// implausible length is a protocol error (spec §7: "malformed package ->
// drop connection").
func ReadPackage(r *bufio.Reader) (Package, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Package{}, err
	}

	length := binary.LittleEndian.Uint32(hdr[0:4])
	pid := binary.LittleEndian.Uint16(hdr[4:6])
	tp := Type(hdr[6])
	cb := hdr[7]

	if cb != checkbit {
		return Package{}, fmt.Errorf("wire: protocol error: bad checkbit 0x%02x", cb)
	}
	if length > maxBodyLen {
		return Package{}, fmt.Errorf("wire: protocol error: body length %d exceeds limit", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Package{}, err
	}

	return Package{PID: pid, Type: tp, Body: body}, nil
}

// PIDGenerator hands out monotonically increasing 16-bit package ids,
// wrapping around per spec's u16 pid field.
type PIDGenerator struct{ next uint32 }

// Next returns the next pid, wrapping at 65535.
func (g *PIDGenerator) Next() uint16 {
	return uint16(atomic.AddUint32(&g.next, 1))
}
