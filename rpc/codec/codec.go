// Package codec reads and writes length prefixed agent protocol frames.
//
// Frame layout (big endian):
//
//	4 bytes  frame length (everything below, excluding these 4 bytes)
//	4 bytes  magic code
//	2 bytes  version
//	8 bytes  id
//	1 byte   flag
//	4 bytes  command code
//	2 bytes  property count, then per property:
//	         2 bytes key length, key, 4 bytes value length, value
//	N bytes  body
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sort"

	"github.com/ValentinKolb/dProxy/rpc/common"
)

const (
	lengthPrefixSize = 4
	fixedHeaderSize  = 4 + 2 + 8 + 1 + 4 + 2

	// DefaultMaxFrameSize is the largest frame accepted by ReadFrame by default.
	DefaultMaxFrameSize = 16 << 20
)

var (
	ErrBadMagic      = errors.New("bad magic code")
	ErrFrameTooLarge = errors.New("frame too large")
	ErrMalformed     = errors.New("malformed frame")
)

// headerSize returns the encoded size of h.
func headerSize(h *common.Header) int {
	size := fixedHeaderSize
	for k, v := range h.Properties {
		size += 2 + len(k) + 4 + len(v)
	}
	return size
}

// EncodeHeader appends the encoded header (without length prefix) to dst.
func EncodeHeader(dst []byte, h *common.Header) ([]byte, error) {
	if len(h.Properties) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: too many properties", ErrMalformed)
	}

	dst = binary.BigEndian.AppendUint32(dst, uint32(h.MagicCode))
	dst = binary.BigEndian.AppendUint16(dst, uint16(h.Version))
	dst = binary.BigEndian.AppendUint64(dst, h.ID)
	dst = append(dst, byte(h.Flag))
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.Code))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(h.Properties)))

	// sorted for a deterministic encoding
	keys := make([]string, 0, len(h.Properties))
	for k := range h.Properties {
		if len(k) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: property key too long", ErrMalformed)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := h.Properties[k]
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(k)))
		dst = append(dst, k...)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v)))
		dst = append(dst, v...)
	}
	return dst, nil
}

// DecodeHeader decodes a header from src and returns the number of bytes consumed.
func DecodeHeader(src []byte) (common.Header, int, error) {
	var h common.Header
	if len(src) < fixedHeaderSize {
		return h, 0, fmt.Errorf("%w: header needs %d bytes, got %d", ErrMalformed, fixedHeaderSize, len(src))
	}

	h.MagicCode = int32(binary.BigEndian.Uint32(src[0:4]))
	if h.MagicCode != common.MagicCode {
		return h, 0, fmt.Errorf("%w: 0x%x", ErrBadMagic, uint32(h.MagicCode))
	}
	h.Version = int16(binary.BigEndian.Uint16(src[4:6]))
	h.ID = binary.BigEndian.Uint64(src[6:14])
	h.Flag = common.Flag(src[14])
	h.Code = common.CommandCode(int32(binary.BigEndian.Uint32(src[15:19])))
	count := int(binary.BigEndian.Uint16(src[19:21]))

	pos := fixedHeaderSize
	if count > 0 {
		h.Properties = make(map[string]string, count)
	}
	for i := 0; i < count; i++ {
		if pos+2 > len(src) {
			return h, 0, fmt.Errorf("%w: truncated property key length", ErrMalformed)
		}
		keyLen := int(binary.BigEndian.Uint16(src[pos : pos+2]))
		pos += 2
		if pos+keyLen+4 > len(src) {
			return h, 0, fmt.Errorf("%w: truncated property key", ErrMalformed)
		}
		key := string(src[pos : pos+keyLen])
		pos += keyLen

		valueLen := int(binary.BigEndian.Uint32(src[pos : pos+4]))
		pos += 4
		if valueLen < 0 || pos+valueLen > len(src) {
			return h, 0, fmt.Errorf("%w: truncated property value", ErrMalformed)
		}
		h.Properties[key] = string(src[pos : pos+valueLen])
		pos += valueLen
	}
	return h, pos, nil
}

// WriteFrame writes dg as a single frame.
func WriteFrame(w io.Writer, dg *common.Datagram) error {
	header := make([]byte, lengthPrefixSize, lengthPrefixSize+headerSize(&dg.Header))
	header, err := EncodeHeader(header, &dg.Header)
	if err != nil {
		return err
	}
	frameLen := len(header) - lengthPrefixSize + len(dg.Body)
	if uint64(frameLen) > math.MaxUint32 {
		return ErrFrameTooLarge
	}
	binary.BigEndian.PutUint32(header[:lengthPrefixSize], uint32(frameLen))

	b := net.Buffers{header, dg.Body}
	_, err = b.WriteTo(w)
	return err
}

// ReadFrame reads a single frame. The body of the returned datagram lives in a
// pooled buffer that is returned by dg.Release.
func ReadFrame(r io.Reader, maxFrameSize int) (*common.Datagram, error) {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	frameLen := int(binary.BigEndian.Uint32(prefix[:]))
	if frameLen > maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, frameLen, maxFrameSize)
	}

	bufPtr := common.GetBuffer(frameLen)
	buf := *bufPtr
	if _, err := io.ReadFull(r, buf); err != nil {
		common.PutBuffer(bufPtr)
		return nil, err
	}

	header, n, err := DecodeHeader(buf)
	if err != nil {
		common.PutBuffer(bufPtr)
		return nil, err
	}

	dg := &common.Datagram{Header: header, Body: buf[n:]}
	dg.AttachBuffer(bufPtr)
	return dg, nil
}
