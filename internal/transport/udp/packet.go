// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

/*
Packet layout (big-endian):

+-----------------+---------+------+------------------------------+
| Field           | Type    | Size | Description                  |
|-----------------|---------|------|------------------------------|
| Sequence        | uint32  | 4    | Increments per packet        |
| Timestamp       | int64   | 8    | Snapshot time, Unix nanos    |
| Level           | float32 | 4    | Smoothed level, 0..1         |
| Decibels        | float32 | 4    | Smoothed level, dBFS         |
| Count           | uint16  | 2    | Number of spectrum values N  |
| Spectrum        | float32 | N*4  | Bucket values, 0..1          |
+-----------------+---------+------+------------------------------+
*/

// HeaderSize is the fixed part of a packet.
const HeaderSize = 4 + 8 + 4 + 4 + 2

// MaxValues is the largest spectrum a packet can carry.
const MaxValues = math.MaxUint16

// ErrShortPacket is returned when a datagram is smaller than its header says.
var ErrShortPacket = errors.New("short packet")

// Packet is the decoded form of one datagram.
type Packet struct {
	Sequence  uint32
	Timestamp int64
	Level     float32
	Decibels  float32
	Spectrum  []float32
}

// AppendPacket encodes p onto dst and returns the extended slice.
// Spectrum values beyond MaxValues are dropped.
func AppendPacket(dst []byte, seq uint32, timestamp int64, level, decibels float32, spectrum []float64) []byte {
	n := min(len(spectrum), MaxValues)
	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(timestamp))
	dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(level))
	dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(decibels))
	dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	for _, v := range spectrum[:n] {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(v)))
	}
	return dst
}

// DecodePacket parses one datagram.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrShortPacket, len(b), HeaderSize)
	}
	p := Packet{
		Sequence:  binary.BigEndian.Uint32(b[0:]),
		Timestamp: int64(binary.BigEndian.Uint64(b[4:])),
		Level:     math.Float32frombits(binary.BigEndian.Uint32(b[12:])),
		Decibels:  math.Float32frombits(binary.BigEndian.Uint32(b[16:])),
	}
	count := int(binary.BigEndian.Uint16(b[20:]))
	body := b[HeaderSize:]
	if len(body) < count*4 {
		return Packet{}, fmt.Errorf("%w: %d values need %d bytes, have %d", ErrShortPacket, count, count*4, len(body))
	}
	p.Spectrum = make([]float32, count)
	for i := range p.Spectrum {
		p.Spectrum[i] = math.Float32frombits(binary.BigEndian.Uint32(body[i*4:]))
	}
	return p, nil
}
