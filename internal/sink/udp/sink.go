// SPDX-License-Identifier: MIT
/*
Package udp streams frames to a renderer as binary datagrams.

Packet layout (big endian):

	|<---- 4 Bytes ---->|<------ 8 Bytes ------>|<-- 2 Bytes -->|<----- N * 4 Bytes ----->|
	+-------------------+-----------------------+---------------+-------------------------+
	|  Sequence Number  |       Timestamp       |  Value Count  |         Values          |
	|      (uint32)     |  (int64, Unix nanos)  |   (uint16)    |      (N * float32)      |
	+-------------------+-----------------------+---------------+-------------------------+

Values are bin magnitudes for spectrum frames and samples for reconstructed
frames.
*/
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"specgate/internal/frame"
)

// HeaderSize is the number of bytes before the values.
const HeaderSize = 4 + 8 + 2

// MaxPayload is the largest UDP payload over IPv4 (65535 minus the IP and UDP
// headers).
const MaxPayload = 65507

// MaxValues is the largest frame a single datagram can carry.
const MaxValues = (MaxPayload - HeaderSize) / 4

// Sink packs every frame into one datagram.
type Sink struct {
	sender *Sender
	log    *logrus.Entry
	now    func() time.Time

	sequenceNum uint32
	values      []float32     // Reused conversion buffer.
	packet      *bytes.Buffer // Reused packet buffer.
}

// NewSink dials target and returns a sink sending to it.
func NewSink(target string, entry *logrus.Entry) (*Sink, error) {
	sender, err := NewSender(target)
	if err != nil {
		return nil, err
	}
	entry.WithField("target", sender.RemoteAddr().String()).Info("UDP sink connected")
	return &Sink{
		sender: sender,
		log:    entry,
		now:    time.Now,
		packet: new(bytes.Buffer),
	}, nil
}

// WriteSamples sends a reconstructed frame.
func (s *Sink) WriteSamples(samples []float32) error {
	if len(samples) > MaxValues {
		return fmt.Errorf("frame of %d samples does not fit in a packet", len(samples))
	}
	s.values = append(s.values[:0], samples...)
	return s.send()
}

// WritePoints sends the magnitudes of a spectrum frame.
func (s *Sink) WritePoints(points []frame.Point) error {
	if len(points) > MaxValues {
		return fmt.Errorf("frame of %d points does not fit in a packet", len(points))
	}
	s.values = s.values[:0]
	for _, p := range points {
		s.values = append(s.values, float32(p.Magnitude))
	}
	return s.send()
}

func (s *Sink) send() error {
	s.sequenceNum++
	s.packet.Reset()
	if err := Encode(s.packet, s.sequenceNum, s.now().UnixNano(), s.values); err != nil {
		return fmt.Errorf("failed to pack UDP frame: %w", err)
	}
	if err := s.sender.Send(s.packet.Bytes()); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"seq": s.sequenceNum, "bytes": s.packet.Len()}).Trace("Sent packet")
	return nil
}

// Close closes the underlying sender.
func (s *Sink) Close() error {
	return s.sender.Close()
}

// Encode writes one packet to buf.
func Encode(buf *bytes.Buffer, seq uint32, timestamp int64, values []float32) error {
	if len(values) > MaxValues {
		return fmt.Errorf("%d values exceed the packet limit of %d", len(values), MaxValues)
	}
	// Chain error checks for cleaner code.
	err := binary.Write(buf, binary.BigEndian, seq)
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, timestamp)
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, uint16(len(values)))
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, values)
	}
	return err
}

// Packet is a decoded datagram.
type Packet struct {
	Seq       uint32
	Timestamp int64
	Values    []float32
}

// Decode parses one datagram.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("packet too short: %d bytes", len(data))
	}
	p := Packet{
		Seq:       binary.BigEndian.Uint32(data[0:4]),
		Timestamp: int64(binary.BigEndian.Uint64(data[4:12])),
	}
	n := int(binary.BigEndian.Uint16(data[12:14]))
	if len(data) != HeaderSize+4*n {
		return Packet{}, fmt.Errorf("packet length %d does not match %d values", len(data), n)
	}
	p.Values = make([]float32, n)
	for i := range n {
		p.Values[i] = math.Float32frombits(binary.BigEndian.Uint32(data[HeaderSize+4*i:]))
	}
	return p, nil
}
