package core

import (
	"errors"

	"rampon/protocol"
)

// ReplySink delivers an encoded response to the host. Delivery never blocks
// the caller; backpressure is the transport's business.
type ReplySink interface {
	SendResponse(name string, args func(output protocol.OutputBuffer))
}

// StatusReport is the content of one status reply.
type StatusReport struct {
	OID          uint8
	Clock        Instant  // timestamp taken before the FIFO transaction
	QueryTicks   Duration // wraparound-safe duration of that transaction
	NextSequence uint16
	Buffered     int   // bytes waiting in the SampleBuffer
	FIFO         uint8 // last FIFO_STATUS byte read from the chip
	Overflows    uint16
}

// ReplyEncoding names and lays out the accelerometer replies. The driver
// logic is shared; only reply identifiers and the backlog field differ.
type ReplyEncoding interface {
	// Name identifies the encoding in configuration and the dictionary.
	Name() string
	// DataReply and StatusReply are the response names used with the sink.
	DataReply() string
	StatusReply() string
	// Register declares both reply formats.
	Register(r *CommandRegistry)
	EncodeData(output protocol.OutputBuffer, oid uint8, sequence uint16, data []byte)
	EncodeStatus(output protocol.OutputBuffer, s StatusReport)
}

// ErrUnknownEncoding is returned by EncodingByName.
var ErrUnknownEncoding = errors.New("unknown accelerometer reply encoding")

// Encoding names
const (
	EncodingADXL345 = "adxl345"
	EncodingBulk    = "bulk"
)

// EncodingByName returns the encoding registered under name.
func EncodingByName(name string) (ReplyEncoding, error) {
	switch name {
	case EncodingADXL345, "":
		return ADXL345Encoding{}, nil
	case EncodingBulk:
		return BulkEncoding{}, nil
	}
	return nil, ErrUnknownEncoding
}

func encodeDataReply(output protocol.OutputBuffer, oid uint8, sequence uint16, data []byte) {
	protocol.EncodeVLQUint(output, uint32(oid))
	protocol.EncodeVLQUint(output, uint32(sequence))
	protocol.EncodeVLQBytes(output, data)
}

func encodeStatusHead(output protocol.OutputBuffer, s StatusReport) {
	protocol.EncodeVLQUint(output, uint32(s.OID))
	protocol.EncodeVLQUint(output, s.Clock.Ticks())
	protocol.EncodeVLQUint(output, uint32(s.QueryTicks))
	protocol.EncodeVLQUint(output, uint32(s.NextSequence))
}

// ADXL345Encoding is the device-specific framing: adxl345_data and
// adxl345_status with the raw buffered byte count and FIFO_STATUS byte.
type ADXL345Encoding struct{}

func (ADXL345Encoding) Name() string        { return EncodingADXL345 }
func (ADXL345Encoding) DataReply() string   { return "adxl345_data" }
func (ADXL345Encoding) StatusReply() string { return "adxl345_status" }

func (e ADXL345Encoding) Register(r *CommandRegistry) {
	r.RegisterResponse(e.DataReply(), "oid=%c sequence=%hu data=%*s")
	r.RegisterResponse(e.StatusReply(),
		"oid=%c clock=%u query_ticks=%u next_sequence=%hu buffered=%c fifo=%c limit_count=%hu")
}

func (ADXL345Encoding) EncodeData(output protocol.OutputBuffer, oid uint8, sequence uint16, data []byte) {
	encodeDataReply(output, oid, sequence, data)
}

func (ADXL345Encoding) EncodeStatus(output protocol.OutputBuffer, s StatusReport) {
	encodeStatusHead(output, s)
	protocol.EncodeVLQUint(output, uint32(uint8(s.Buffered)))
	protocol.EncodeVLQUint(output, uint32(s.FIFO))
	protocol.EncodeVLQUint(output, uint32(s.Overflows))
}

// BulkEncoding is the generic bulk sensor framing. Its backlog adds the
// bytes still queued in the chip FIFO to the buffered byte count.
type BulkEncoding struct{}

func (BulkEncoding) Name() string        { return EncodingBulk }
func (BulkEncoding) DataReply() string   { return "sensor_bulk_data" }
func (BulkEncoding) StatusReply() string { return "sensor_bulk_status" }

func (e BulkEncoding) Register(r *CommandRegistry) {
	r.RegisterResponse(e.DataReply(), "oid=%c sequence=%hu data=%*s")
	r.RegisterResponse(e.StatusReply(),
		"oid=%c clock=%u query_ticks=%u next_sequence=%hu buffered=%u possible_overflows=%hu")
}

func (BulkEncoding) EncodeData(output protocol.OutputBuffer, oid uint8, sequence uint16, data []byte) {
	encodeDataReply(output, oid, sequence, data)
}

func (BulkEncoding) EncodeStatus(output protocol.OutputBuffer, s StatusReport) {
	encodeStatusHead(output, s)
	// Bit 7 of FIFO_STATUS is the trigger flag, not part of the count.
	backlog := uint32(s.Buffered) + uint32(s.FIFO&0x7F)*PackedSampleSize
	protocol.EncodeVLQUint(output, backlog)
	protocol.EncodeVLQUint(output, uint32(s.Overflows))
}
