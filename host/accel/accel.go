// Package accel decodes the accelerometer replies streamed by the MCU.
package accel

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"rampon/core"
	"rampon/protocol"
)

// Scaling from full resolution counts to mm/s^2.
const (
	FreefallAccel = 9.80665 * 1000.0
	ScaleXY       = 0.003774 * FreefallAccel
	ScaleZ        = 0.003906 * FreefallAccel
)

// DataFormatFullRes selects full resolution at +-16g.
const DataFormatFullRes = 0x0B

// FIFOCtlStream is the FIFO_CTL value the MCU validates every sample
// against.
const FIFOCtlStream = 0x90

var rateCodes = map[int]byte{
	25:   0x8,
	50:   0x9,
	100:  0xa,
	200:  0xb,
	400:  0xc,
	800:  0xd,
	1600: 0xe,
	3200: 0xf,
}

// ErrInvalidRate is returned for data rates the chip does not offer.
var ErrInvalidRate = errors.New("unsupported adxl345 data rate")

// RateCode returns the BW_RATE value for hz.
func RateCode(hz int) (byte, error) {
	code, ok := rateCodes[hz]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRate, hz)
	}
	return code, nil
}

// Rates lists the supported data rates in ascending order.
func Rates() []int {
	rates := make([]int, 0, len(rateCodes))
	for hz := range rateCodes {
		rates = append(rates, hz)
	}
	sort.Ints(rates)
	return rates
}

// Axis maps one output axis to a chip axis with its scale.
type Axis struct {
	Index int
	Scale float64
}

// AxesMap converts raw chip axes to output axes.
type AxesMap [3]Axis

// DefaultAxes is the identity mapping.
var DefaultAxes = AxesMap{{0, ScaleXY}, {1, ScaleXY}, {2, ScaleZ}}

// ParseAxesMap reads entries such as ["x", "-z", "y"]. An empty list is the
// identity mapping.
func ParseAxesMap(axes []string) (AxesMap, error) {
	if len(axes) == 0 {
		return DefaultAxes, nil
	}
	if len(axes) != 3 {
		return AxesMap{}, fmt.Errorf("axes map needs 3 entries, got %d", len(axes))
	}
	var m AxesMap
	seen := map[int]bool{}
	for i, name := range axes {
		name = strings.ToLower(strings.TrimSpace(name))
		sign := 1.0
		if strings.HasPrefix(name, "-") {
			sign, name = -1, name[1:]
		}
		var idx int
		switch name {
		case "x":
			idx = 0
		case "y":
			idx = 1
		case "z":
			idx = 2
		default:
			return AxesMap{}, fmt.Errorf("invalid axis %q", axes[i])
		}
		if seen[idx] {
			return AxesMap{}, fmt.Errorf("axis %q mapped twice", name)
		}
		seen[idx] = true
		m[i] = Axis{Index: idx, Scale: sign * DefaultAxes[idx].Scale}
	}
	return m, nil
}

// Apply scales raw counts to mm/s^2.
func (m AxesMap) Apply(x, y, z int16) (float64, float64, float64) {
	raw := [3]float64{float64(x), float64(y), float64(z)}
	return raw[m[0].Index] * m[0].Scale, raw[m[1].Index] * m[1].Scale, raw[m[2].Index] * m[2].Scale
}

// DataReply is one decoded data reply.
type DataReply struct {
	OID      uint8
	Sequence uint16
	Samples  []core.PackedSample
}

// DecodeData parses the arguments of a data reply. Both encodings share the
// layout.
func DecodeData(data *[]byte) (DataReply, error) {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return DataReply{}, fmt.Errorf("decode oid: %w", err)
	}
	seq, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return DataReply{}, fmt.Errorf("decode sequence: %w", err)
	}
	raw, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return DataReply{}, fmt.Errorf("decode samples: %w", err)
	}
	if len(raw)%core.PackedSampleSize != 0 {
		return DataReply{}, fmt.Errorf("data length %d is not a whole number of samples", len(raw))
	}

	r := DataReply{OID: uint8(oid), Sequence: uint16(seq)}
	for i := 0; i < len(raw); i += core.PackedSampleSize {
		var p core.PackedSample
		copy(p[:], raw[i:])
		r.Samples = append(r.Samples, p)
	}
	return r, nil
}

// Status is a decoded status reply. FIFO and Buffered follow the
// device-specific encoding; the bulk encoding folds the FIFO depth into
// Buffered and leaves FIFO zero.
type Status struct {
	OID          uint8
	Clock        uint32
	QueryTicks   uint32
	NextSequence uint16
	Buffered     uint32
	FIFO         uint8
	Overflows    uint16
}

// DecodeStatus parses the arguments of a status reply in encoding.
func DecodeStatus(encoding string, data *[]byte) (Status, error) {
	if _, err := core.EncodingByName(encoding); err != nil {
		return Status{}, err
	}
	var v [7]uint32
	n := 7
	if encoding == core.EncodingBulk {
		n = 6
	}
	for i := 0; i < n; i++ {
		x, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return Status{}, fmt.Errorf("decode status field %d: %w", i, err)
		}
		v[i] = x
	}

	s := Status{
		OID:          uint8(v[0]),
		Clock:        v[1],
		QueryTicks:   v[2],
		NextSequence: uint16(v[3]),
		Buffered:     v[4],
	}
	if encoding == core.EncodingBulk {
		s.Overflows = uint16(v[5])
	} else {
		s.FIFO = uint8(v[5])
		s.Overflows = uint16(v[6])
	}
	return s, nil
}

// Pending is the number of samples the MCU still holds.
func (s Status) Pending() uint32 {
	return s.Buffered/core.PackedSampleSize + uint32(s.FIFO&0x3F)
}
