package core

// Sample sizes on the bus and on the wire
const (
	// RawSampleSize is the length of one burst read starting at DATAX0:
	// address echo, X0 X1 Y0 Y1 Z0 Z1, FIFO_CTL, FIFO_STATUS.
	RawSampleSize = 9
	// PackedSampleSize is one sample in a data reply: three 13-bit values.
	PackedSampleSize = 5
	// SampleBufferSize is the payload of one data reply. It must be a
	// multiple of PackedSampleSize and keep a reply inside a 64 byte frame.
	SampleBufferSize = 50
)

// Compile-time check that SampleBufferSize holds a whole number of samples.
var _ [0]struct{} = [SampleBufferSize % PackedSampleSize]struct{}{}

// PackedSample holds X, Y, Z as 13-bit two's complement values:
//
//	byte0  X[7:0]
//	byte1  Y[7:0]
//	byte2  Z[7:0]
//	byte3  Z[10:8]<<5 | X[12:8]
//	byte4  Z[12:11]<<5 | Y[12:8]   (bit 7 unused)
type PackedSample [PackedSampleSize]byte

// PackSample packs bytes 1-6 of a burst read (X0 X1 Y0 Y1 Z0 Z1). d must
// hold at least 7 bytes.
func PackSample(d []byte) PackedSample {
	return PackedSample{
		d[1],
		d[3],
		d[5],
		(d[2] & 0x1F) | (d[6] << 5),
		(d[4] & 0x1F) | ((d[6] << 2) & 0x60),
	}
}

// SentinelSample marks a reading that failed validation. It is the packing
// of an all-ones placeholder so it goes through the same encoder as real
// data.
var SentinelSample = PackSample([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

// Axes unpacks the three signed 13-bit values.
func (p PackedSample) Axes() (x, y, z int16) {
	xh := uint16(p[3] & 0x1F)
	yh := uint16(p[4] & 0x1F)
	zh := uint16(p[3]>>5) | uint16((p[4]>>5)&0x03)<<3
	return signExtend13(uint16(p[0]) | xh<<8),
		signExtend13(uint16(p[1]) | yh<<8),
		signExtend13(uint16(p[2]) | zh<<8)
}

// IsSentinel reports whether p is the bad-sample marker.
func (p PackedSample) IsSentinel() bool {
	return p == SentinelSample
}

func signExtend13(v uint16) int16 {
	return int16(v<<3) >> 3
}

// SampleBuffer accumulates packed samples for the next data reply. It has
// no error paths: callers flush it as soon as Full reports true, which
// keeps count+PackedSampleSize <= SampleBufferSize before every push.
type SampleBuffer struct {
	count int
	buf   [SampleBufferSize]byte
}

// Push packs bytes 1-6 of a burst read into the buffer.
func (b *SampleBuffer) Push(d []byte) {
	b.PushPacked(PackSample(d))
}

// PushPacked appends an already packed sample.
func (b *SampleBuffer) PushPacked(p PackedSample) {
	copy(b.buf[b.count:], p[:])
	b.count += PackedSampleSize
}

// Full reports whether another push would overflow.
func (b *SampleBuffer) Full() bool {
	return b.count+PackedSampleSize > SampleBufferSize
}

func (b *SampleBuffer) Empty() bool { return b.count == 0 }

// Count returns the number of buffered bytes.
func (b *SampleBuffer) Count() int { return b.count }

func (b *SampleBuffer) Clear() { b.count = 0 }

// Contents returns the packed bytes. The slice is only valid until the next
// Push or Clear.
func (b *SampleBuffer) Contents() []byte {
	return b.buf[:b.count]
}
