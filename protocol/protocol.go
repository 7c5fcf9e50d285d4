// Package protocol implements the Klipper wire protocol spoken between the
// accelerometer node and its host: VLQ argument encoding, CRC16 framing and
// the sequence/ACK transport on both ends of the link.
package protocol

// Version is reported in the MCU data dictionary.
const Version = "0.1.0"

// Frame layout
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F
)

// OutputMax is the capacity of a ScratchOutput. Several frames (ACKs, data
// and status replies) can be queued between two USB writes.
const OutputMax = 512

// nextSequence advances a 0x10-0x1F frame sequence value.
func nextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

// frameCRC reads the big-endian CRC stored in the trailer of a frame of
// length msgLen.
func frameCRC(data []byte, msgLen int) uint16 {
	return uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
}

// validFrame checks length bounds, trailing sync byte and CRC of the frame at
// the head of data. It reports ok=false with wait=true when more bytes are
// needed before a decision can be made.
func validFrame(data []byte) (msgLen int, ok bool, wait bool) {
	if len(data) < MessageLengthMin {
		return 0, false, true
	}
	msgLen = int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return msgLen, false, false
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return msgLen, false, false
	}
	if len(data) < msgLen {
		return msgLen, false, true
	}
	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return msgLen, false, false
	}
	if frameCRC(data, msgLen) != CRC16(data[:msgLen-MessageTrailerSize]) {
		return msgLen, false, false
	}
	return msgLen, true, false
}

// findSync returns the index just past the first sync byte, or -1.
func findSync(data []byte) int {
	for i, b := range data {
		if b == MessageValueSync {
			return i + 1
		}
	}
	return -1
}
