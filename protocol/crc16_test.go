package protocol

import "testing"

func TestCRC16Empty(t *testing.T) {
	if got := CRC16(nil); got != 0xFFFF {
		t.Errorf("CRC16(nil) = 0x%04X, want 0xFFFF", got)
	}
}

func TestCRC16Consistency(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if crc1, crc2 := CRC16(data), CRC16(data); crc1 != crc2 {
		t.Errorf("CRC16 not consistent: first=%04X, second=%04X", crc1, crc2)
	}
}

func TestCRC16Different(t *testing.T) {
	crc1 := CRC16([]byte{0x01, 0x02, 0x03})
	crc2 := CRC16([]byte{0x01, 0x02, 0x04})
	if crc1 == crc2 {
		t.Errorf("CRC16 collision: both inputs produced %04X", crc1)
	}
}

func TestAppendTrailerProducesValidFrame(t *testing.T) {
	msg := appendTrailer([]byte{MessageLengthMin, MessageDest})
	msgLen, ok, wait := validFrame(msg)
	if !ok || wait || msgLen != MessageLengthMin {
		t.Fatalf("validFrame(%v) = %d, %v, %v", msg, msgLen, ok, wait)
	}

	msg[2] ^= 0xFF
	if _, ok, _ := validFrame(msg); ok {
		t.Error("corrupted CRC accepted")
	}
}
