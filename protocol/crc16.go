package protocol

// CRC16 is the CCITT variant Klipper uses to protect each frame
// (initial value 0xFFFF, reflected, no final xor).
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc & 0xFF)
		b ^= b << 4
		w := uint16(b)
		crc = (w<<8 | crc>>8) ^ (w >> 4) ^ (w << 3)
	}
	return crc
}

// appendTrailer appends CRC and sync byte for the frame in msg.
func appendTrailer(msg []byte) []byte {
	crc := CRC16(msg)
	return append(msg, uint8(crc>>8), uint8(crc), MessageValueSync)
}
