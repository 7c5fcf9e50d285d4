package core

// Number formatting without fmt/strconv; fmt pulls too much into the
// firmware image.

// itoa converts an integer to decimal.
func itoa(n int) string {
	if n < 0 {
		return "-" + utoa(uint32(-n))
	}
	return utoa(uint32(n))
}

// utoa converts an unsigned integer to decimal.
func utoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

const hexDigits = "0123456789abcdef"

// hex8 formats a byte as two lowercase hex digits.
func hex8(b uint8) string {
	return string([]byte{hexDigits[b>>4], hexDigits[b&0x0F]})
}

// valueToString renders a dictionary constant.
func valueToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return itoa(val)
	case int32:
		return itoa(int(val))
	case uint8:
		return utoa(uint32(val))
	case uint16:
		return utoa(uint32(val))
	case uint32:
		return utoa(val)
	}
	return ""
}
