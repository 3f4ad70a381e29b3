package protocol

// EncodeStatString obfuscates b so it contains no zero bytes. Every group of
// up to 7 bytes is preceded by a mask byte; bit i+1 of the mask is set when
// byte i of the group was odd and sent unchanged, and clear when it was even
// and incremented. Bit 0 is always set.
func EncodeStatString(b []byte) []byte {
	out := make([]byte, 0, len(b)+len(b)/7+1)
	mask := byte(1)
	groupStart := 0
	for i, v := range b {
		if i%7 == 0 {
			groupStart = len(out)
			out = append(out, 0)
		}
		if v%2 == 0 {
			out = append(out, v+1)
		} else {
			out = append(out, v)
			mask |= 1 << (uint(i%7) + 1)
		}
		if i%7 == 6 || i == len(b)-1 {
			out[groupStart] = mask
			mask = 1
		}
	}
	return out
}

// DecodeStatString reverses EncodeStatString.
func DecodeStatString(b []byte) []byte {
	out := make([]byte, 0, len(b))
	var mask byte
	for i, v := range b {
		if i%8 == 0 {
			mask = v
			continue
		}
		if mask&(1<<uint(i%8)) == 0 {
			out = append(out, v-1)
		} else {
			out = append(out, v)
		}
	}
	return out
}

// ValidStatString reports whether b is a well-formed encoded stat string: no
// zero bytes and every mask byte has bit 0 set.
func ValidStatString(b []byte) bool {
	for i, v := range b {
		if v == 0 {
			return false
		}
		if i%8 == 0 && v&1 == 0 {
			return false
		}
	}
	return true
}
