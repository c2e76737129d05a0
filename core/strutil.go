package core

import "strconv"

// Small formatting helpers for firmware code, which stays off fmt.

func itoa(n int) string { return strconv.Itoa(n) }

func utoa(n uint32) string { return strconv.FormatUint(uint64(n), 10) }

// quoteJSON returns s as a JSON string literal.
func quoteJSON(s string) string {
	buf := make([]byte, 0, len(s)+2)
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			buf = append(buf, '\\', c)
		case c < 0x20:
			buf = append(buf, '\\', 'u', '0', '0', hexDigit(c>>4), hexDigit(c&0xF))
		default:
			buf = append(buf, c)
		}
	}
	return string(append(buf, '"'))
}

func hexDigit(n byte) byte {
	return "0123456789abcdef"[n]
}

// numberToJSON renders the integer kinds constants are registered with.
// Anything else yields "".
func numberToJSON(v interface{}) string {
	switch val := v.(type) {
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	}
	return ""
}
