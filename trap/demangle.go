package trap

import "strings"

// Demangle returns a readable form of a function name. Rust legacy
// mangling (_ZN<len><seg>...E) is decoded into a :: path with the trailing
// hash segment stripped; anything else passes through unchanged.
func Demangle(name string) string {
	if !strings.HasPrefix(name, "_ZN") {
		return name
	}

	s := name[len("_ZN"):]
	var parts []string

	for len(s) > 0 && s[0] != 'E' {
		n, rest, ok := readSegmentLen(s)
		if !ok || n > len(rest) {
			break
		}
		seg := rest[:n]
		s = rest[n:]

		if strings.HasPrefix(seg, "wit_import") || isHashSegment(seg) {
			continue
		}
		parts = append(parts, seg)
	}

	if len(parts) == 0 {
		return name
	}
	return strings.Join(parts, "::")
}

// readSegmentLen consumes the decimal length prefix of the next segment.
func readSegmentLen(s string) (n int, rest string, ok bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		n = n*10 + int(s[i]-'0')
		i++
	}
	return n, s[i:], i > 0
}

// isHashSegment reports whether seg is a compiler hash suffix: 'h'
// followed by 16 hex digits.
func isHashSegment(seg string) bool {
	if len(seg) != 17 || seg[0] != 'h' {
		return false
	}
	for i := 1; i < len(seg); i++ {
		c := seg[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
