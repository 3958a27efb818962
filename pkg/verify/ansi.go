package verify

// StripANSI removes terminal escape sequences from data, returning only
// the visible text a human would see rendered. It recognizes:
//   - C0 control codes other than tab/newline/carriage-return (dropped)
//   - ESC-prefixed two-character sequences (ESC followed by one byte)
//   - CSI sequences: ESC '[' ... final byte in 0x40-0x7E
//   - OSC/DCS/PM/APC sequences: ESC ']'/'P'/'^'/'_' ... terminated by
//     BEL (0x07) or ST (ESC '\\')
//
// This is a best-effort scanner over one complete chunk; it does not
// carry partial sequences across calls, which is acceptable here because
// the matcher only needs eventual containment within the verification
// window, not byte-exact reconstruction of a terminal screen.
func StripANSI(data []byte) []byte {
	out := make([]byte, 0, len(data))
	i := 0
	n := len(data)

	for i < n {
		c := data[i]

		if c == 0x1b { // ESC
			advance := scanEscape(data, i)
			if advance > 0 {
				i += advance
				continue
			}
			// Lone/unterminated ESC: drop it and keep going.
			i++
			continue
		}

		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			i++
			continue
		}

		out = append(out, c)
		i++
	}

	return out
}

// scanEscape returns the number of bytes making up the escape sequence
// starting at data[start] (which must be ESC), or 0 if it cannot
// determine a length (caller should drop just the ESC byte).
func scanEscape(data []byte, start int) int {
	n := len(data)
	if start+1 >= n {
		return 0
	}

	switch data[start+1] {
	case '[': // CSI: ESC '[' params... final
		j := start + 2
		for j < n {
			b := data[j]
			if b >= 0x40 && b <= 0x7e {
				return j - start + 1
			}
			j++
		}
		return n - start // unterminated, consume to end

	case ']', 'P', '^', '_': // OSC / DCS / PM / APC: terminated by BEL or ST
		j := start + 2
		for j < n {
			if data[j] == 0x07 {
				return j - start + 1
			}
			if data[j] == 0x1b && j+1 < n && data[j+1] == '\\' {
				return j - start + 2
			}
			j++
		}
		return n - start

	default:
		// Two-byte escape, e.g. ESC '=' or ESC '>' (keypad mode switches).
		return 2
	}
}
