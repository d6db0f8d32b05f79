package lexer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// DecodeString returns the value of a raw double-quoted string literal.
func DecodeString(raw string) (string, error) {
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return "", fmt.Errorf("malformed string literal %s", raw)
	}
	return unescape(raw[1 : len(raw)-1])
}

// DecodeChar returns the code point of a raw single-quoted char literal.
func DecodeChar(raw string) (int64, error) {
	if len(raw) < 3 || raw[0] != '\'' || raw[len(raw)-1] != '\'' {
		return 0, fmt.Errorf("malformed character literal %s", raw)
	}
	s, err := unescape(raw[1 : len(raw)-1])
	if err != nil {
		return 0, err
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("malformed character literal %s", raw)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return int64(r), nil
}

func unescape(body string) (string, error) {
	if !strings.Contains(body, `\`) {
		return body, nil
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", errors.New("dangling escape in literal")
		}
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case '\\', '"', '\'', '?':
			b.WriteByte(body[i])
		case 'x', 'X', 'u', 'U':
			j := i + 1
			for j < len(body) && j < i+5 && isHexDigit(body[j]) {
				j++
			}
			if j == i+1 {
				return "", fmt.Errorf("malformed escape \\%c", body[i])
			}
			n, _ := strconv.ParseUint(body[i+1:j], 16, 32)
			b.WriteRune(rune(n))
			i = j - 1
		default:
			return "", fmt.Errorf("unknown escape \\%c", body[i])
		}
	}
	return b.String(), nil
}

// ParseColor decodes a C'r,g,b' literal into the 0x00BBGGRR color layout.
func ParseColor(raw string) (uint32, error) {
	if !strings.HasPrefix(raw, "C'") || !strings.HasSuffix(raw, "'") || len(raw) < 3 {
		return 0, fmt.Errorf("malformed color literal %s", raw)
	}
	parts := strings.Split(raw[2:len(raw)-1], ",")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed color literal %s", raw)
	}
	var rgb [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 0, 32)
		if err != nil || n > 255 {
			return 0, fmt.Errorf("malformed color literal %s", raw)
		}
		rgb[i] = uint32(n)
	}
	return rgb[0] | rgb[1]<<8 | rgb[2]<<16, nil
}

// ParseDatetime decodes a D'…' literal into seconds since the Unix epoch.
// Accepted forms are yyyy.mm.dd and dd.mm.yyyy, each optionally followed by
// hh:mi or hh:mi:ss; a time without a date is taken on 1970.01.01.
func ParseDatetime(raw string) (int64, error) {
	if !strings.HasPrefix(raw, "D'") || !strings.HasSuffix(raw, "'") || len(raw) < 3 {
		return 0, fmt.Errorf("malformed datetime literal %s", raw)
	}
	body := strings.TrimSpace(raw[2 : len(raw)-1])
	if body == "" {
		return 0, nil
	}
	t, err := ParseTimeText(body)
	if err != nil {
		return 0, fmt.Errorf("malformed datetime literal %s", raw)
	}
	return t, nil
}

var timeLayouts = []string{
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006.01.02 15",
	"2006.01.02",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	"15:04:05",
	"15:04",
}

// ParseTimeText parses the textual datetime forms shared by D'' literals and
// the StringToTime builtin. Times are UTC.
func ParseTimeText(s string) (int64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() == 0 {
				t = t.AddDate(1970, 0, 0)
			}
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognised datetime %q", s)
}
