package preprocess

import (
	"strings"
)

// logicalLines splits src into lines, joining backslash continuations. A
// joined line is followed by empty placeholders so indices keep matching
// physical line numbers.
func logicalLines(src string) []string {
	raw := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		line := raw[i]
		joined := 0
		for strings.HasSuffix(line, "\\") && i+1 < len(raw) {
			i++
			joined++
			line = line[:len(line)-1] + " " + raw[i]
		}
		out = append(out, line)
		for ; joined > 0; joined-- {
			out = append(out, "")
		}
	}
	return out
}

// commentState reports whether a block comment is still open at the end of
// line, given whether one was open at its start.
func commentState(line string, inComment bool) bool {
	for i := 0; i < len(line); i++ {
		c := line[i]
		if inComment {
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				inComment = false
				i++
			}
			continue
		}
		switch {
		case c == '"' || c == '\'':
			for i++; i < len(line) && line[i] != c; i++ {
				if line[i] == '\\' {
					i++
				}
			}
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return false
		case c == '/' && i+1 < len(line) && line[i+1] == '*':
			inComment = true
			i++
		}
	}
	return inComment
}

func splitDirective(s string) (string, string) {
	s = strings.TrimSpace(s)
	n := 0
	for n < len(s) && s[n] != ' ' && s[n] != '\t' && s[n] != '(' && s[n] != '"' && s[n] != '<' {
		n++
	}
	return s[:n], strings.TrimSpace(s[n:])
}

func firstWord(s string) string {
	word, _ := splitDirective(stripLineComment(s))
	return word
}

func stripLineComment(s string) string {
	inString := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && inString:
			i++
		case s[i] == '"':
			inString = !inString
		case !inString && s[i] == '/' && i+1 < len(s) && s[i+1] == '/':
			return s[:i]
		}
	}
	return s
}

func importPath(rest string) string {
	rest = strings.TrimSpace(stripLineComment(rest))
	if len(rest) >= 2 {
		if (rest[0] == '"' && rest[len(rest)-1] == '"') || (rest[0] == '<' && rest[len(rest)-1] == '>') {
			return rest[1 : len(rest)-1]
		}
	}
	return rest
}

func isNativeModule(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".dll") || strings.HasSuffix(lower, ".ex4") || strings.HasSuffix(lower, ".ex5")
}

func unquote(s string) string {
	s = strings.TrimSpace(stripLineComment(s))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func parsePragma(rest, file string, line int) Pragma {
	pr := Pragma{File: file, Line: line, Text: strings.TrimSpace(rest)}
	fields := strings.FieldsFunc(stripLineComment(rest), func(r rune) bool {
		return r == ' ' || r == '\t' || r == ',' || r == '(' || r == ')' || r == ':'
	})
	if len(fields) >= 2 && fields[0] == "warning" {
		pr.Action = fields[1]
		pr.Codes = fields[2:]
	}
	return pr
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
