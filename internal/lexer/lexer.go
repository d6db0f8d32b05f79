package lexer

import (
	"strings"
	"unicode/utf8"
)

var operators = []string{
	"<<=", ">>=",
	"==", "!=", "<=", ">=", "&&", "||", "++", "--", "+=", "-=", "*=", "/=",
	"%=", "&=", "|=", "^=", "<<", ">>", "->", "::",
	"+", "-", "*", "/", "%", "=", "<", ">", "!", "&", "|", "^", "~", "?", ":", ".",
}

const punctuation = "(){}[];,"

// Lex tokenizes src. Errors are collected rather than aborting the scan, so
// one bad token does not hide problems further down the file.
func Lex(src string) ([]Token, []*Error) {
	return LexFile(src, "", 1)
}

// LexFile tokenizes src attributing positions to file, starting at firstLine.
func LexFile(src, file string, firstLine int) ([]Token, []*Error) {
	s := &scanner{src: src, file: file, line: firstLine, col: 1, lineStart: true}
	s.run()
	return s.tokens, s.errs
}

type scanner struct {
	src       string
	pos       int
	file      string
	line      int
	col       int
	lineStart bool

	tokens []Token
	errs   []*Error
}

func (s *scanner) peek(off int) byte {
	if s.pos+off < len(s.src) {
		return s.src[s.pos+off]
	}
	return 0
}

func (s *scanner) advance(n int) {
	for i := 0; i < n && s.pos < len(s.src); i++ {
		if s.src[s.pos] == '\n' {
			s.line++
			s.col = 1
			s.lineStart = true
		} else {
			s.col++
		}
		s.pos++
	}
}

func (s *scanner) errorf(line, col int, msg string) {
	s.errs = append(s.errs, &Error{File: s.file, Line: line, Column: col, Msg: msg})
}

func (s *scanner) emit(kind Kind, text string, line, col int) {
	s.tokens = append(s.tokens, Token{Kind: kind, Text: text, File: s.file, Line: line, Column: col})
}

func (s *scanner) run() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\n':
			s.advance(1)
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			s.advance(1)
		case c == '#' && s.lineStart:
			s.skipDirective()
		case c == '/' && s.peek(1) == '/':
			s.skipLineComment()
		case c == '/' && s.peek(1) == '*':
			s.skipBlockComment()
		default:
			s.lineStart = false
			s.scanToken()
		}
	}
}

// skipDirective drops a preprocessor line, honoring backslash continuations.
func (s *scanner) skipDirective() {
	for s.pos < len(s.src) {
		if s.src[s.pos] == '\\' && (s.peek(1) == '\n' || (s.peek(1) == '\r' && s.peek(2) == '\n')) {
			if s.peek(1) == '\r' {
				s.advance(1)
			}
			s.advance(2)
			continue
		}
		if s.src[s.pos] == '\n' {
			return
		}
		s.advance(1)
	}
}

func (s *scanner) skipLineComment() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.advance(1)
	}
}

func (s *scanner) skipBlockComment() {
	line, col := s.line, s.col
	s.advance(2)
	for s.pos < len(s.src) {
		if s.src[s.pos] == '*' && s.peek(1) == '/' {
			s.advance(2)
			s.lineStart = false
			return
		}
		s.advance(1)
	}
	s.errorf(line, col, "unterminated comment")
}

func (s *scanner) scanToken() {
	c := s.src[s.pos]
	line, col := s.line, s.col
	switch {
	case (c == 'C' || c == 'D') && s.peek(1) == '\'':
		s.scanPrefixedLiteral(c)
	case isIdentStart(c):
		start := s.pos
		for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
			s.advance(1)
		}
		word := s.src[start:s.pos]
		if len(word) > MaxIdentifierLength {
			s.errorf(line, col, "identifier '"+word[:16]+"...' exceeds maximum length")
			return
		}
		if IsKeyword(word) {
			s.emit(Keyword, word, line, col)
		} else {
			s.emit(Identifier, word, line, col)
		}
	case isDigit(c) || (c == '.' && isDigit(s.peek(1))):
		s.scanNumber()
	case c == '"':
		s.scanString()
	case c == '\'':
		s.scanChar()
	case strings.IndexByte(punctuation, c) >= 0:
		s.advance(1)
		s.emit(Punctuation, string(c), line, col)
	default:
		for _, op := range operators {
			if strings.HasPrefix(s.src[s.pos:], op) {
				s.advance(len(op))
				s.emit(Operator, op, line, col)
				return
			}
		}
		r, size := utf8.DecodeRuneInString(s.src[s.pos:])
		s.advance(size)
		s.errorf(line, col, "unknown character '"+string(r)+"'")
	}
}

func (s *scanner) scanNumber() {
	line, col := s.line, s.col
	start := s.pos
	if s.src[s.pos] == '0' && (s.peek(1) == 'x' || s.peek(1) == 'X') {
		s.advance(2)
		digits := 0
		for s.pos < len(s.src) && isHexDigit(s.src[s.pos]) {
			s.advance(1)
			digits++
		}
		if digits == 0 || (s.pos < len(s.src) && isIdentPart(s.src[s.pos])) {
			s.consumeIdentTail()
			s.errorf(line, col, "malformed hexadecimal literal '"+s.src[start:s.pos]+"'")
			return
		}
		s.emit(Number, s.src[start:s.pos], line, col)
		return
	}
	for s.pos < len(s.src) && isDigit(s.src[s.pos]) {
		s.advance(1)
	}
	if s.pos < len(s.src) && s.src[s.pos] == '.' {
		s.advance(1)
		for s.pos < len(s.src) && isDigit(s.src[s.pos]) {
			s.advance(1)
		}
	}
	if s.pos < len(s.src) && (s.src[s.pos] == 'e' || s.src[s.pos] == 'E') {
		s.advance(1)
		if s.pos < len(s.src) && (s.src[s.pos] == '+' || s.src[s.pos] == '-') {
			s.advance(1)
		}
		digits := 0
		for s.pos < len(s.src) && isDigit(s.src[s.pos]) {
			s.advance(1)
			digits++
		}
		if digits == 0 {
			s.consumeIdentTail()
			s.errorf(line, col, "malformed exponent in '"+s.src[start:s.pos]+"'")
			return
		}
	}
	if s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
		s.consumeIdentTail()
		s.errorf(line, col, "malformed numeric literal '"+s.src[start:s.pos]+"'")
		return
	}
	s.emit(Number, s.src[start:s.pos], line, col)
}

func (s *scanner) consumeIdentTail() {
	for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
		s.advance(1)
	}
}

// scanQuoted consumes a quoted run starting at the opening quote and returns
// false when the closing quote is missing on the same line.
func (s *scanner) scanQuoted(quote byte) bool {
	s.advance(1)
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\\' && s.pos+1 < len(s.src) && s.src[s.pos+1] != '\n':
			s.advance(2)
		case c == quote:
			s.advance(1)
			return true
		case c == '\n':
			return false
		default:
			s.advance(1)
		}
	}
	return false
}

func (s *scanner) scanString() {
	line, col := s.line, s.col
	start := s.pos
	if !s.scanQuoted('"') {
		s.errorf(line, col, "unterminated string")
		return
	}
	s.emit(String, s.src[start:s.pos], line, col)
}

func (s *scanner) scanChar() {
	line, col := s.line, s.col
	start := s.pos
	if !s.scanQuoted('\'') {
		s.errorf(line, col, "unterminated character literal")
		return
	}
	text := s.src[start:s.pos]
	if _, err := DecodeChar(text); err != nil {
		s.errorf(line, col, err.Error())
		return
	}
	s.emit(Number, text, line, col)
}

func (s *scanner) scanPrefixedLiteral(prefix byte) {
	line, col := s.line, s.col
	start := s.pos
	s.advance(1)
	if !s.scanQuoted('\'') {
		s.errorf(line, col, "unterminated literal")
		return
	}
	text := s.src[start:s.pos]
	var err error
	if prefix == 'C' {
		_, err = ParseColor(text)
	} else {
		_, err = ParseDatetime(text)
	}
	if err != nil {
		s.errorf(line, col, err.Error())
		return
	}
	s.emit(Number, text, line, col)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
