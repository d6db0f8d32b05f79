// Package lexer converts script source text into a flat token stream.
package lexer

import "fmt"

// Kind classifies a token.
type Kind int

const (
	Keyword Kind = iota
	Identifier
	Number
	String
	Operator
	Punctuation
)

var kindNames = [...]string{
	Keyword:     "keyword",
	Identifier:  "identifier",
	Number:      "number",
	String:      "string",
	Operator:    "operator",
	Punctuation: "punctuation",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Token is a single lexeme. Text holds the raw source form, so string, char,
// color and datetime literals keep their quotes and prefixes.
type Token struct {
	Kind   Kind
	Text   string
	File   string
	Line   int
	Column int
}

// Is reports whether the token is an operator or punctuation with the given text.
func (t Token) Is(text string) bool {
	return (t.Kind == Operator || t.Kind == Punctuation) && t.Text == text
}

// IsKeyword reports whether the token is the given keyword.
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == Keyword && t.Text == kw
}

// IsWord reports whether the token is a keyword or an identifier.
func (t Token) IsWord() bool {
	return t.Kind == Keyword || t.Kind == Identifier
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d:%d", t.Kind, t.Text, t.Line, t.Column)
}

// MaxIdentifierLength is the longest identifier the language accepts.
const MaxIdentifierLength = 63

var keywords = map[string]bool{
	// types
	"bool": true, "char": true, "uchar": true, "short": true, "ushort": true,
	"int": true, "uint": true, "long": true, "ulong": true, "float": true,
	"double": true, "string": true, "color": true, "datetime": true, "void": true,
	// declarations
	"class": true, "struct": true, "enum": true, "interface": true, "template": true,
	"typename": true, "public": true, "private": true, "protected": true,
	"virtual": true, "override": true, "final": true, "static": true, "const": true,
	"input": true, "sinput": true, "extern": true, "typedef": true,
	// statements
	"if": true, "else": true, "for": true, "while": true, "do": true, "switch": true,
	"case": true, "default": true, "break": true, "continue": true, "return": true,
	"new": true, "delete": true, "this": true, "operator": true, "sizeof": true,
	// literals
	"true": true, "false": true, "NULL": true,
}

// IsKeyword reports whether word is a reserved word of the language.
func IsKeyword(word string) bool {
	return keywords[word]
}

// Error is a lexical error with its source position.
type Error struct {
	File   string
	Line   int
	Column int
	Msg    string
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Msg)
}
