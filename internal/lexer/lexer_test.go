package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(toks []Token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Text
	}
	return out
}

func TestLexBasicDeclaration(t *testing.T) {
	toks, errs := Lex("int count = 0x1F;")
	require.Empty(t, errs)
	require.Len(t, toks, 5)

	assert.Equal(t, Keyword, toks[0].Kind)
	assert.Equal(t, Identifier, toks[1].Kind)
	assert.Equal(t, Operator, toks[2].Kind)
	assert.Equal(t, Number, toks[3].Kind)
	assert.Equal(t, "0x1F", toks[3].Text)
	assert.Equal(t, Punctuation, toks[4].Kind)
}

func TestLexOperatorsLongestMatch(t *testing.T) {
	toks, errs := Lex("a<<=b>>c::d->e++ != f")
	require.Empty(t, errs)
	assert.Equal(t, []string{"a", "<<=", "b", ">>", "c", "::", "d", "->", "e", "++", "!=", "f"}, texts(toks))
}

func TestLexPositions(t *testing.T) {
	toks, errs := Lex("int a;\n  double b;")
	require.Empty(t, errs)
	require.Len(t, toks, 6)
	assert.Equal(t, 1, toks[0].Line)
	assert.Equal(t, 1, toks[0].Column)
	assert.Equal(t, 2, toks[3].Line)
	assert.Equal(t, 3, toks[3].Column)
}

func TestLexLiterals(t *testing.T) {
	tests := []struct {
		src  string
		kind Kind
	}{
		{"42", Number},
		{"3.25", Number},
		{".5", Number},
		{"1e10", Number},
		{"2.5E-3", Number},
		{"'a'", Number},
		{`'\n'`, Number},
		{"C'255,0,128'", Number},
		{"D'2024.01.02 10:30'", Number},
		{`"hello \"world\""`, String},
	}
	for _, tt := range tests {
		toks, errs := Lex(tt.src)
		require.Empty(t, errs, tt.src)
		require.Len(t, toks, 1, tt.src)
		assert.Equal(t, tt.kind, toks[0].Kind, tt.src)
		assert.Equal(t, tt.src, toks[0].Text)
	}
}

func TestLexSkipsCommentsAndDirectives(t *testing.T) {
	src := "#property strict\n// line comment\nint /* inline */ x; /* multi\nline */ y\n  #define A \\\n  1\nz"
	toks, errs := Lex(src)
	require.Empty(t, errs)
	assert.Equal(t, []string{"int", "x", ";", "y", "z"}, texts(toks))
	assert.Equal(t, 7, toks[4].Line)
}

func TestLexCollectsErrorsAndContinues(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
		rest []string
	}{
		{"unterminated string", "a \"abc\nb", "unterminated string", []string{"a", "b"}},
		{"unknown char", "a @ b", "unknown character '@'", []string{"a", "b"}},
		{"malformed hex", "0xZZ b", "malformed hexadecimal literal '0xZZ'", []string{"b"}},
		{"malformed exponent", "1e+ b", "malformed exponent in '1e+'", []string{"b"}},
		{"bad color", "C'1,2' b", "malformed color literal C'1,2'", []string{"b"}},
		{"bad datetime", "D'garbage' b", "malformed datetime literal D'garbage'", []string{"b"}},
		{"unterminated comment", "a /* never closed", "unterminated comment", []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks, errs := Lex(tt.src)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.msg, errs[0].Msg)
			assert.Equal(t, tt.rest, texts(toks))
		})
	}
}

func TestLexIdentifierTooLong(t *testing.T) {
	long := "a123456789012345678901234567890123456789012345678901234567890123"
	require.Len(t, long, 64)
	toks, errs := Lex(long + " ok")
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].Column)
	assert.Equal(t, []string{"ok"}, texts(toks))

	toks, errs = Lex(long[:63])
	require.Empty(t, errs)
	require.Len(t, toks, 1)
}

func TestErrorString(t *testing.T) {
	err := &Error{File: "a.mq4", Line: 3, Column: 7, Msg: "unknown character '$'"}
	assert.Equal(t, "a.mq4:3:7: unknown character '$'", err.Error())
}

func TestDecodeLiterals(t *testing.T) {
	s, err := DecodeString(`"a\tb\x41"`)
	require.NoError(t, err)
	assert.Equal(t, "a\tbA", s)

	c, err := DecodeChar(`'\''`)
	require.NoError(t, err)
	assert.Equal(t, int64('\''), c)

	clr, err := ParseColor("C'0x10,32,0'")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x10|32<<8), clr)

	dt, err := ParseDatetime("D'1970.01.02 00:00:01'")
	require.NoError(t, err)
	assert.Equal(t, int64(86401), dt)

	dt, err = ParseDatetime("D''")
	require.NoError(t, err)
	assert.Equal(t, int64(0), dt)

	dt, err = ParseTimeText("01.02.1970")
	require.NoError(t, err)
	assert.Equal(t, int64(31*86400), dt)

	dt, err = ParseTimeText("00:01")
	require.NoError(t, err)
	assert.Equal(t, int64(60), dt)
}
