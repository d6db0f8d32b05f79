// Package preprocess runs the directive pass over script source: macro
// definition and expansion, conditional compilation, file imports,
// #property collection and #pragma recording.
package preprocess

import (
	"errors"
	"fmt"
	"strings"

	"mqlbt/internal/lexer"
)

// FileProvider resolves an #import/#include path to file contents.
type FileProvider func(path string) (string, error)

// Options configures a preprocessing run.
type Options struct {
	// File names the root source for diagnostics.
	File string
	// FileProvider resolves imports. A nil provider makes every import fail.
	FileProvider FileProvider
	// Defines seeds the macro table with object-like macros.
	Defines map[string]string
}

// Macro is an entry of the macro table. Func marks a function-like macro,
// which may have zero parameters.
type Macro struct {
	Body   string
	Params []string
	Func   bool
}

// Pragma is a recorded #pragma line. For warning pragmas Action is
// "disable", "enable" or "default" and Codes lists the affected codes.
type Pragma struct {
	File   string
	Line   int
	Action string
	Codes  []string
	Text   string
}

// Error is a fatal preprocessing error.
type Error struct {
	File string
	Line int
	Msg  string
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("%d: %s", e.Line, e.Msg)
}

// Result is the output of a preprocessing run. Errors holds *lexer.Error
// values from every lexed chunk as well as fatal *Error values.
type Result struct {
	Tokens     []lexer.Token
	Properties map[string][]string
	Errors     []error
	Pragmas    []Pragma
}

// Fatal reports whether a directive-level error occurred.
func (r *Result) Fatal() bool {
	for _, err := range r.Errors {
		var pe *Error
		if errors.As(err, &pe) {
			return true
		}
	}
	return false
}

type frame struct {
	parentActive bool
	value        bool
	active       bool
	elseSeen     bool
}

// Preprocessor owns one macro table. It is not safe for concurrent use and
// is never shared between compilations.
type Preprocessor struct {
	opts       Options
	macros     map[string]*Macro
	tokens     []lexer.Token
	properties map[string][]string
	pragmas    []Pragma
	errs       []error
	importing  []string
}

// New creates a Preprocessor seeded with the predefined macros.
func New(opts Options) *Preprocessor {
	p := &Preprocessor{
		opts:       opts,
		macros:     make(map[string]*Macro),
		properties: make(map[string][]string),
	}
	p.macros["__MQL__"] = &Macro{Body: "1"}
	p.macros["__MQL5__"] = &Macro{Body: "1"}
	for name, body := range opts.Defines {
		p.macros[name] = &Macro{Body: body}
	}
	return p
}

// Run preprocesses src with a fresh Preprocessor.
func Run(src string, opts Options) *Result {
	p := New(opts)
	p.Process(src, opts.File)
	return p.Result()
}

// Macro returns the current definition of name.
func (p *Preprocessor) Macro(name string) (*Macro, bool) {
	m, ok := p.macros[name]
	return m, ok
}

// Result returns the accumulated output.
func (p *Preprocessor) Result() *Result {
	return &Result{
		Tokens:     p.tokens,
		Properties: p.properties,
		Errors:     p.errs,
		Pragmas:    p.pragmas,
	}
}

func (p *Preprocessor) errorf(file string, line int, format string, args ...any) {
	p.errs = append(p.errs, &Error{File: file, Line: line, Msg: fmt.Sprintf(format, args...)})
}

// Process runs the directive pass over one file and appends its tokens.
func (p *Preprocessor) Process(src, file string) {
	lines := logicalLines(src)

	var (
		stack        []frame
		chunk        strings.Builder
		chunkStart   = 1
		inComment    bool
		nativeImport bool
	)
	active := func() bool {
		return len(stack) == 0 || stack[len(stack)-1].active
	}
	flush := func(next int) {
		if chunk.Len() > 0 {
			p.emitChunk(chunk.String(), file, chunkStart)
			chunk.Reset()
		}
		chunkStart = next
	}

	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)
		if inComment || !strings.HasPrefix(trimmed, "#") {
			if active() && !nativeImport {
				chunk.WriteString(line)
			}
			chunk.WriteByte('\n')
			inComment = commentState(line, inComment)
			continue
		}

		flush(lineNo + 1)
		name, rest := splitDirective(trimmed[1:])

		switch name {
		case "ifdef", "ifndef":
			_, defined := p.macros[firstWord(rest)]
			value := defined == (name == "ifdef")
			parent := active()
			stack = append(stack, frame{parentActive: parent, value: value, active: parent && value})
			continue
		case "else":
			if len(stack) == 0 {
				p.errorf(file, lineNo, "#else without matching #ifdef")
				continue
			}
			top := &stack[len(stack)-1]
			if top.elseSeen {
				p.errorf(file, lineNo, "duplicate #else")
				continue
			}
			top.elseSeen = true
			top.active = top.parentActive && !top.value
			continue
		case "endif":
			if len(stack) == 0 {
				p.errorf(file, lineNo, "#endif without matching #ifdef")
				continue
			}
			stack = stack[:len(stack)-1]
			continue
		}

		if !active() {
			continue
		}
		if nativeImport {
			if name == "import" && strings.TrimSpace(rest) == "" {
				nativeImport = false
			}
			continue
		}

		switch name {
		case "define":
			p.define(rest, file, lineNo)
		case "undef":
			delete(p.macros, firstWord(rest))
		case "import", "include":
			path := importPath(rest)
			if path == "" {
				if name == "include" {
					p.errorf(file, lineNo, "#include without a path")
				}
				continue
			}
			if isNativeModule(path) {
				nativeImport = true
				continue
			}
			p.importFile(path, file, lineNo)
		case "property":
			key, value := splitDirective(rest)
			p.properties[key] = append(p.properties[key], unquote(strings.TrimSpace(value)))
		case "pragma":
			p.pragmas = append(p.pragmas, parsePragma(rest, file, lineNo))
		default:
			p.errorf(file, lineNo, "unknown directive #%s", name)
		}
	}
	flush(len(lines) + 1)

	if len(stack) > 0 {
		p.errorf(file, len(lines), "missing #endif")
	}
	if inComment {
		p.errs = append(p.errs, &lexer.Error{File: file, Line: len(lines), Column: 1, Msg: "unterminated comment"})
	}
}

func (p *Preprocessor) emitChunk(text, file string, firstLine int) {
	toks, errs := lexer.LexFile(text, file, firstLine)
	for _, err := range errs {
		// Comments spanning a directive are reported once at end of file.
		if err.Msg == "unterminated comment" {
			continue
		}
		p.errs = append(p.errs, err)
	}
	p.tokens = append(p.tokens, p.expand(toks, nil)...)
}

func (p *Preprocessor) define(rest, file string, line int) {
	rest = strings.TrimSpace(rest)
	n := 0
	for n < len(rest) && isIdentByte(rest[n]) {
		n++
	}
	if n == 0 {
		p.errorf(file, line, "#define without a macro name")
		return
	}
	name := rest[:n]
	rest = rest[n:]
	m := &Macro{}
	if strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			p.errorf(file, line, "unterminated parameter list in macro %s", name)
			return
		}
		m.Func = true
		for _, param := range strings.Split(rest[1:end], ",") {
			param = strings.TrimSpace(param)
			if param != "" {
				m.Params = append(m.Params, param)
			}
		}
		rest = rest[end+1:]
	}
	m.Body = strings.TrimSpace(stripLineComment(rest))
	p.macros[name] = m
}

func (p *Preprocessor) importFile(path, from string, line int) {
	if p.opts.FileProvider == nil {
		p.errorf(from, line, "cannot resolve import %q: no file provider", path)
		return
	}
	for _, open := range p.importing {
		if open == path {
			p.errorf(from, line, "import cycle through %q", path)
			return
		}
	}
	src, err := p.opts.FileProvider(path)
	if err != nil {
		p.errorf(from, line, "cannot resolve import %q: %v", path, err)
		return
	}
	p.importing = append(p.importing, path)
	p.Process(src, path)
	p.importing = p.importing[:len(p.importing)-1]
}
