package terminal

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// File open flags. The values match the FILE_* script constants.
const (
	FileRead    = 1
	FileWrite   = 2
	FileBin     = 4
	FileCSV     = 8
	FileTxt     = 16
	FileANSI    = 32
	FileUnicode = 64
)

var (
	ErrInvalidHandle = errors.New("invalid file handle")
	ErrFileNotFound  = errors.New("file not found")
	ErrFileMode      = errors.New("file not opened for this operation")
	ErrFileName      = errors.New("invalid file name")
)

var utf16 = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)

type handle struct {
	name  string
	flags int
	delim string
	text  []byte // decoded content
	pos   int
}

func (h *handle) unicode() bool { return h.flags&FileUnicode != 0 }

func (h *handle) encode() ([]byte, error) {
	if !h.unicode() || len(h.text) == 0 {
		return append([]byte(nil), h.text...), nil
	}
	return utf16.NewEncoder().Bytes(h.text)
}

// OpenFile opens name in the terminal's file area and returns a handle.
// Reading requires the file to exist; writing without reading truncates it.
// delim separates CSV fields and defaults to a tab.
func (t *Terminal) OpenFile(name string, flags int, delim string) (int, error) {
	if strings.TrimSpace(name) == "" || strings.Contains(name, "..") {
		return -1, fmt.Errorf("opening %q: %w", name, ErrFileName)
	}
	if flags&(FileRead|FileWrite) == 0 {
		return -1, fmt.Errorf("opening %q: %w", name, ErrFileMode)
	}
	if delim == "" {
		delim = "\t"
	}
	h := &handle{name: name, flags: flags, delim: delim}
	raw, exists := t.files[name]
	switch {
	case flags&FileWrite != 0 && flags&FileRead == 0:
		t.files[name] = nil
	case !exists && flags&FileWrite == 0:
		return -1, fmt.Errorf("opening %q: %w", name, ErrFileNotFound)
	case h.unicode() && len(raw) > 0:
		text, err := utf16.NewDecoder().Bytes(raw)
		if err != nil {
			return -1, fmt.Errorf("decoding %q: %w", name, err)
		}
		h.text = text
	default:
		h.text = append([]byte(nil), raw...)
		if !exists {
			t.files[name] = nil
		}
	}
	fd := t.nextFD
	t.nextFD++
	t.handles[fd] = h
	return fd, nil
}

func (t *Terminal) handle(fd int, need int) (*handle, error) {
	h, ok := t.handles[fd]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", fd, ErrInvalidHandle)
	}
	if need != 0 && h.flags&need == 0 {
		return nil, fmt.Errorf("%s: %w", h.name, ErrFileMode)
	}
	return h, nil
}

// CloseFile writes the handle's content back and releases it.
func (t *Terminal) CloseFile(fd int) error {
	h, err := t.handle(fd, 0)
	if err != nil {
		return err
	}
	delete(t.handles, fd)
	if h.flags&FileWrite == 0 {
		return nil
	}
	raw, err := h.encode()
	if err != nil {
		return fmt.Errorf("encoding %q: %w", h.name, err)
	}
	t.files[h.name] = raw
	return nil
}

// CloseAll closes every open handle.
func (t *Terminal) CloseAll() error {
	fds := make([]int, 0, len(t.handles))
	for fd := range t.handles {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	var errs []error
	for _, fd := range fds {
		errs = append(errs, t.CloseFile(fd))
	}
	return errors.Join(errs...)
}

func (h *handle) writeAt(b []byte) int {
	end := h.pos + len(b)
	if end > len(h.text) {
		h.text = append(h.text, make([]byte, end-len(h.text))...)
	}
	copy(h.text[h.pos:], b)
	h.pos = end
	return len(b)
}

// WriteFields writes fields joined by the handle's delimiter and ends the
// line. It returns the number of bytes written.
func (t *Terminal) WriteFields(fd int, fields ...string) (int, error) {
	h, err := t.handle(fd, FileWrite)
	if err != nil {
		return 0, err
	}
	return h.writeAt([]byte(strings.Join(fields, h.delim) + "\r\n")), nil
}

// WriteString writes s at the cursor.
func (t *Terminal) WriteString(fd int, s string) (int, error) {
	h, err := t.handle(fd, FileWrite)
	if err != nil {
		return 0, err
	}
	return h.writeAt([]byte(s)), nil
}

// ReadString reads up to the end of the line, or to the next delimiter for
// CSV files, and consumes the terminator.
func (t *Terminal) ReadString(fd int) (string, error) {
	h, err := t.handle(fd, FileRead)
	if err != nil {
		return "", err
	}
	rest := h.text[h.pos:]
	end := bytes.IndexByte(rest, '\n')
	if end < 0 {
		end = len(rest)
	}
	skip := 1
	if h.flags&FileCSV != 0 {
		if i := bytes.Index(rest[:end], []byte(h.delim)); i >= 0 {
			end, skip = i, len(h.delim)
		}
	}
	field := rest[:end]
	h.pos += min(end+skip, len(rest))
	return strings.TrimSuffix(string(field), "\r"), nil
}

// ReadNumber reads the next field as a number. Unparsable text reads as 0.
func (t *Terminal) ReadNumber(fd int) (float64, error) {
	s, err := t.ReadString(fd)
	if err != nil {
		return 0, err
	}
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, nil
}

// IsEnding reports whether the cursor is at the end of the file.
func (t *Terminal) IsEnding(fd int) (bool, error) {
	h, err := t.handle(fd, 0)
	if err != nil {
		return false, err
	}
	return h.pos >= len(h.text), nil
}

// FileSize returns the encoded size of the handle's content in bytes.
func (t *Terminal) FileSize(fd int) (int64, error) {
	h, err := t.handle(fd, 0)
	if err != nil {
		return 0, err
	}
	raw, err := h.encode()
	if err != nil {
		return 0, err
	}
	return int64(len(raw)), nil
}

// DeleteFile removes a closed file.
func (t *Terminal) DeleteFile(name string) bool {
	if _, ok := t.files[name]; !ok {
		return false
	}
	for _, h := range t.handles {
		if h.name == name {
			return false
		}
	}
	delete(t.files, name)
	return true
}

// FileExists reports whether name exists.
func (t *Terminal) FileExists(name string) bool {
	_, ok := t.files[name]
	return ok
}

// File returns the stored bytes of a file as last closed.
func (t *Terminal) File(name string) ([]byte, bool) {
	raw, ok := t.files[name]
	return raw, ok
}

// PutFile stores raw bytes under name.
func (t *Terminal) PutFile(name string, raw []byte) {
	t.files[name] = append([]byte(nil), raw...)
}

// FileNames lists the stored files, sorted.
func (t *Terminal) FileNames() []string {
	names := make([]string, 0, len(t.files))
	for name := range t.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
