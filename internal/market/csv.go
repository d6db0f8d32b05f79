package market

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNoRows is returned when a CSV input holds no data rows.
var ErrNoRows = errors.New("no data rows")

var timeLayouts = []string{
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006.01.02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
}

// ParseTime parses Unix seconds or a "YYYY.MM.DD [HH:MM[:SS]]" timestamp,
// interpreted as UTC.
func ParseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("invalid time %q", s)
}

// newReader returns a CSV reader over r, decoding UTF-16 input when it starts
// with a byte order mark.
func newReader(r io.Reader) *csv.Reader {
	br := bufio.NewReader(r)
	if b, _ := br.Peek(2); len(b) == 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		br = bufio.NewReader(transform.NewReader(br, dec))
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	return cr
}

// readRows reads every record, dropping a leading header row whose first
// field is not a timestamp.
func readRows(r io.Reader) ([][]string, error) {
	records, err := newReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		first := strings.TrimPrefix(strings.TrimSpace(records[0][0]), "\ufeff")
		records[0][0] = first
		if _, err := ParseTime(first); err != nil {
			records = records[1:]
		}
	}
	if len(records) == 0 {
		return nil, ErrNoRows
	}
	return records, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.Trim(strings.TrimSpace(f), `"`), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", f)
		}
		out[i] = v
	}
	return out, nil
}

// ReadCSV parses candles in either "time,open,high,low,close[,volume]" or
// "YYYY.MM.DD,HH:MM,open,high,low,close[,volume]" form. A header line is
// skipped. The result is in file order.
func ReadCSV(r io.Reader) ([]Candle, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, fmt.Errorf("reading candles: %w", err)
	}
	candles := make([]Candle, 0, len(rows))
	for i, rec := range rows {
		c, err := parseCandle(rec)
		if err != nil {
			return nil, fmt.Errorf("reading candles: row %d: %w", i+1, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseCandle(rec []string) (Candle, error) {
	stamp, rest := rec[0], rec[1:]
	if len(rec) >= 6 && strings.Contains(rec[1], ":") {
		stamp, rest = rec[0]+" "+strings.TrimSpace(rec[1]), rec[2:]
	}
	if len(rest) < 4 || len(rest) > 5 {
		return Candle{}, fmt.Errorf("expected 5 to 7 fields, got %d", len(rec))
	}
	ts, err := ParseTime(stamp)
	if err != nil {
		return Candle{}, err
	}
	v, err := parseFloats(rest)
	if err != nil {
		return Candle{}, err
	}
	c := Candle{Time: ts, Open: v[0], High: v[1], Low: v[2], Close: v[3]}
	if len(v) == 5 {
		c.Volume = v[4]
	}
	return c, nil
}

// ReadTickCSV parses "time,bid,ask" rows. A header line is skipped.
func ReadTickCSV(r io.Reader) ([]Tick, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, fmt.Errorf("reading ticks: %w", err)
	}
	ticks := make([]Tick, 0, len(rows))
	for i, rec := range rows {
		if len(rec) != 3 {
			return nil, fmt.Errorf("reading ticks: row %d: expected 3 fields, got %d", i+1, len(rec))
		}
		ts, err := ParseTime(rec[0])
		if err != nil {
			return nil, fmt.Errorf("reading ticks: row %d: %w", i+1, err)
		}
		v, err := parseFloats(rec[1:])
		if err != nil {
			return nil, fmt.Errorf("reading ticks: row %d: %w", i+1, err)
		}
		ticks = append(ticks, Tick{Time: ts, Bid: v[0], Ask: v[1]})
	}
	return ticks, nil
}

// LoadCSV reads a candle CSV file.
func LoadCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	candles, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return candles, nil
}

// LoadTickCSV reads a tick CSV file.
func LoadTickCSV(path string) ([]Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ticks, err := ReadTickCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ticks, nil
}
