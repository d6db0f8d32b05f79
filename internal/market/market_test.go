package market

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func TestAggregate(t *testing.T) {
	ticks := []Tick{{0, 1, 1}, {30, 2, 2}, {61, 3, 3}}
	want := []Candle{
		{Time: 0, Open: 1, High: 2, Low: 1, Close: 2},
		{Time: 60, Open: 3, High: 3, Low: 3, Close: 3},
	}
	got := Aggregate(ticks, 60)
	assert.Equal(t, want, got)

	// re-querying at the same period is idempotent
	assert.Equal(t, want, Resample(got, 60))

	src := NewSource()
	src.SetTicks("EURUSD", ticks)
	assert.Equal(t, want, src.Candles("EURUSD", 60))
}

func TestAggregateEdges(t *testing.T) {
	assert.Nil(t, Aggregate(nil, 60))
	assert.Nil(t, Aggregate([]Tick{{1, 1, 1}}, 0))

	got := Aggregate([]Tick{{-30, 5, 5}, {-1, 4, 4}, {0, 6, 6}}, 60)
	require.Len(t, got, 2)
	assert.Equal(t, int64(-60), got[0].Time)
	assert.Equal(t, 4.0, got[0].Close)
	assert.Equal(t, int64(0), got[1].Time)
}

func TestResample(t *testing.T) {
	m1 := []Candle{
		{Time: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Time: 60, Open: 1.5, High: 3, Low: 1, Close: 2.5, Volume: 5},
		{Time: 120, Open: 2.5, High: 2.6, Low: 2, Close: 2.2, Volume: 1},
	}
	got := Resample(m1, 120)
	assert.Equal(t, []Candle{
		{Time: 0, Open: 1, High: 3, Low: 0.5, Close: 2.5, Volume: 15},
		{Time: 120, Open: 2.5, High: 2.6, Low: 2, Close: 2.2, Volume: 1},
	}, got)
	assert.Equal(t, int64(60), InferPeriod(m1))
	assert.Equal(t, int64(0), InferPeriod(m1[:1]))
}

func TestSourceCandleViews(t *testing.T) {
	src := NewSource()
	m1 := []Candle{
		{Time: 120, Open: 3, High: 3, Low: 3, Close: 3},
		{Time: 0, Open: 1, High: 1, Low: 1, Close: 1},
		{Time: 60, Open: 2, High: 2, Low: 2, Close: 2},
	}
	src.SetCandles("XAU", m1, 0)
	assert.Equal(t, int64(60), src.Period("XAU"))

	primary := src.Candles("XAU", 0)
	require.Len(t, primary, 3)
	assert.Equal(t, int64(0), primary[0].Time, "sorted by time")
	assert.Equal(t, primary, src.Candles("XAU", 60))

	h := src.Candles("XAU", 180)
	require.Len(t, h, 1)
	assert.Equal(t, 3.0, h[0].High)

	// memoized until the series changes
	h[0].High = 99
	assert.Equal(t, 99.0, src.Candles("XAU", 180)[0].High)
	src.SetCandles("XAU", m1, 60)
	assert.Equal(t, 3.0, src.Candles("XAU", 180)[0].High)

	assert.Nil(t, src.Candles("NONE", 60))
	assert.Equal(t, []string{"XAU"}, src.Symbols())
}

func TestSourceTickCursor(t *testing.T) {
	src := NewSource()
	src.SetTicks("EURUSD", []Tick{{30, 2, 2.1}, {10, 1, 1.1}, {50, 3, 3.1}})

	_, ok := src.Tick("EURUSD", 5)
	assert.False(t, ok)

	tk, ok := src.Tick("EURUSD", 35)
	require.True(t, ok)
	assert.Equal(t, int64(30), tk.Time)

	// a backwards query answers without rewinding the cursor
	tk, ok = src.Tick("EURUSD", 12)
	require.True(t, ok)
	assert.Equal(t, int64(10), tk.Time)
	_, ok = src.Tick("EURUSD", 1)
	assert.False(t, ok)
	assert.Equal(t, 1, src.cursor["EURUSD"])

	tk, _ = src.Tick("EURUSD", 1000)
	assert.Equal(t, int64(50), tk.Time)

	bid, ask, ok := src.Quote("EURUSD", 40)
	require.True(t, ok)
	assert.Equal(t, 2.0, bid)
	assert.Equal(t, 2.1, ask)
}

func TestBarQuote(t *testing.T) {
	src := NewSource()
	src.SetTicks("EURUSD", []Tick{{0, 1, 1.1}, {30, 2, 2.1}, {61, 3, 3.1}, {200, 4, 4.1}})

	bid, ask, ok := src.BarQuote("EURUSD", 0, 60)
	require.True(t, ok)
	assert.Equal(t, 1.0, bid)
	assert.Equal(t, 1.1, ask)

	bid, _, ok = src.BarQuote("EURUSD", 60, 60)
	require.True(t, ok)
	assert.Equal(t, 3.0, bid)

	// a bar without ticks keeps the latest earlier one
	bid, _, ok = src.BarQuote("EURUSD", 120, 60)
	require.True(t, ok)
	assert.Equal(t, 3.0, bid)

	_, _, ok = src.BarQuote("EURUSD", -120, 60)
	assert.False(t, ok)

	src.SetCandles("X", []Candle{{Time: 0, Close: 5}, {Time: 60, Close: 6}}, 60)
	bid, _, ok = src.BarQuote("X", 60, 60)
	require.True(t, ok)
	assert.Equal(t, 6.0, bid)
}

func TestQuoteFromCandles(t *testing.T) {
	src := NewSource()
	src.SetCandles("X", []Candle{{Time: 0, Close: 1}, {Time: 60, Close: 2}}, 60)
	bid, ask, ok := src.Quote("X", 90)
	require.True(t, ok)
	assert.Equal(t, 2.0, bid)
	assert.Equal(t, 2.0, ask)
	_, _, ok = src.Quote("X", -1)
	assert.False(t, ok)
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Candle
	}{
		{
			name: "epoch with header",
			in:   "time,open,high,low,close,volume\n0,1,2,0.5,1.5,10\n60,1.5,3,1,2.5,5\n",
			want: []Candle{
				{Time: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
				{Time: 60, Open: 1.5, High: 3, Low: 1, Close: 2.5, Volume: 5},
			},
		},
		{
			name: "epoch without volume",
			in:   "0,1,2,0.5,1.5\n",
			want: []Candle{{Time: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5}},
		},
		{
			name: "metatrader",
			in:   "2024.01.02,03:04,1.1,1.2,1.0,1.15,42\n2024.01.02,03:05,1.15,1.3,1.1,1.2\n",
			want: []Candle{
				{Time: 1704164640, Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15, Volume: 42},
				{Time: 1704164700, Open: 1.15, High: 1.3, Low: 1.1, Close: 1.2},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadCSV(strings.NewReader(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadCSVErrors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("time,open,high,low,close\n"))
	assert.ErrorIs(t, err, ErrNoRows)

	_, err = ReadCSV(strings.NewReader("0,1,2,x,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1")

	_, err = ReadCSV(strings.NewReader("0,1,2\n"))
	assert.Error(t, err)
}

func TestReadCSVUTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	raw, err := enc.Bytes([]byte("time,open,high,low,close\n60,1,2,0.5,1.5\n"))
	require.NoError(t, err)
	got, err := ReadCSV(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, []Candle{{Time: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5}}, got)
}

func TestReadTickCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte("time,bid,ask\n0,1,1.1\n2024.01.02 03:04:05,2,2.1\n"), 0o644))

	ticks, err := LoadTickCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []Tick{{0, 1, 1.1}, {1704164645, 2, 2.1}}, ticks)

	_, err = ReadTickCSV(strings.NewReader("0,1\n"))
	assert.Error(t, err)
	_, err = LoadTickCSV(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}
