package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"solana-momentum-bot-go/internal/models"
)

// TokenFromPath 从数据文件路径中提取代币名称
// 例如: "data/BONK-2025-03-15-2025-06-15.csv" -> "BONK"
func TokenFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.Index(name, "-"); i > 0 {
		return name[:i]
	}
	return name
}

type columns struct {
	time, open, high, low, close, volume, liquidity int
}

func findColumns(header []string) (columns, error) {
	c := columns{-1, -1, -1, -1, -1, -1, -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "open_time", "time", "timestamp":
			c.time = i
		case "open":
			c.open = i
		case "high":
			c.high = i
		case "low":
			c.low = i
		case "close", "price":
			c.close = i
		case "volume":
			c.volume = i
		case "liquidity", "liquidity_usd":
			c.liquidity = i
		}
	}
	if c.time < 0 || c.close < 0 {
		return c, fmt.Errorf("header %v needs a time and a close column", header)
	}
	return c, nil
}

func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

// ReadCandles parses candles from CSV with a header row. Missing open/high/low
// columns default to close. Rows are returned sorted by time.
func ReadCandles(r io.Reader) ([]models.Candle, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := findColumns(header)
	if err != nil {
		return nil, err
	}

	field := func(record []string, i int) (float64, error) {
		if i < 0 {
			return 0, nil
		}
		return strconv.ParseFloat(record[i], 64)
	}

	var candles []models.Candle
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := parseTime(record[cols.time])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad time %q", line, record[cols.time])
		}
		var c models.Candle
		c.Time = ts
		var errs [6]error
		c.Close, errs[0] = field(record, cols.close)
		c.Open, errs[1] = field(record, cols.open)
		c.High, errs[2] = field(record, cols.high)
		c.Low, errs[3] = field(record, cols.low)
		c.Volume, errs[4] = field(record, cols.volume)
		c.Liquidity, errs[5] = field(record, cols.liquidity)
		for _, e := range errs {
			if e != nil {
				return nil, fmt.Errorf("line %d: %w", line, e)
			}
		}
		if c.Close <= 0 {
			return nil, fmt.Errorf("line %d: non-positive close %v", line, c.Close)
		}
		if cols.open < 0 {
			c.Open = c.Close
		}
		if cols.high < 0 {
			c.High = c.Close
		}
		if cols.low < 0 {
			c.Low = c.Close
		}
		candles = append(candles, c)
	}

	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

// LoadCSV reads candles from a file.
func LoadCSV(path string) ([]models.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	candles, err := ReadCandles(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return candles, nil
}

// LoadFiles loads each file as one token series keyed by TokenFromPath.
// Files for the same token are merged.
func LoadFiles(paths []string) (map[string][]models.Candle, error) {
	series := make(map[string][]models.Candle, len(paths))
	for _, p := range paths {
		candles, err := LoadCSV(p)
		if err != nil {
			return nil, err
		}
		token := TokenFromPath(p)
		series[token] = append(series[token], candles...)
	}
	for token, candles := range series {
		sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
		series[token] = candles
	}
	return series, nil
}

// Merge adds extra series to base. Series already in base win.
func Merge(base, extra map[string][]models.Candle) map[string][]models.Candle {
	out := make(map[string][]models.Candle, len(base)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}
