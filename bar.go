package signalengine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// BarHeader is the first line of every bar file.
const BarHeader = "open_time,close_time,open,high,low,close,volume"

// Timestamps are written RFC3339 with a 'T' separator and a colon offset,
// always normalized to UTC: 2025-01-01T15:04:05+00:00.
// On read the space-separated variant is accepted too.
const (
	timeLayoutOut   = "2006-01-02T15:04:05-07:00"
	timeLayoutT     = "2006-01-02T15:04:05Z07:00"
	timeLayoutSpace = "2006-01-02 15:04:05Z07:00"
)

// Bar is a single OHLCV candle over [OpenTime, CloseTime).
type Bar struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

func (bar Bar) String() string {
	return fmt.Sprintf("[%s] open:%v high:%v low:%v close:%v volume:%v",
		FormatTime(bar.OpenTime), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
}

// Day returns the UTC calendar date of the bar's open, which is also
// the base name of the daily file the bar belongs to.
func (bar Bar) Day() string {
	return bar.OpenTime.UTC().Format("2006-01-02")
}

type Signal int

const (
	SignalSell Signal = iota
	SignalHold
	SignalBuy
)

func (s Signal) String() string {
	switch s {
	case SignalSell:
		return "SELL"
	case SignalHold:
		return "HOLD"
	case SignalBuy:
		return "BUY"
	default:
		return "BOH"
	}
}

func ParseSignal(str string) (Signal, error) {
	switch strings.TrimSpace(str) {
	case "SELL":
		return SignalSell, nil
	case "HOLD":
		return SignalHold, nil
	case "BUY":
		return SignalBuy, nil
	default:
		return SignalHold, errors.Errorf("unknown signal %q", str)
	}
}

// ParseTime parses a bar timestamp in either of the two supported
// encodings and normalizes it to UTC.
func ParseTime(str string) (time.Time, error) {
	str = strings.TrimSpace(str)
	if t, err := time.Parse(timeLayoutT, str); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(timeLayoutSpace, str)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "can't parse timestamp %q", str)
	}
	return t.UTC(), nil
}

// FormatTime renders a timestamp in the canonical output encoding.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayoutOut)
}

// IsHeader reports whether a raw line is the schema header of a bar
// or signal file.
func IsHeader(line string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "open_time,")
}

// ParseBarLine decodes one data row of a bar file.
func ParseBarLine(line string) (Bar, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 7 {
		return Bar{}, errors.Errorf("bar row has %v fields, want 7", len(parts))
	}

	openTime, err := ParseTime(parts[0])
	if err != nil {
		return Bar{}, err
	}
	closeTime, err := ParseTime(parts[1])
	if err != nil {
		return Bar{}, err
	}
	if !closeTime.After(openTime) {
		return Bar{}, errors.Errorf("bar close_time %s is not after open_time %s", parts[1], parts[0])
	}

	values := make([]float64, 5)
	for i, str := range parts[2:7] {
		v, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return Bar{}, errors.Wrapf(err, "can't parse the string %s to a float64", str)
		}
		values[i] = v
	}

	return Bar{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// FormatBarLine is the inverse of ParseBarLine.
func FormatBarLine(bar Bar) string {
	return fmt.Sprintf("%s,%s,%.2f,%.2f,%.2f,%.2f,%.2f",
		FormatTime(bar.OpenTime), FormatTime(bar.CloseTime),
		bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
}
