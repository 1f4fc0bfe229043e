package signalengine

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SignalHeader is the first line of every signal file.
const SignalHeader = "open_time,close_time,signal"

// dedupTailLines bounds the on-disk duplicate scan. It only limits the
// cost of the scan and has nothing to do with the strategy window.
const dedupTailLines = 200

// SignalWriter appends one signal row per trigger to the per-day file
// implied by the bar's open_time, writing each (open_time, close_time)
// key at most once even across process restarts.
//
// Dedup is two layers, checked in order: the last key written by this
// process, then a bounded tail scan of the destination file with both
// timestamps normalized to the canonical encoding. The tail scan is what
// recovers idempotence after a restart without a database.
type SignalWriter struct {
	SignalDir string
	Stdout    *log.Logger
	Stderr    *log.Logger

	lastOpen  string
	lastClose string
}

// Append writes the row open_time,close_time,signal unless the same key
// was already written. The destination folder and file (with header) are
// created on first use. Failures to write are persistent environment
// problems and are returned to the caller.
func (sw *SignalWriter) Append(openTime, closeTime time.Time, signal Signal) error {

	if sw.Stdout == nil {
		sw.Stdout = log.New(os.Stdout, "", log.Lshortfile|log.Ltime)
	}
	if sw.Stderr == nil {
		sw.Stderr = log.New(os.Stderr, "[ERROR]", log.Lshortfile|log.Ltime|log.Lmsgprefix)
	}

	openStr := FormatTime(openTime)
	closeStr := FormatTime(closeTime)

	// fast path for duplicate triggers within one run
	if sw.lastOpen == openStr && sw.lastClose == closeStr {
		return nil
	}

	if err := os.MkdirAll(sw.SignalDir, 0o755); err != nil {
		return errors.Wrapf(err, "can't create signal folder %s", sw.SignalDir)
	}

	path := filepath.Join(sw.SignalDir, openTime.UTC().Format("2006-01-02")+".csv")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(SignalHeader+"\n"), 0o644); err != nil {
			return errors.Wrapf(err, "can't create signal file %s", path)
		}
	}

	written, err := rowAlreadyWritten(path, openStr, closeStr)
	if err != nil {
		return err
	}
	if written {
		sw.lastOpen, sw.lastClose = openStr, closeStr
		return nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "can't open signal file %s", path)
	}
	defer func() { _ = file.Close() }()

	if _, err := fmt.Fprintf(file, "%s,%s,%s\n", openStr, closeStr, signal); err != nil {
		return errors.Wrapf(err, "can't append to signal file %s", path)
	}

	sw.lastOpen, sw.lastClose = openStr, closeStr
	return nil
}

// SignalRecord is one persisted signal row.
type SignalRecord struct {
	OpenTime  time.Time
	CloseTime time.Time
	Signal    Signal
}

// ParseSignalLine decodes one data row of a signal file, accepting both
// timestamp encodings.
func ParseSignalLine(line string) (SignalRecord, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 3 {
		return SignalRecord{}, errors.Errorf("signal row has %v fields, want 3", len(parts))
	}
	openTime, err := ParseTime(parts[0])
	if err != nil {
		return SignalRecord{}, err
	}
	closeTime, err := ParseTime(parts[1])
	if err != nil {
		return SignalRecord{}, err
	}
	signal, err := ParseSignal(parts[2])
	if err != nil {
		return SignalRecord{}, err
	}
	return SignalRecord{OpenTime: openTime, CloseTime: closeTime, Signal: signal}, nil
}

// ReadSignalFile returns all the data rows of a per-day signal file.
func ReadSignalFile(path string) ([]SignalRecord, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read signal file %s", path)
	}

	var records []SignalRecord
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || IsHeader(line) {
			continue
		}
		record, err := ParseSignalLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "bad row in %s", path)
		}
		records = append(records, record)
	}
	return records, nil
}

// rowAlreadyWritten scans the last dedupTailLines rows of the file for
// the given key. Older rows may use the space-separated encoding, so
// every candidate is re-parsed and normalized before the comparison;
// rows that don't parse are ignored.
func rowAlreadyWritten(path string, openStr, closeStr string) (bool, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "can't read signal file %s", path)
	}

	var lines []string
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) <= 1 {
		// only the header
		return false, nil
	}
	if len(lines) > dedupTailLines {
		lines = lines[len(lines)-dedupTailLines:]
	}

	for _, line := range lines {
		if IsHeader(line) {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			continue
		}

		existingOpen, err := ParseTime(parts[0])
		if err != nil {
			continue
		}
		existingClose, err := ParseTime(parts[1])
		if err != nil {
			continue
		}

		if FormatTime(existingOpen) == openStr && FormatTime(existingClose) == closeStr {
			return true, nil
		}
	}
	return false, nil
}
