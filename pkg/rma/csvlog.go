package rma

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimestampFormat is the layout of the timestamp column in sample logs.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// sampleLog writes sampling sessions as CSV: a block of "# " metadata lines,
// a column header, then one row per sample.
type sampleLog struct {
	file *os.File
	w    *csv.Writer
}

func createSampleLog(path string, s SamplingSession, start time.Time) (*sampleLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	l := &sampleLog{file: file, w: csv.NewWriter(file)}

	l.w.Write([]string{"# RMA sampling session"})
	l.w.Write([]string{fmt.Sprintf("# Address: 0x%08X", s.Address)})
	l.w.Write([]string{fmt.Sprintf("# Length: %d", s.Length)})
	l.w.Write([]string{fmt.Sprintf("# Interval: %d ms", s.Interval.Milliseconds())})
	l.w.Write([]string{fmt.Sprintf("# Start: %s", start.Format(TimestampFormat))})

	header := []string{"timestamp", "elapsed_ms", "address"}
	for i := 0; i < s.Length; i++ {
		header = append(header, "byte"+strconv.Itoa(i))
	}
	l.w.Write(header)

	if err := l.flush(); err != nil {
		file.Close()
		return nil, err
	}
	return l, nil
}

// SampleRow formats one sample as CSV fields.
func SampleRow(s Sample) []string {
	row := []string{
		s.Time.Format(TimestampFormat),
		strconv.FormatInt(s.Elapsed.Milliseconds(), 10),
		fmt.Sprintf("0x%08X", s.Result.Address),
	}
	for _, b := range s.Result.Data {
		row = append(row, fmt.Sprintf("0x%02X", b))
	}
	return row
}

func (l *sampleLog) append(s Sample) error {
	if err := l.w.Write(SampleRow(s)); err != nil {
		return err
	}
	return l.flush()
}

func (l *sampleLog) flush() error {
	l.w.Flush()
	return l.w.Error()
}

func (l *sampleLog) Close() error {
	err := l.flush()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	return err
}
