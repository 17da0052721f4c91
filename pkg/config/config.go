// Package config loads tuning and sampling sessions from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/tosih/m21-livetune/pkg/livetune"
	"github.com/tosih/m21-livetune/pkg/rma"
)

// Defaults applied before a file is decoded.
const (
	DefaultTuneIntervalMS   = 100
	DefaultSampleIntervalMS = 100
	DefaultSampleLength     = 8
	DefaultDialTimeoutMS    = 3000
)

// ErrInvalid is returned for session values that fail validation.
var ErrInvalid = errors.New("invalid session")

// Session is the contents of a session file.
type Session struct {
	Transport Transport `yaml:"transport"`
	Tune      Tune      `yaml:"tune"`
	Sample    Sample    `yaml:"sample"`
}

// Transport selects how the controller is reached.
type Transport struct {
	Gateway       string `yaml:"gateway"`
	Simulate      bool   `yaml:"simulate"`
	DialTimeoutMS int    `yaml:"dial_timeout_ms"`
}

// Tune configures a live-tuning session.
type Tune struct {
	File       string `yaml:"file"`
	Base       string `yaml:"base"`
	IntervalMS int    `yaml:"interval_ms"`
	Backup     bool   `yaml:"backup"`
}

// Sample configures an RMA sampling session.
type Sample struct {
	Address    string `yaml:"address"`
	Length     int    `yaml:"length"`
	IntervalMS int    `yaml:"interval_ms"`
	Output     string `yaml:"output"`
}

// Default returns a session with every default filled in.
func Default() *Session {
	return &Session{
		Transport: Transport{DialTimeoutMS: DefaultDialTimeoutMS},
		Tune:      Tune{IntervalMS: DefaultTuneIntervalMS},
		Sample:    Sample{Length: DefaultSampleLength, IntervalMS: DefaultSampleIntervalMS},
	}
}

// Load reads a session file. Keys missing from the file keep their defaults.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a session document.
func Parse(data []byte) (*Session, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return s, nil
}

// ParseAddress parses a 32-bit address in any base strconv accepts with
// base 0, e.g. "0x40002000" or "1073750016". Underscores are allowed.
func ParseAddress(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty address", ErrInvalid)
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: address %q: %w", ErrInvalid, s, err)
	}
	return uint32(v), nil
}

// DialTimeout returns the gateway connect timeout.
func (t Transport) DialTimeout() time.Duration {
	if t.DialTimeoutMS <= 0 {
		return DefaultDialTimeoutMS * time.Millisecond
	}
	return time.Duration(t.DialTimeoutMS) * time.Millisecond
}

// Validate checks that exactly one transport is selected.
func (t Transport) Validate() error {
	switch {
	case t.Simulate && t.Gateway != "":
		return fmt.Errorf("%w: gateway and simulate are exclusive", ErrInvalid)
	case !t.Simulate && t.Gateway == "":
		return fmt.Errorf("%w: no transport, set a gateway or simulate", ErrInvalid)
	}
	return nil
}

// Interval returns the scan interval.
func (t Tune) Interval() time.Duration {
	return time.Duration(t.IntervalMS) * time.Millisecond
}

// BaseAddress parses the base address.
func (t Tune) BaseAddress() (uint32, error) {
	return ParseAddress(t.Base)
}

// Validate checks the tuning section against the bridge limits.
func (t Tune) Validate() error {
	if t.File == "" {
		return fmt.Errorf("%w: tune.file is required", ErrInvalid)
	}
	base, err := t.BaseAddress()
	if err != nil {
		return err
	}
	if !rma.InWindow(base) {
		return fmt.Errorf("%w: tune.base 0x%08X outside RAM window", ErrInvalid, base)
	}
	if t.Interval() < livetune.MinScanInterval {
		return fmt.Errorf("%w: tune.interval_ms %d below %d", ErrInvalid, t.IntervalMS, livetune.MinScanInterval.Milliseconds())
	}
	return nil
}

// Session converts the section into a sampling session.
func (s Sample) Session() (rma.SamplingSession, error) {
	addr, err := ParseAddress(s.Address)
	if err != nil {
		return rma.SamplingSession{}, err
	}
	ss := rma.SamplingSession{
		Address:    addr,
		Length:     s.Length,
		Interval:   time.Duration(s.IntervalMS) * time.Millisecond,
		OutputPath: s.Output,
	}
	if err := ss.Validate(); err != nil {
		return rma.SamplingSession{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return ss, nil
}
