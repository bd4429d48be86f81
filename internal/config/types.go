package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DurationString is a duration written as "10s" or "5m"; a bare integer is
// seconds.
type DurationString time.Duration

func (d *DurationString) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if value.Tag == "!!int" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*d = DurationString(time.Duration(v) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = DurationString(dur)
	return nil
}

func (d DurationString) Duration() time.Duration {
	return time.Duration(d)
}

// SizeString is a byte count. "KB", "MB" and "GB" are binary byte units;
// "K", "M" and "G" are decimal bit units, so "100M" is 100 megabits per
// second worth of bytes. A bare integer is bytes.
type SizeString int64

func ParseSize(raw string) (SizeString, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multiplier := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"KB", 1 << 10},
		{"MB", 1 << 20},
		{"GB", 1 << 30},
		{"K", 1000 / 8},
		{"M", 1000 * 1000 / 8},
		{"G", 1000 * 1000 * 1000 / 8},
	} {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.mult
			s = strings.TrimSuffix(s, u.suffix)
			break
		}
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size string %q (want a number with optional KB, MB, GB, K, M or G)", raw)
	}
	return SizeString(v * multiplier), nil
}

func (s *SizeString) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseSize(value.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Set, String and Type let a SizeString back a command-line flag.
func (s *SizeString) Set(v string) error {
	n, err := ParseSize(v)
	if err != nil {
		return err
	}
	*s = n
	return nil
}

func (s *SizeString) String() string {
	return strconv.FormatInt(int64(*s), 10)
}

func (s *SizeString) Type() string {
	return "size"
}
