package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Contest is the part of a contest the selection needs.
type Contest struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Active    bool      `json:"active"`
}

var relativeTimePattern = regexp.MustCompile(`^([+-])(\d+):(\d{2})(?::(\d{2}))?$`)

var absoluteTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// AbsoluteTime resolves a time string against the contest.
// Relative values look like "+1:30" or "-0:15:00" and are offsets from the contest start.
// Absolute values without a zone are taken as UTC.
func (c *Contest) AbsoluteTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if m := relativeTimePattern.FindStringSubmatch(value); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes, _ := strconv.Atoi(m[3])
		seconds := 0
		if m[4] != "" {
			seconds, _ = strconv.Atoi(m[4])
		}
		if minutes > 59 || seconds > 59 {
			return time.Time{}, fmt.Errorf("invalid relative time %q", value)
		}
		offset := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
		if m[1] == "-" {
			offset = -offset
		}
		return c.StartTime.Add(offset), nil
	}
	for _, layout := range absoluteTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

// CheckTimeSyntax reports whether value can be resolved by AbsoluteTime of any contest.
func CheckTimeSyntax(value string) error {
	_, err := (&Contest{}).AbsoluteTime(value)
	return err
}
