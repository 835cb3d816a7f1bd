package service

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	reasonNotANumber  = "not_a_number"
	reasonNegative    = "negative"
	reasonEmpty       = "empty"
	reasonBadBool     = "unrecognised_bool"
	reasonBadTime     = "unparsable_timestamp"
	reasonMissingKey  = "missing_key"
	maxIssueSamples   = 20
	issueValueMaxSize = 64
)

// ParseIssue describes a cell that was replaced by its default.
type ParseIssue struct {
	Field  string
	Reason string
	Value  string
}

func issue(field, reason, value string) *ParseIssue {
	if len(value) > issueValueMaxSize {
		cut := issueValueMaxSize
		for cut > 0 && !utf8.RuneStart(value[cut]) {
			cut--
		}
		value = value[:cut]
	}
	return &ParseIssue{Field: field, Reason: reason, Value: value}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

func parseBool(field, value string) (bool, *ParseIssue) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		return true, nil
	case "", "false", "0", "no":
		return false, nil
	default:
		return false, issue(field, reasonBadBool, value)
	}
}

// parseNumber reads a non-negative count. Fractions are truncated.
func parseNumber(field, value string) (int64, *ParseIssue) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, issue(field, reasonEmpty, value)
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, issue(field, reasonNotANumber, value)
	}
	if f < 0 {
		return 0, issue(field, reasonNegative, value)
	}
	// float64(math.MaxInt64) rounds up to 2^63
	if f >= math.MaxInt64 {
		return 0, issue(field, reasonNotANumber, value)
	}
	return int64(f), nil
}

func parseDecimal(field, value string) (decimal.Decimal, *ParseIssue) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, issue(field, reasonEmpty, value)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, issue(field, reasonNotANumber, value)
	}
	if d.IsNegative() {
		return decimal.Zero, issue(field, reasonNegative, value)
	}
	return d, nil
}

// parseTimestamp falls back to now. Layouts without a zone are read as UTC.
func parseTimestamp(field, value string, now time.Time) (time.Time, *ParseIssue) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now, issue(field, reasonEmpty, value)
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return now, issue(field, reasonBadTime, value)
}

type issueSample struct {
	Line   int
	Field  string
	Reason string
	Value  string
}

// issueLog aggregates parse issues of one run. Safe for concurrent use.
type issueLog struct {
	mu      sync.Mutex
	counts  map[string]int64
	samples []issueSample
}

func newIssueLog() *issueLog {
	return &issueLog{counts: make(map[string]int64)}
}

func (l *issueLog) record(line int, issues ...*ParseIssue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, is := range issues {
		if is == nil {
			continue
		}
		l.counts[is.Field+":"+is.Reason]++
		if len(l.samples) < maxIssueSamples {
			l.samples = append(l.samples, issueSample{
				Line:   line,
				Field:  is.Field,
				Reason: is.Reason,
				Value:  is.Value,
			})
		}
	}
}

func (l *issueLog) total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, c := range l.counts {
		n += c
	}
	return n
}

func (l *issueLog) summary() datatypes.JSONMap {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.counts) == 0 {
		return datatypes.JSONMap{}
	}

	keys := make([]string, 0, len(l.counts))
	for k := range l.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	counts := make(map[string]any, len(keys))
	for _, k := range keys {
		counts[k] = l.counts[k]
	}
	samples := make([]any, 0, len(l.samples))
	for _, s := range l.samples {
		samples = append(samples, map[string]any{
			"line":   s.Line,
			"field":  s.Field,
			"reason": s.Reason,
			"value":  s.Value,
		})
	}
	return datatypes.JSONMap{"counts": counts, "samples": samples}
}
