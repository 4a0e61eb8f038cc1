package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// redacted replaces the value of any field whose name marks it as a secret.
const redacted = "[REDACTED]"

// ColoredJSONFormatter renders entries as one colored line per event:
// time, level, message, then key=value fields with transaction fields first.
type ColoredJSONFormatter struct {
	TimestampFormat string
	// SortingFunc orders field keys; nil sorts alphabetically.
	SortingFunc func([]string) []string
	// DisableColors is set when stderr is not a terminal.
	DisableColors bool
}

func NewColoredJSONFormatter() *ColoredJSONFormatter {
	return &ColoredJSONFormatter{
		TimestampFormat: time.RFC3339,
		SortingFunc:     defaultFieldSorting,
	}
}

func (f *ColoredJSONFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		if isSecretField(k) {
			v = redacted
		}
		data[k] = v
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	if f.SortingFunc != nil {
		keys = f.SortingFunc(keys)
	} else {
		sort.Strings(keys)
	}

	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	paint := func(c *color.Color, format string, args ...interface{}) string {
		if f.DisableColors {
			return fmt.Sprintf(format, args...)
		}
		return c.Sprintf(format, args...)
	}

	lc := levelColor(entry.Level)

	b.WriteString(paint(color.New(color.FgYellow), "%s", entry.Time.Format(f.TimestampFormat)))
	b.WriteByte(' ')
	b.WriteString(paint(lc, "%-7s", strings.ToUpper(entry.Level.String())))
	b.WriteByte(' ')
	b.WriteString(paint(lc, "%s", entry.Message))

	for _, k := range keys {
		fieldColor := color.New(color.FgCyan)
		if isImportantField(k) {
			fieldColor = color.New(color.FgGreen)
		}
		b.WriteByte(' ')
		b.WriteString(paint(fieldColor, "%s=", k))
		b.WriteString(paint(color.New(color.FgWhite), "%s", formatValue(data[k])))
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func formatValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case error:
		return fmt.Sprintf("%q", v.Error())
	case fmt.Stringer:
		return fmt.Sprintf("%q", v.String())
	default:
		if raw, err := json.Marshal(v); err == nil {
			return string(raw)
		}
		return fmt.Sprintf("%v", v)
	}
}

func levelColor(level logrus.Level) *color.Color {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return color.New(color.FgBlue)
	case logrus.InfoLevel:
		return color.New(color.FgGreen)
	case logrus.WarnLevel:
		return color.New(color.FgYellow)
	case logrus.ErrorLevel:
		return color.New(color.FgRed)
	case logrus.FatalLevel, logrus.PanicLevel:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgWhite)
	}
}

var priorityFields = map[string]int{
	"operation": 1,
	"state":     2,
	"tx_hash":   3,
	"wallet":    4,
	"nonce":     5,
	"attempt":   6,
	"error":     7,
}

func isImportantField(field string) bool {
	_, ok := priorityFields[field]
	return ok
}

func isSecretField(field string) bool {
	f := strings.ToLower(field)
	return strings.Contains(f, "private_key") || strings.Contains(f, "secret") ||
		strings.Contains(f, "password") || f == "token" || strings.HasSuffix(f, "_token")
}

func defaultFieldSorting(keys []string) []string {
	rank := func(k string) int {
		if p, ok := priorityFields[k]; ok {
			return p
		}
		return len(priorityFields) + 1
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	return keys
}
