// Package logging configures the logrus instance used as the default
// diagnostic sink for channels. Embedders can substitute their own
// logger; this package only provides the shared default.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	setupOnce sync.Once
	base      *log.Logger
)

// ChannelField is the entry field carrying the channel instance id.
const ChannelField = "channel_id"

// RequestField is the entry field carrying the in-flight request id.
const RequestField = "request_id"

// Formatter renders entries as:
// [2025-12-23 20:14:04] [debug] [channel.go:124] | a1b2c3d4 | message key=value
type Formatter struct{}

// fieldOrder fixes the display order for common diagnostic fields.
var fieldOrder = []string{RequestField, "method", "kind", "stream_id", "callback_id", "error"}

// Format renders a single log entry.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	chID := "--------"
	if id, ok := entry.Data[ChannelField].(string); ok && id != "" {
		chID = id
		if len(chID) > 8 {
			chID = chID[:8]
		}
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range fieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%s] [%s:%d] | %s | %s%s\n",
			timestamp, levelStr, filepath.Base(entry.Caller.File), entry.Caller.Line, chID, message, fieldsStr)
	} else {
		fmt.Fprintf(buffer, "[%s] [%s] | %s | %s%s\n", timestamp, levelStr, chID, message, fieldsStr)
	}
	return buffer.Bytes(), nil
}

// Base returns the shared configured logger. Initialization happens
// once; subsequent calls return the same instance.
func Base() *log.Logger {
	setupOnce.Do(func() {
		base = log.New()
		base.SetOutput(os.Stderr)
		base.SetLevel(log.WarnLevel)
		base.SetReportCaller(true)
		base.SetFormatter(&Formatter{})
	})
	return base
}
