package logging

import (
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestFormatterLayout(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.New(),
		Time:    time.Date(2025, 12, 23, 20, 14, 4, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "response not delivered\n",
		Data: log.Fields{
			ChannelField: "a1b2c3d4-e5f6-0000-0000-000000000000",
			RequestField: "00000001-00000002-00000003-00000004",
		},
	}
	out, err := (&Formatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	line := string(out)

	if !strings.HasPrefix(line, "[2025-12-23 20:14:04] [warn ]") {
		t.Errorf("prefix wrong: %q", line)
	}
	if !strings.Contains(line, "| a1b2c3d4 |") {
		t.Errorf("channel id not truncated to 8: %q", line)
	}
	if !strings.Contains(line, "request_id=00000001") {
		t.Errorf("ordered field missing: %q", line)
	}
	if strings.Contains(line, "response not delivered\n\n") {
		t.Errorf("message newline not trimmed: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Errorf("line not newline terminated: %q", line)
	}
}

func TestFormatterWithoutChannelField(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.New(),
		Time:    time.Now(),
		Level:   log.InfoLevel,
		Message: "hello",
		Data:    log.Fields{},
	}
	out, err := (&Formatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(string(out), "| -------- |") {
		t.Errorf("placeholder id missing: %q", out)
	}
}

func TestBaseIsSingleton(t *testing.T) {
	if Base() != Base() {
		t.Error("Base returned distinct loggers")
	}
}
