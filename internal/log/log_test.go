package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	type expected struct {
		level Level
		ok    bool
	}
	tests := map[string]struct {
		input string
		exp   expected
	}{
		"trace":      {input: "TRACE", exp: expected{level: Trace, ok: true}},
		"debug":      {input: "DEBUG", exp: expected{level: Debug, ok: true}},
		"info":       {input: "INFO", exp: expected{level: Info, ok: true}},
		"warn":       {input: "WARN", exp: expected{level: Warn, ok: true}},
		"warning":    {input: "WARNING", exp: expected{level: Warn, ok: true}},
		"error":      {input: "ERROR", exp: expected{level: Error, ok: true}},
		"critical":   {input: "CRITICAL", exp: expected{level: Critical, ok: true}},
		"lower case": {input: "debug", exp: expected{level: Debug, ok: true}},
		"padded":     {input: "  info \n", exp: expected{level: Info, ok: true}},
		"unknown":    {input: "verbose", exp: expected{ok: false}},
		"empty":      {input: "", exp: expected{ok: false}},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			level, ok := ParseLevel(test.input)
			if ok != test.exp.ok {
				t.Errorf("unexpected ok; actual: %t, expected: %t", ok, test.exp.ok)
				return
			}
			if ok && level != test.exp.level {
				t.Errorf("unexpected level; actual: %d, expected: %d", level, test.exp.level)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	defer SetLevel(Info)

	var buf bytes.Buffer
	logger := New(&buf, "test")

	SetLevel(Warn)
	logger.Infof("hidden")
	logger.Warnf("shown")
	logger.Errorf("also shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("expected info record to be filtered")
	}
	if !strings.Contains(out, "shown") {
		t.Error("expected warn record to be written")
	}
	if !strings.Contains(out, "[ERROR]") {
		t.Error("expected error tag in output")
	}
}

func TestRecordShape(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "shape")

	logger.Infof("event; key: %s", "value")

	out := buf.String()
	if !strings.Contains(out, "shape") {
		t.Error("expected prefix in record")
	}
	if !strings.Contains(out, "[INFO]") {
		t.Error("expected level tag in record")
	}
	if !strings.Contains(out, "event; key: value") {
		t.Error("expected formatted message in record")
	}
	if !strings.Contains(out, "log_test.go") {
		t.Error("expected caller annotation in record")
	}
}
