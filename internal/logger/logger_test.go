package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text", false)

	Info("lock granted", KeyPath, "/src/main.go", KeyMode, "write")

	out := buf.String()
	if !strings.Contains(out, "[INFO]") {
		t.Errorf("expected level marker in output, got %q", out)
	}
	if !strings.Contains(out, "path=/src/main.go") {
		t.Errorf("expected path attribute in output, got %q", out)
	}
	if !strings.Contains(out, "mode=write") {
		t.Errorf("expected mode attribute in output, got %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "json", false)

	Warn("lease expiring", KeyOwner, "abc", KeyHoldCount, 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "lease expiring" {
		t.Errorf("unexpected msg: %v", rec["msg"])
	}
	if rec[KeyOwner] != "abc" {
		t.Errorf("unexpected owner: %v", rec[KeyOwner])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	Debug("dropped")
	Info("dropped too")
	Error("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("low-level records should be filtered, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("expected error record, got %q", out)
	}
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text", false)

	lc := NewLogContext("acquire").WithLock("/f", "owner-1")
	ctx := WithContext(t.Context(), lc)

	InfoCtx(ctx, "enqueued")

	out := buf.String()
	if !strings.Contains(out, "op=acquire") {
		t.Errorf("expected op from context, got %q", out)
	}
	if !strings.Contains(out, "owner=owner-1") {
		t.Errorf("expected owner from context, got %q", out)
	}
}

func TestInvalidLevelIgnored(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	SetLevel("VERBOSE") // not a level; must not change anything

	Info("still here")
	if !strings.Contains(buf.String(), "still here") {
		t.Errorf("logger should keep working after invalid level")
	}
}
