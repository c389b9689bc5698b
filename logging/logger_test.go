package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNew_JSONIncludesServiceField(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("contractflow", Settings{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.WithField("draft_id", "d1").Info("draft created")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["service"] != "contractflow" || line["draft_id"] != "d1" || line["msg"] != "draft created" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	if _, err := New("x", Settings{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New("x", Settings{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
