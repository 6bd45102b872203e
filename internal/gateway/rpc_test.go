package gateway

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewResultOmitsErrorField(t *testing.T) {
	resp := newResult("1", map[string]any{"ok": true})
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := string(raw); !strings.Contains(got, `"result":{"ok":true}`) || strings.Contains(got, `"error"`) {
		t.Fatalf("unexpected envelope: %s", got)
	}
}

func TestNewErrorOmitsResultField(t *testing.T) {
	resp := newError(7, codeMethodNotFound, "unknown method")
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(raw)
	if !strings.Contains(got, `"code":-32601`) {
		t.Fatalf("expected method-not-found code in %s", got)
	}
	if strings.Contains(got, `"result"`) {
		t.Fatalf("expected no result field in %s", got)
	}
}

func TestNewNotificationShape(t *testing.T) {
	n := newNotification("agent.event", map[string]any{"text": "hi"})
	raw, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded rpcNotification
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Method != "agent.event" {
		t.Fatalf("expected method agent.event, got %q", decoded.Method)
	}
	if decoded.JSONRPC != jsonrpcVersion {
		t.Fatalf("expected jsonrpc version %q, got %q", jsonrpcVersion, decoded.JSONRPC)
	}
}
