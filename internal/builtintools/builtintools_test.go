package builtintools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nexus-core/agentruntime/internal/models"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

func TestRegisterAddsAllBuiltins(t *testing.T) {
	reg := toolregistry.New()
	Register(reg)

	for _, name := range []string{"echo", "http_fetch", "shell"} {
		if _, ok := reg.Get(name); !ok {
			t.Fatalf("expected %q to be registered", name)
		}
	}
}

func TestEchoTool(t *testing.T) {
	reg := toolregistry.New()
	Register(reg)

	res := reg.Dispatch(context.Background(), models.ToolCall{
		Name:      "echo",
		Arguments: []byte(`{"text":"hi"}`),
	})
	if !res.Success || !strings.Contains(string(res.Output), "hi") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHTTPFetchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	reg := toolregistry.New()
	Register(reg)

	res := reg.Dispatch(context.Background(), models.ToolCall{
		Name:      "http_fetch",
		Arguments: []byte(`{"url":"` + srv.URL + `"}`),
	})
	if !res.Success || !strings.Contains(string(res.Output), "pong") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestShellToolRejectsEmptyCommand(t *testing.T) {
	reg := toolregistry.New()
	Register(reg)

	res := reg.Dispatch(context.Background(), models.ToolCall{
		Name:      "shell",
		Arguments: []byte(`{"command":""}`),
	})
	if res.Success {
		t.Fatalf("expected empty command to fail")
	}
}

func TestShellToolRunsCommand(t *testing.T) {
	reg := toolregistry.New()
	Register(reg)

	res := reg.Dispatch(context.Background(), models.ToolCall{
		Name:      "shell",
		Arguments: []byte(`{"command":"echo hello"}`),
	})
	if !res.Success || !strings.Contains(string(res.Output), "hello") {
		t.Fatalf("unexpected result: %+v", res)
	}
}
