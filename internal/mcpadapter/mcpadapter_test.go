package mcpadapter

import (
	"context"
	"testing"
	"time"
)

// fakeServerScript is a tiny JSON-RPC 2.0 stdio server, echoed through a
// shell, good enough to exercise the adapter's handshake, tools/list,
// and tools/call paths without needing to compile a Go fixture binary.
const fakeServerScript = `
while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  case "$line" in
    *'"method":"initialize"'*)
      printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2024-11-05"}}\n' "$id"
      ;;
    *'"method":"tools/list"'*)
      printf '{"jsonrpc":"2.0","id":%s,"result":{"tools":[{"name":"echo","description":"echoes input","inputSchema":{"type":"object"}}]}}\n' "$id"
      ;;
    *'"method":"tools/call"'*)
      printf '{"jsonrpc":"2.0","id":%s,"result":{"isError":false,"content":{"text":"ok"}}}\n' "$id"
      ;;
    *'"method":"initialized"'*)
      ;;
  esac
done
`

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New("/bin/sh", []string{"-c", fakeServerScript}, nil, "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("unexpected error starting adapter: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestListToolsReturnsDescriptors(t *testing.T) {
	a := newTestAdapter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tools, err := a.ListTools(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestInvokeToolReturnsOutput(t *testing.T) {
	a := newTestAdapter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := a.InvokeTool(ctx, "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected ok result, got %+v", result)
	}
}

func TestCallTimesOutWhenNoResponse(t *testing.T) {
	a := New("/bin/sh", []string{"-c", "while IFS= read -r line; do :; done"}, nil, "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := a.Start(ctx); err == nil {
		t.Cleanup(func() { a.Close() })
		t.Fatalf("expected initialize handshake to time out against a silent server")
	}
}
