package evidence

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func connectMCP(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "evidence-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("%s: empty content", name)
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("%s: content type %T", name, res.Content[0])
	}
	return tc.Text, res.IsError
}

func TestMCP_Tools(t *testing.T) {
	// WHAT: evidence_retrieve, evidence_history and evidence_run answer over MCP.
	// WHY: Agents call the pipeline through the same endpoints as HTTP clients.
	srv := site(t)
	svc := newService(t, nil, WithSearchProvider(links(srv, "/a", "/b", "/d")))
	session := connectMCP(t, svc)

	text, isErr := callText(t, session, "evidence_retrieve", map[string]any{"claim": "Greenland is for sale"})
	if isErr {
		t.Fatalf("retrieve error: %s", text)
	}
	var ev struct {
		RunID     string     `json:"run_id"`
		Documents []Document `json:"documents"`
	}
	if err := json.Unmarshal([]byte(text), &ev); err != nil {
		t.Fatalf("decode: %v: %s", err, text)
	}
	if len(ev.Documents) != 3 || ev.RunID == "" {
		t.Fatalf("evidence: %s", text)
	}

	text, isErr = callText(t, session, "evidence_history", map[string]any{"limit": 5})
	if isErr {
		t.Fatalf("history error: %s", text)
	}
	var runs []Run
	if err := json.Unmarshal([]byte(text), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != ev.RunID {
		t.Fatalf("history: %s", text)
	}

	text, isErr = callText(t, session, "evidence_run", map[string]any{"id": ev.RunID})
	if isErr {
		t.Fatalf("run error: %s", text)
	}
	var run Run
	if err := json.Unmarshal([]byte(text), &run); err != nil {
		t.Fatal(err)
	}
	if len(run.Sources) != 3 {
		t.Errorf("sources: %s", text)
	}
}

func TestMCP_Errors(t *testing.T) {
	srv := site(t)
	svc := newService(t, nil, WithSearchProvider(links(srv, "/a", "/c")))
	session := connectMCP(t, svc)

	if _, isErr := callText(t, session, "evidence_retrieve", map[string]any{"claim": ""}); !isErr {
		t.Error("empty claim should be a tool error")
	}
	text, isErr := callText(t, session, "evidence_retrieve", map[string]any{"claim": "Greenland"})
	if !isErr {
		t.Fatalf("insufficient evidence should be a tool error: %s", text)
	}
	if _, isErr := callText(t, session, "evidence_run", map[string]any{"id": "nope"}); !isErr {
		t.Error("invalid run id should be a tool error")
	}
}
