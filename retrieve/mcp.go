package retrieve

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hazyhaar/relance/kit"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers all retrieval tools on an MCP server. Every
// endpoint runs behind the shared tool middleware: request-ID stamping,
// then per-call logging.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerSearch(srv)
	svc.registerVisit(srv)
	svc.registerHealth(srv)
	svc.registerRecoveryStats(srv)
}

// toolMiddleware tags the context with the transport and a fresh request
// ID, then logs the call outcome and duration under the tool name.
func (svc *Service) toolMiddleware(tool string) kit.Middleware {
	tag := func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			ctx = kit.WithTransport(ctx, "mcp")
			ctx = kit.WithRequestID(ctx, svc.newID())
			return next(ctx, req)
		}
	}
	observe := func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			began := svc.now()
			resp, err := next(ctx, req)
			svc.logger.InfoContext(ctx, "mcp: tool call",
				"tool", tool, "request_id", kit.GetRequestID(ctx),
				"duration", svc.now().Sub(began), "failed", err != nil)
			return resp, err
		}
	}
	return kit.Chain(tag, observe)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (svc *Service) registerSearch(srv *mcp.Server) {
	type req struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}

	tool := &mcp.Tool{
		Name:        "research_search",
		Description: "Search the web with automatic backend fallback and query recovery",
		InputSchema: inputSchema(map[string]any{
			"query":       map[string]any{"type": "string", "description": "Search query"},
			"max_results": map[string]any{"type": "integer", "description": "Max hits to return (default 10)"},
		}, []string{"query"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.Search(ctx, SearchRequest{Query: p.Query, MaxResults: p.MaxResults})
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, svc.toolMiddleware(tool.Name)(endpoint), decode)
}

func (svc *Service) registerVisit(srv *mcp.Server) {
	type req struct {
		URL string `json:"url"`
	}

	tool := &mcp.Tool{
		Name:        "research_visit",
		Description: "Fetch a page, falling back to archived snapshots when the live site fails",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "URL to fetch"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.Visit(ctx, VisitRequest{URL: p.URL})
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, svc.toolMiddleware(tool.Name)(endpoint), decode)
}

func (svc *Service) registerHealth(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "retrieval_health",
		Description: "Report per-backend health: availability, success rate, last error",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		return svc.HealthReport(), nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &req{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, svc.toolMiddleware(tool.Name)(endpoint), decode)
}

func (svc *Service) registerRecoveryStats(srv *mcp.Server) {
	type req struct {
		WindowMs int64 `json:"window_ms"`
	}

	tool := &mcp.Tool{
		Name:        "recovery_stats",
		Description: "Aggregate recovery ledger statistics: success rates per strategy, flagged queries",
		InputSchema: inputSchema(map[string]any{
			"window_ms": map[string]any{"type": "integer", "description": "Window in ms (0 = whole ledger)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.RecoveryStats(time.Duration(p.WindowMs) * time.Millisecond), nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, svc.toolMiddleware(tool.Name)(endpoint), decode)
}
