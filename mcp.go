package pageshot

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pageshot/internal/horosafe"
	"github.com/hazyhaar/pageshot/internal/kit"
)

// RegisterMCP registers the pageshot tools on an MCP server:
// pageshot_capture, pageshot_coverage, pageshot_stop and pageshot_pages.
func (s *Shooter) RegisterMCP(srv *mcp.Server) {
	s.registerCaptureTool(srv)
	s.registerCoverageTool(srv)
	s.registerStopTool(srv)
	s.registerPagesTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *Shooter) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	mw := kit.Chain(kit.Recovery(s.logger), kit.Logging(s.logger, tool.Name))
	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

// --- capture ---

type captureRequest struct {
	URL            string `json:"url"`
	PageID         string `json:"page_id,omitempty"`
	AutoScroll     bool   `json:"autoscroll,omitempty"`
	ScrollOverlap  int    `json:"scroll_overlap,omitempty"`
	ScrollInterval int    `json:"scroll_interval_ms,omitempty"`
}

type captureResponse struct {
	Status string `json:"status"`
	PageID string `json:"page_id"`
}

func (s *Shooter) registerCaptureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_capture",
		Description: "Open a page and start assembling its full-length screenshot. Each scroll that reveals new rows adds them to the composite.",
		InputSchema: inputSchema(map[string]any{
			"url":                map[string]any{"type": "string", "description": "http(s) URL to capture"},
			"page_id":            map[string]any{"type": "string", "description": "Page identifier (generated if omitted)"},
			"autoscroll":         map[string]any{"type": "boolean", "description": "Scroll the page to the bottom automatically"},
			"scroll_overlap":     map[string]any{"type": "integer", "description": "Pixels kept between two autoscroll steps"},
			"scroll_interval_ms": map[string]any{"type": "integer", "description": "Delay between autoscroll steps"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*captureRequest)
		if r.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		page := PageConfig{
			ID:             r.PageID,
			URL:            r.URL,
			AutoScroll:     r.AutoScroll,
			ScrollOverlap:  r.ScrollOverlap,
			ScrollInterval: msDuration(r.ScrollInterval),
		}
		id, err := s.CapturePage(ctx, page)
		if err != nil {
			return nil, err
		}
		return captureResponse{Status: "capturing", PageID: id}, nil
	}

	s.register(srv, tool, endpoint, kit.DecodeJSON[captureRequest]())
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// --- coverage ---

type pageRequest struct {
	PageID string `json:"page_id"`
}

func (r *pageRequest) validate() error {
	return horosafe.ValidatePageID(r.PageID)
}

func (s *Shooter) registerCoverageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_coverage",
		Description: "Report which vertical ranges of a page have been captured so far.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Page identifier"},
		}, []string{"page_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*pageRequest)
		if err := r.validate(); err != nil {
			return nil, err
		}
		return s.Coverage(r.PageID)
	}

	s.register(srv, tool, endpoint, kit.DecodeJSON[pageRequest]())
}

// --- stop ---

func (s *Shooter) registerStopTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_stop",
		Description: "Stop capturing a page, close its tab and return its final coverage.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Page identifier"},
		}, []string{"page_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*pageRequest)
		if err := r.validate(); err != nil {
			return nil, err
		}
		return s.StopPage(r.PageID)
	}

	s.register(srv, tool, endpoint, kit.DecodeJSON[pageRequest]())
}

// --- pages ---

func (s *Shooter) registerPagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_pages",
		Description: "List pages being captured with their coverage.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	type pagesRequest struct{}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.Pages(), nil
	}

	s.register(srv, tool, endpoint, kit.DecodeJSON[pagesRequest]())
}
