package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

const defaultMCPTimeout = 60 * time.Second

// MCPProvider executes remote tools against an MCP server over streamable
// HTTP. Per-execution header overrides (auth tokens forwarded by the peer)
// dial a short-lived connection; calls without overrides share one client.
type MCPProvider struct {
	name     string
	endpoint string
	headers  map[string]string
	timeout  time.Duration

	mu     sync.Mutex
	shared *mcpclient.Client
}

// NewMCPProvider creates a provider for one MCP endpoint. baseHeaders are
// applied to every call; timeout bounds each tool invocation.
func NewMCPProvider(name, endpoint string, baseHeaders map[string]string, timeout time.Duration) *MCPProvider {
	if timeout <= 0 {
		timeout = defaultMCPTimeout
	}
	return &MCPProvider{name: name, endpoint: endpoint, headers: baseHeaders, timeout: timeout}
}

func (p *MCPProvider) Name() string { return p.name }

// ExecuteTool calls the named tool on the MCP server and returns its text
// content. Tool-level failures come back as errors so the run loop can
// feed them to the model as tool error results.
func (p *MCPProvider) ExecuteTool(ctx context.Context, name string, args map[string]any, headers map[string]string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cli, ephemeral, err := p.clientFor(callCtx, headers)
	if err != nil {
		return "", fmt.Errorf("mcp provider %s: %w", p.name, err)
	}
	if ephemeral {
		defer cli.Close()
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := cli.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("mcp tool %s timed out after %s", name, p.timeout)
		}
		return "", fmt.Errorf("mcp tool %s: %w", name, err)
	}

	text := extractText(result)
	if result.IsError {
		return "", fmt.Errorf("mcp tool %s failed: %s", name, text)
	}
	return text, nil
}

// clientFor returns the shared client, or a fresh one when header
// overrides require a differently-authenticated connection.
func (p *MCPProvider) clientFor(ctx context.Context, overrides map[string]string) (*mcpclient.Client, bool, error) {
	if len(overrides) == 0 {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.shared != nil {
			return p.shared, false, nil
		}
		cli, err := p.dial(ctx, p.headers)
		if err != nil {
			return nil, false, err
		}
		p.shared = cli
		return cli, false, nil
	}

	merged := make(map[string]string, len(p.headers)+len(overrides))
	for k, v := range p.headers {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	cli, err := p.dial(ctx, merged)
	return cli, true, err
}

func (p *MCPProvider) dial(ctx context.Context, headers map[string]string) (*mcpclient.Client, error) {
	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}
	cli, err := mcpclient.NewStreamableHttpClient(p.endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", p.endpoint, err)
	}
	if err := cli.Start(ctx); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.endpoint, err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "agentwire", Version: "0.1.0"}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		cli.Close()
		return nil, fmt.Errorf("initialize %s: %w", p.endpoint, err)
	}
	return cli, nil
}

// Close shuts down the shared connection, if any.
func (p *MCPProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shared != nil {
		p.shared.Close()
		p.shared = nil
	}
}

func extractText(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		default:
			parts = append(parts, fmt.Sprintf("[non-text content: %T]", c))
		}
	}
	return strings.Join(parts, "\n")
}
