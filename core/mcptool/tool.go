// Package mcptool exposes the ajax facade as an MCP tool.
package mcptool

import (
	"context"
	"fmt"
	"time"

	"github.com/ajaxbridge/ajaxbridge/core/ajax"
	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/ajaxbridge/ajaxbridge/log"
	mcp_golang "github.com/metoro-io/mcp-golang"
)

const (
	ToolName        = "http_request"
	ToolDescription = "Perform an HTTP request and return its classified result as JSON"
)

type RequestArgs struct {
	URL           string            `json:"url" jsonschema:"required,description=The URL to request"`
	Method        string            `json:"method" jsonschema:"description=The HTTP method (GET when empty)"`
	Headers       map[string]string `json:"headers" jsonschema:"description=Request headers overriding the default ones"`
	Body          string            `json:"body" jsonschema:"description=The request body"`
	TimeoutMillis int               `json:"timeoutMillis" jsonschema:"description=Connection timeout in milliseconds"`
}

type Tool struct {
	client *ajax.Client
}

func New(client *ajax.Client) *Tool {
	return &Tool{client: client}
}

// Register adds the tool to server.
func (t *Tool) Register(server *mcp_golang.Server) error {
	err := server.RegisterTool(ToolName, ToolDescription, func(args RequestArgs) (*mcp_golang.ToolResponse, error) {
		// The MCP library does not pass a request context to handlers
		return t.Handle(context.Background(), args)
	})
	if err != nil {
		return fmt.Errorf("registering tool '%s': %w", ToolName, err)
	}
	return nil
}

// Handle runs the request. Failed requests are not errors: their kind and info
// are part of the returned JSON. Only invalid arguments are.
func (t *Tool) Handle(ctx context.Context, args RequestArgs) (*mcp_golang.ToolResponse, error) {
	log.Debug(ctx, "Tool called", "tool", ToolName, "method", args.Method, "url", args.URL)
	opts := ajax.Options{
		URL:     args.URL,
		Method:  args.Method,
		Timeout: time.Duration(args.TimeoutMillis) * time.Millisecond,
	}
	if args.Body != "" {
		opts.Body = []byte(args.Body)
	}
	if len(args.Headers) > 0 {
		fields := make(map[string]any, len(args.Headers))
		for k, v := range args.Headers {
			fields[k] = v
		}
		h, err := fetch.FromPlainMapping(fields)
		if err != nil {
			return nil, fmt.Errorf("invalid headers: %w", err)
		}
		opts.Headers = h
	}

	res, err := t.client.Do(ctx, opts)
	if err != nil && res.ID == "" {
		log.Warn(ctx, "Tool call rejected", "tool", ToolName, "url", args.URL, err)
		return nil, err
	}
	log.Debug(ctx, "Tool call finished", "tool", ToolName, "url", args.URL, "kind", res.Kind, "code", res.Code)
	return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(string(res.JSON()))), nil
}
