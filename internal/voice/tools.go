package voice

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voiceguide/internal/observe"
	"github.com/MrWong99/voiceguide/internal/site"
	"github.com/MrWong99/voiceguide/pkg/provider/s2s"
)

// NavigateToolName is the function name the model calls to change the page.
const NavigateToolName = "navigateToPage"

// Tool call outcomes recorded in metrics and span attributes.
const (
	toolStatusOK          = "ok"
	toolStatusUnknownPage = "unknown_page"
	toolStatusUnknownTool = "unknown_tool"
)

// NavigateTool returns the navigateToPage declaration offered to the model.
func NavigateTool() s2s.ToolDefinition {
	return s2s.ToolDefinition{
		Name:        NavigateToolName,
		Description: "Navigate the user to a specific page on the school website.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"page": map[string]any{
					"type":        "string",
					"description": "The target page name.",
					"enum":        site.Names(),
				},
			},
			"required": []string{"page"},
		},
	}
}

// ToolDispatcher executes model tool calls against the host page. Every call
// yields exactly one response carrying the call's ID, whether or not the
// local action succeeded.
type ToolDispatcher struct {
	resolver *site.Resolver
	nav      site.Navigator
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// NewToolDispatcher returns a dispatcher navigating nav. resolver may be nil,
// in which case a default [site.Resolver] is used.
func NewToolDispatcher(nav site.Navigator, resolver *site.Resolver, metrics *observe.Metrics, logger *slog.Logger) *ToolDispatcher {
	if resolver == nil {
		resolver = site.NewResolver()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolDispatcher{resolver: resolver, nav: nav, metrics: metrics, logger: logger}
}

// Dispatch performs call and returns its acknowledgement.
func (d *ToolDispatcher) Dispatch(ctx context.Context, call s2s.ToolCall) s2s.ToolResponse {
	ctx, span := observe.StartSpan(ctx, "voice.tool_call")
	defer span.End()

	result, status := d.run(call)

	span.SetAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.status", status),
	)
	if d.metrics != nil {
		d.metrics.RecordToolCall(ctx, call.Name, status)
	}
	d.logger.Info("voice: tool call", "tool", call.Name, "id", call.ID, "status", status)

	return s2s.ToolResponse{ID: call.ID, Name: call.Name, Result: result}
}

func (d *ToolDispatcher) run(call s2s.ToolCall) (result, status string) {
	if call.Name != NavigateToolName {
		return fmt.Sprintf("Unknown tool %q.", call.Name), toolStatusUnknownTool
	}

	name, _ := call.Args["page"].(string)
	page, confidence, ok := d.resolver.Resolve(name)
	if !ok {
		return fmt.Sprintf("Unknown page %q; navigation skipped.", name), toolStatusUnknownPage
	}
	if confidence < 1 {
		d.logger.Debug("voice: fuzzy page match", "requested", name, "page", page, "confidence", confidence)
	}
	if d.nav != nil {
		d.nav.Navigate(page)
	}
	return fmt.Sprintf("Navigated to %s successfully.", page), toolStatusOK
}
