package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"workbench/pkg/logx"
	"workbench/pkg/plan"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-0"

const (
	maxAttempts       = 3
	initialBackoff    = time.Second
	responseMaxTokens = 8192
)

const planSystemPrompt = `You are a coding agent that edits a user's workspace.
Respond with a single JSON object and nothing else, in this shape:
{"steps":[{"type":"file_edit","path":"relative/path","oldContent":"exact snippet to replace (omit for full replace)","newContent":"replacement"},{"type":"command","command":"shell command"}],"summary":"one sentence"}
Paths must be relative, with forward slashes, and must not contain "..".
When replacing a snippet, oldContent must match the current file content exactly.`

const repairSystemPrompt = planSystemPrompt + `
You are repairing a failing command. Only edit the files listed as in scope;
edits to any other file will be rejected.`

// ClaudeProposer asks Claude for plans and validates every response before
// returning it.
type ClaudeProposer struct {
	client anthropic.Client
	model  anthropic.Model
	tokens *TokenCounter
	logger *logx.Logger
}

// NewClaudeProposer creates a proposer backed by the Anthropic API. An
// empty model selects DefaultModel.
func NewClaudeProposer(apiKey, model string) *ClaudeProposer {
	if model == "" {
		model = DefaultModel
	}
	return &ClaudeProposer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
		tokens: NewTokenCounter(),
		logger: logx.NewLogger("agent"),
	}
}

// ProposePlan implements Proposer.
func (p *ClaudeProposer) ProposePlan(ctx context.Context, req PlanRequest) (*plan.Plan, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", req.Instruction)
	p.writeFiles(&b, req.Files)
	return p.complete(ctx, planSystemPrompt, b.String())
}

// ProposeRepair implements Proposer.
func (p *ClaudeProposer) ProposeRepair(ctx context.Context, req RepairRequest) (*plan.Plan, error) {
	return p.complete(ctx, repairSystemPrompt, p.repairPrompt(req))
}

func (p *ClaudeProposer) repairPrompt(req RepairRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The command `%s` failed.\n", req.Command)
	if req.ExecErr.Type != "" {
		fmt.Fprintf(&b, "Failure classification: %s\n", req.ExecErr.Type)
	}
	if req.ExecErr.MissingDependency != "" {
		fmt.Fprintf(&b, "Missing dependency: %s\n", req.ExecErr.MissingDependency)
	}
	if !req.Scope.Empty() {
		fmt.Fprintf(&b, "Files in scope (edit only these): %s\n",
			strings.Join(req.Scope.Paths(), ", "))
	}
	if req.Stderr != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", p.tokens.TruncateHead(req.Stderr, outputTokenBudget))
	}
	if req.Stdout != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n", p.tokens.TruncateHead(req.Stdout, outputTokenBudget))
	}
	p.writeFiles(&b, req.Files)
	fmt.Fprintf(&b, "Propose a minimal fix.\n")
	return b.String()
}

// writeFiles appends file context under a shared token budget, in sorted
// order so prompts are deterministic.
func (p *ClaudeProposer) writeFiles(b *strings.Builder, files map[string]string) {
	if len(files) == 0 {
		return
	}
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	remaining := contextTokenBudget
	for _, path := range paths {
		content := files[path]
		cost := p.tokens.Count(content)
		if cost > remaining {
			content = p.tokens.TruncateHead(content, remaining)
			cost = remaining
		}
		fmt.Fprintf(b, "--- %s ---\n%s\n", path, content)
		remaining -= cost
		if remaining <= 0 {
			break
		}
	}
}

func (p *ClaudeProposer) complete(ctx context.Context, system, prompt string) (*plan.Plan, error) {
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: responseMaxTokens,
		System: []anthropic.TextBlockParam{{
			Text: system,
			Type: "text",
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := p.client.Messages.New(ctx, params)
		if err == nil {
			text := responseText(resp)
			if text == "" {
				lastErr = fmt.Errorf("empty response from model")
			} else {
				return parsePlanResponse(text)
			}
		} else {
			lastErr = err
		}

		if attempt == maxAttempts {
			break
		}
		p.logger.Warn("model call failed (attempt %d/%d): %v", attempt, maxAttempts, lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("model call failed after %d attempts: %w", maxAttempts, lastErr)
}

func responseText(resp *anthropic.Message) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	return text.String()
}

// parsePlanResponse extracts the JSON object from model output, tolerating
// surrounding prose or code fences, and validates it as a plan.
func parsePlanResponse(text string) (*plan.Plan, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("model response contains no JSON object")
	}
	parsed, err := plan.Parse([]byte(text[start : end+1]))
	if err != nil {
		return nil, fmt.Errorf("model returned an invalid plan: %w", err)
	}
	return parsed, nil
}
