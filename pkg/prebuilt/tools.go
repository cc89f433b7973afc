package prebuilt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/flowgraph/stategraph/pkg/stategraph"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrToolFailed  = errors.New("tool call failed")
)

// Default state keys of the tool node.
const (
	ToolCallsKey   = "tool_calls"
	ToolResultsKey = "tool_results"
)

// Tool is a named capability the tool node can dispatch to.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// ToolFunc adapts a function to Tool.
type ToolFunc struct {
	ToolName string
	Fn       func(ctx context.Context, args map[string]any) (any, error)
}

func (t ToolFunc) Name() string { return t.ToolName }

func (t ToolFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return t.Fn(ctx, args)
}

// ToolCall is one pending invocation found in state.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FailurePolicy decides what a failed call does to the node.
type FailurePolicy int

const (
	// FailFast fails the node on the first failed call and cancels the rest.
	FailFast FailurePolicy = iota
	// RecordErrors stores each failure in its result entry and keeps going.
	RecordErrors
)

// ToolNode runs every pending tool call concurrently and folds the
// results back in call order as one update. It clears the pending calls,
// so the calls key should use an overwrite reducer.
type ToolNode struct {
	tools       map[string]Tool
	policy      FailurePolicy
	parallelism int
	callsKey    string
	resultsKey  string
}

// ToolNodeOption configures a ToolNode.
type ToolNodeOption func(*ToolNode)

// WithFailurePolicy sets how failed calls are handled.
func WithFailurePolicy(p FailurePolicy) ToolNodeOption {
	return func(n *ToolNode) { n.policy = p }
}

// WithToolParallelism caps concurrent calls. Zero is unbounded.
func WithToolParallelism(n int) ToolNodeOption {
	return func(t *ToolNode) { t.parallelism = n }
}

// WithToolKeys overrides the state keys holding calls and results.
func WithToolKeys(calls, results string) ToolNodeOption {
	return func(n *ToolNode) { n.callsKey, n.resultsKey = calls, results }
}

// NewToolNode creates a tool node. Later tools replace earlier ones with
// the same name.
func NewToolNode(tools []Tool, opts ...ToolNodeOption) *ToolNode {
	n := &ToolNode{
		tools:      make(map[string]Tool, len(tools)),
		callsKey:   ToolCallsKey,
		resultsKey: ToolResultsKey,
	}
	for _, t := range tools {
		n.tools[t.Name()] = t
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Invoke dispatches the pending calls in snap.State.
func (n *ToolNode) Invoke(ctx context.Context, snap stategraph.Snapshot) (stategraph.Update, error) {
	calls, err := parseToolCalls(snap.State[n.callsKey])
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, nil
	}

	results := make([]any, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	if n.parallelism > 0 {
		g.SetLimit(n.parallelism)
	}
	for i, call := range calls {
		g.Go(func() error {
			entry := map[string]any{"id": call.ID, "name": call.Name}
			out, err := n.call(gctx, call)
			if err != nil {
				if n.policy == FailFast {
					return err
				}
				entry["error"] = err.Error()
			} else {
				entry["output"] = out
			}
			results[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stategraph.Update{n.resultsKey: results, n.callsKey: []any{}}, nil
}

func (n *ToolNode) call(ctx context.Context, call ToolCall) (any, error) {
	tool, ok := n.tools[call.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	out, err := tool.Invoke(ctx, call.Args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %w", ErrToolFailed, call.Name, call.ID, err)
	}
	return out, nil
}

// parseToolCalls accepts typed calls or the generic maps a checkpoint
// round trip produces.
func parseToolCalls(v any) ([]ToolCall, error) {
	switch calls := v.(type) {
	case nil:
		return nil, nil
	case []ToolCall:
		return calls, nil
	case []map[string]any:
		out := make([]ToolCall, 0, len(calls))
		for _, m := range calls {
			c, err := toolCallFromMap(m)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	case []any:
		out := make([]ToolCall, 0, len(calls))
		for _, item := range calls {
			switch c := item.(type) {
			case ToolCall:
				out = append(out, c)
			case map[string]any:
				call, err := toolCallFromMap(c)
				if err != nil {
					return nil, err
				}
				out = append(out, call)
			default:
				return nil, fmt.Errorf("%w: tool call of type %T", ErrInvalidConfig, item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: tool calls of type %T", ErrInvalidConfig, v)
}

func toolCallFromMap(m map[string]any) (ToolCall, error) {
	name, _ := m["name"].(string)
	if name == "" {
		return ToolCall{}, fmt.Errorf("%w: tool call without a name", ErrInvalidConfig)
	}
	id, _ := m["id"].(string)
	args, _ := m["args"].(map[string]any)
	return ToolCall{ID: id, Name: name, Args: args}, nil
}

// ToolLoopConfig configures an agent that plans tool calls and a tool
// node that executes them until the agent stops asking.
type ToolLoopConfig struct {
	Name  string
	Tools []Tool
	// Agent reads tool results and either writes new calls or an answer.
	// The default calls every tool once with the "question" and then
	// summarizes the results into "answer".
	Agent       stategraph.NodeFunc
	Policy      FailurePolicy
	Parallelism int
	// MaxRounds bounds agent/tool round trips. Defaults to 5.
	MaxRounds int
}

// ToolLoop declares agent -> tools -> agent until no calls are pending.
func ToolLoop(cfg ToolLoopConfig) (*stategraph.Builder, error) {
	if cfg.Name == "" {
		cfg.Name = "tools"
	}
	if len(cfg.Tools) == 0 {
		return nil, fmt.Errorf("%w: no tools", ErrInvalidConfig)
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 5
	}
	if cfg.Agent == nil {
		cfg.Agent = planOnce(cfg.Tools)
	}

	schema := stategraph.NewSchema(
		stategraph.WithField(ToolResultsKey, stategraph.Append),
		stategraph.WithField("rounds", stategraph.Add),
	)
	route := func(s stategraph.State) []string {
		if len(s.List(ToolCallsKey)) > 0 {
			return []string{"tools"}
		}
		return []string{stategraph.END}
	}
	node := NewToolNode(cfg.Tools, WithFailurePolicy(cfg.Policy), WithToolParallelism(cfg.Parallelism))

	budgets := stategraph.DefaultBudgets()
	budgets.MaxVisitsPerPath = cfg.MaxRounds + 1
	return stategraph.New(cfg.Name, schema).
		AddNodeFunc("agent", cfg.Agent).
		AddNode("tools", node).
		AddConditionalEdge("agent", route, "tools", stategraph.END).
		AddEdge("tools", "agent").
		SetEntry("agent").
		WithBudgets(budgets), nil
}

// planOnce calls every tool with the question, then answers from the
// collected outputs.
func planOnce(tools []Tool) stategraph.NodeFunc {
	return func(_ context.Context, snap stategraph.Snapshot) (stategraph.Update, error) {
		results := snap.State.List(ToolResultsKey)
		if len(results) == 0 {
			question := snap.State.String("question")
			calls := make([]any, 0, len(tools))
			for i, t := range tools {
				calls = append(calls, map[string]any{
					"id":   fmt.Sprintf("call-%d", i+1),
					"name": t.Name(),
					"args": map[string]any{"text": question},
				})
			}
			return stategraph.Update{ToolCallsKey: calls, "rounds": 1}, nil
		}
		parts := make([]string, 0, len(results))
		for _, r := range results {
			m, _ := r.(map[string]any)
			if errText, ok := m["error"]; ok {
				parts = append(parts, fmt.Sprintf("%v failed: %v", m["name"], errText))
				continue
			}
			parts = append(parts, fmt.Sprintf("%v: %v", m["name"], m["output"]))
		}
		return stategraph.Update{"answer": strings.Join(parts, "; ")}, nil
	}
}

// DemoTools returns two deterministic tools used by the default tool
// loop: echo returns its text and length counts its characters.
func DemoTools() []Tool {
	return []Tool{
		ToolFunc{ToolName: "echo", Fn: func(_ context.Context, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			return text, nil
		}},
		ToolFunc{ToolName: "length", Fn: func(_ context.Context, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			return len([]rune(text)), nil
		}},
	}
}
