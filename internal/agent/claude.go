package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// claudeProvider drives the claude CLI in --output-format stream-json mode.
type claudeProvider struct {
	spec providerSpec
}

var _ Provider = (*claudeProvider)(nil)

// defaultAllowedTools is used when the caller does not restrict the tool set.
var defaultAllowedTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "WebFetch"}

func (p *claudeProvider) Name() string    { return p.spec.Name }
func (p *claudeProvider) Command() string { return p.spec.Command }

// thinkingKeywords maps thinking levels onto the prompt keywords the CLI
// recognizes.
var thinkingKeywords = map[string]string{
	"low":        "think",
	"medium":     "think hard",
	"high":       "think harder",
	"ultrathink": "ultrathink",
}

// BuildArgs assembles the stream-json invocation.
func (p *claudeProvider) BuildArgs(cfg RunConfig) []string {
	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
	}

	tools := cfg.AllowedTools
	if len(tools) == 0 {
		tools = defaultAllowedTools
	}
	args = append(args, "--allowedTools", strings.Join(tools, ","))

	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	} else if p.spec.DefaultModel != "" {
		args = append(args, "--model", p.spec.DefaultModel)
	}

	if cfg.BridgeEndpoint != "" {
		args = append(args, "--mcp-config", bridgeMCPConfig(cfg.BridgeEndpoint, cfg.BridgeToken))
	}

	prompt := cfg.Prompt
	if kw, ok := thinkingKeywords[string(cfg.ThinkingLevel)]; ok {
		prompt = kw + ".\n\n" + prompt
	}
	args = append(args, "-p", prompt)
	return args
}

// bridgeMCPConfig renders an inline MCP server configuration pointing the
// agent at the local tool-call bridge.
func bridgeMCPConfig(endpoint, token string) string {
	cfg := map[string]any{
		"mcpServers": map[string]any{
			"automaker": map[string]any{
				"type":     "tcp",
				"endpoint": endpoint,
				"token":    token,
			},
		},
	}
	data, _ := json.Marshal(cfg)
	return string(data)
}

// claudeMessage is the subset of stream-json lines the parser cares about.
type claudeMessage struct {
	Type    string `json:"type"`
	Result  string `json:"result"`
	Message struct {
		Content []claudeBlock `json:"content"`
	} `json:"message"`
}

type claudeBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ParseLine maps one stream-json line onto runner events. Assistant text
// blocks become stream deltas, tool_use blocks become tool events, and the
// final result message becomes the turn summary.
func (p *claudeProvider) ParseLine(line []byte) ([]Event, bool) {
	var msg claudeMessage
	if err := json.Unmarshal(line, &msg); err != nil || msg.Type == "" {
		return nil, false
	}

	switch msg.Type {
	case "assistant":
		var events []Event
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					events = append(events, Event{Type: EventStream, Text: block.Text, Raw: line})
				}
			case "tool_use":
				events = append(events, Event{Type: EventToolUse, Tool: block.Name, ToolInput: block.Input, Raw: line})
			}
		}
		if len(events) == 0 {
			return []Event{{Type: EventLog, Text: string(line), Raw: line}}, true
		}
		return events, true
	case "result":
		return []Event{{Type: EventResult, Text: msg.Result, Raw: line}}, true
	default:
		// system, user, and anything newer pass through verbatim.
		return []Event{{Type: EventLog, Text: string(line), Raw: line}}, true
	}
}

// lineProvider handles CLIs that speak the plain message protocol: one JSON
// object per line typed assistant_text / tool_use / result. Unparseable
// lines are copied through by the runner as log events.
type lineProvider struct {
	spec providerSpec
}

var _ Provider = (*lineProvider)(nil)

func (p *lineProvider) Name() string    { return p.spec.Name }
func (p *lineProvider) Command() string { return p.spec.Command }

func (p *lineProvider) BuildArgs(cfg RunConfig) []string {
	var args []string
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if p.spec.SupportsReasoningEffort && cfg.ReasoningEffort != "" && cfg.ReasoningEffort != "none" {
		args = append(args, "--reasoning-effort", string(cfg.ReasoningEffort))
	}
	if cfg.BridgeEndpoint != "" {
		args = append(args, "--tool-endpoint", cfg.BridgeEndpoint, "--tool-token", cfg.BridgeToken)
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(cfg.AllowedTools, ","))
	}
	args = append(args, "-p", cfg.Prompt)
	return args
}

type lineMessage struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Tool    string          `json:"tool"`
	Input   json.RawMessage `json:"input"`
	Summary string          `json:"summary"`
}

func (p *lineProvider) ParseLine(line []byte) ([]Event, bool) {
	var msg lineMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, false
	}
	switch msg.Type {
	case "assistant_text":
		return []Event{{Type: EventStream, Text: msg.Text, Raw: line}}, true
	case "tool_use":
		return []Event{{Type: EventToolUse, Tool: msg.Tool, ToolInput: msg.Input, Raw: line}}, true
	case "result":
		text := msg.Summary
		if text == "" {
			text = msg.Text
		}
		return []Event{{Type: EventResult, Text: text, Raw: line}}, true
	case "":
		return nil, false
	default:
		return []Event{{Type: EventLog, Text: string(line), Raw: line}}, true
	}
}

// describeToolUse renders a short human-readable action for a tool event,
// mirroring what the board shows while an agent works.
func describeToolUse(name string, input json.RawMessage) string {
	var fields map[string]any
	json.Unmarshal(input, &fields)
	str := func(key string) string {
		s, _ := fields[key].(string)
		return s
	}
	switch name {
	case "Read":
		return "Reading " + shortPath(str("file_path"))
	case "Edit":
		return "Editing " + shortPath(str("file_path"))
	case "Write":
		return "Writing " + shortPath(str("file_path"))
	case "Bash":
		return "Running " + firstWord(str("command"))
	case "Glob", "Grep":
		return "Searching " + truncate(str("pattern"), 20)
	default:
		return name
	}
}

func shortPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	return truncate(path, 24)
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \n"); i >= 0 {
		s = s[:i]
	}
	return truncate(s, 24)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return fmt.Sprintf("%s...", s[:n-3])
	}
	return s
}
