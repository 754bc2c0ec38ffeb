// Package protocol defines the cross-window messages exchanged with the
// remote origin that drives publishing: the handshake, the task envelope and
// the result, plus the origin allow-list they are checked against.
package protocol

import (
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/page"
)

// Wildcard is the postMessage target origin that matches any receiver.
const Wildcard = "*"

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Kind classifies an inbound message.
type Kind int

const (
	// KindOther is anything that is neither a handshake nor a task envelope.
	KindOther Kind = iota
	KindHandshake
	KindTask
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindTask:
		return "task"
	default:
		return "other"
	}
}

// Ready announces that the agent is present on a platform's editor.
type Ready struct {
	Type     string `json:"type"`
	Platform string `json:"platform"`
}

// Result reports how a task ended.
type Result struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	TaskID string `json:"taskId"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Target is where results for a task are posted.
type Target struct {
	Window page.WindowRef
	Origin string
}

// Task is an admitted publish request.
type Task struct {
	ID          string
	Platform    string
	Title       string
	Content     string
	AutoPublish bool
	Reply       Target
}

type envelope struct {
	Type        string `json:"type"`
	Platform    string `json:"platform"`
	TaskID      any    `json:"taskId"`
	AutoPublish bool   `json:"autoPublish"`
	Payload     *struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"payload"`
}

// Message is a decoded inbound message. Task is set for KindTask; its Reply
// is left for the caller to resolve.
type Message struct {
	Kind Kind
	Task Task
}

// Protocol holds the wire names and the origin allow-list.
type Protocol struct {
	prefix   string
	platform string
	allowed  []string
}

// New creates a Protocol for platform from cfg.
func New(cfg config.ProtocolConfig, platform string) *Protocol {
	return &Protocol{
		prefix:   cfg.Prefix,
		platform: platform,
		allowed:  append([]string(nil), cfg.AllowedOrigins...),
	}
}

func (p *Protocol) Platform() string       { return p.platform }
func (p *Protocol) HandshakeToken() string { return p.prefix + "PUBLISH_REQUEST" }
func (p *Protocol) ReadyType() string      { return p.prefix + "READY" }
func (p *Protocol) TaskType() string       { return p.prefix + "TASK" }
func (p *Protocol) ResultType() string     { return p.prefix + "TASK_RESULT" }

// Ready builds the handshake reply.
func (p *Protocol) Ready() Ready {
	return Ready{Type: p.ReadyType(), Platform: p.platform}
}

// Result builds a result message.
func (p *Protocol) Result(status, taskID, url, errMsg string) Result {
	return Result{Type: p.ResultType(), Status: status, TaskID: taskID, URL: url, Error: errMsg}
}

// IsSentinel reports whether origin is the value a browser reports when no
// origin is available.
func IsSentinel(origin string) bool {
	return origin == "" || origin == "null"
}

// ReplyOrigin is the target origin for replies to a sender at origin.
func ReplyOrigin(origin string) string {
	if IsSentinel(origin) {
		return Wildcard
	}
	return origin
}

// Allowed reports whether origin passes the allow-list. An empty allow-list
// admits everything. The no-origin sentinel passes only for handshakes.
func (p *Protocol) Allowed(origin string, handshake bool) bool {
	if len(p.allowed) == 0 {
		return true
	}
	if IsSentinel(origin) {
		return handshake
	}
	for _, prefix := range p.allowed {
		if prefix != "" && strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// Decode classifies data. Malformed or unrecognised payloads are KindOther.
func (p *Protocol) Decode(data []byte) Message {
	if len(data) == 0 {
		return Message{}
	}
	switch data[0] {
	case '"':
		var token string
		if err := json.Unmarshal(data, &token); err == nil && token == p.HandshakeToken() {
			return Message{Kind: KindHandshake}
		}
		return Message{}
	case '{':
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type != p.TaskType() {
			return Message{}
		}
		task := Task{
			ID:          taskID(env.TaskID),
			Platform:    env.Platform,
			AutoPublish: env.AutoPublish,
		}
		if env.Payload != nil {
			task.Title = env.Payload.Title
			task.Content = env.Payload.Content
		}
		return Message{Kind: KindTask, Task: task}
	}
	return Message{}
}

// taskID accepts the string or numeric identifiers senders use.
func taskID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		if id == 0 {
			return ""
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}
