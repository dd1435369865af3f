// Package controller implements the chat-completions pipeline: parse,
// feedback short-circuit, dedup, classify/route, budget, cache, compress,
// dispatch, evaluate, persist, respond.
package controller

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/model"
	"github.com/cheaprelay/cheaprelay/monitor"
	"github.com/cheaprelay/cheaprelay/relay"
	"github.com/cheaprelay/cheaprelay/relay/activity"
	"github.com/cheaprelay/cheaprelay/relay/budget"
	"github.com/cheaprelay/cheaprelay/relay/cache"
	"github.com/cheaprelay/cheaprelay/relay/compress"
	"github.com/cheaprelay/cheaprelay/relay/routing"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

// Pipeline holds the long-lived collaborators of the request path.
type Pipeline struct {
	Registry *relay.Registry
	Cache    *cache.Store
	Router   *routing.Router
	Activity *activity.Registry
}

// NewPipeline wires the pipeline together.
func NewPipeline(reg *relay.Registry, store *cache.Store, rt *routing.Router, act *activity.Registry) *Pipeline {
	return &Pipeline{Registry: reg, Cache: store, Router: rt, Activity: act}
}

// requestState accumulates what each stage learned about one request.
type requestState struct {
	start      time.Time
	requestID  string
	reqLog     *model.RequestLog
	payload    *relaymodel.GeneralOpenAIRequest
	clientName string

	requested string
	lastUser  string
	preview   string

	decision *routing.Decision
	verdict  budget.Verdict
	comp     compress.Result

	system   string
	messages []relaymodel.Message
}

func (s *requestState) elapsed() time.Duration { return time.Since(s.start) }

// respondError writes the OpenAI-style error envelope and finalizes the
// request row.
func respondError(c *gin.Context, st *requestState, ewsc *relaymodel.ErrorWithStatusCode, status string) {
	c.JSON(ewsc.StatusCode, gin.H{"error": ewsc.Error})
	if st.reqLog != nil {
		st.reqLog.Finalize(status, ewsc.StatusCode, ewsc.Error.Message)
	}
	monitor.RecordRequest(status, st.elapsed())
}

// splitSystem separates system turns from the dialog, joining multiple system
// messages in order.
func splitSystem(messages []relaymodel.Message) (system string, rest []relaymodel.Message) {
	var parts []string
	for _, m := range messages {
		if m.Role == "system" {
			parts = append(parts, m.StringContent())
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}

// lastUserText returns the text of the final user turn.
func lastUserText(messages []relaymodel.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].StringContent()
		}
	}
	return ""
}

var injectionMarkers = []string{
	"/feedback", "[error", "error:", "<system-reminder", "[request interrupted",
}

// previewText picks the first user message that looks like an actual human
// prompt rather than an injected error, reminder, or feedback command.
func previewText(messages []relaymodel.Message) string {
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		text := strings.TrimSpace(m.StringContent())
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		injected := false
		for _, marker := range injectionMarkers {
			if strings.HasPrefix(lower, marker) {
				injected = true
				break
			}
		}
		if !injected {
			return text
		}
	}
	return lastUserText(messages)
}

// clientNameOf extracts the calling tool's identity from request headers.
func clientNameOf(c *gin.Context) string {
	if v := c.GetHeader("X-Client-Name"); v != "" {
		return v
	}
	return c.GetHeader("User-Agent")
}

var agenticClients = []string{"cline", "aider", "continue", "copilot"}

func isAgenticClient(name string) bool {
	lower := strings.ToLower(name)
	for _, a := range agenticClients {
		if strings.Contains(lower, a) {
			return true
		}
	}
	return false
}

// switchClaudeModel retargets a Claude decision to another alias, for the
// agentic upgrade and the budget downgrade. Returns false when the decision
// is not a Claude model or the target is unavailable.
func switchClaudeModel(d *routing.Decision, target string) bool {
	switch d.Provider {
	case "claude-cli":
		d.Model = target
		d.Alias = target
		return true
	case "claude-api":
		models, err := model.GetEnabledModelsByProvider(d.Provider)
		if err != nil {
			return false
		}
		for _, mc := range models {
			if strings.Contains(strings.ToLower(mc.ModelID), target) {
				d.Model = mc.ModelID
				d.Alias = target
				return true
			}
		}
	}
	return false
}

// claudeAliasOf maps a decision's model to its opus/sonnet/haiku alias, ""
// for non-Claude models.
func claudeAliasOf(d *routing.Decision) string {
	lower := strings.ToLower(d.Model)
	for _, alias := range []string{"opus", "sonnet", "haiku"} {
		if lower == alias || (strings.HasPrefix(lower, "claude") && strings.Contains(lower, alias)) {
			return alias
		}
	}
	return ""
}
