// Package report extracts the useful answer from raw agent output and
// recognises failures agents print instead of exiting non-zero.
package report

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	rateLimitPattern  = regexp.MustCompile(`429|rate.?limit|quota.?exceeded|too.?many.?requests`)
	modelErrorPattern = regexp.MustCompile(`model.?not.?found|not.?supported|invalid.?model|unknown.?model`)
)

// CodexMessages extracts agent messages from a codex --json event stream.
// Lines that are not JSON are skipped. When no message is found the trimmed
// raw output is returned.
func CodexMessages(stdout string) string {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return ""
	}

	var messages []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !gjson.Valid(line) {
			continue
		}
		messages = append(messages, eventText(gjson.Parse(line))...)
	}

	if len(messages) == 0 {
		return trimmed
	}
	return strings.Join(messages, "\n")
}

func eventText(ev gjson.Result) []string {
	if !ev.IsObject() {
		return nil
	}

	switch ev.Get("type").String() {
	case "item.completed":
		item := ev.Get("item")
		if item.Get("type").String() == "agent_message" {
			if text := item.Get("text"); text.Type == gjson.String {
				return []string{text.String()}
			}
		}
	case "output_text":
		if text := ev.Get("text"); text.Type == gjson.String {
			return []string{text.String()}
		}
	case "message":
		content := ev.Get("content")
		if content.Type == gjson.String {
			return []string{content.String()}
		}
		if content.IsArray() {
			var parts []string
			content.ForEach(func(_, part gjson.Result) bool {
				if part.Get("type").String() == "text" && part.Get("text").Type == gjson.String {
					parts = append(parts, part.Get("text").String())
				}
				return true
			})
			return parts
		}
	}

	for _, field := range []string{"message", "text", "content", "response"} {
		if v := ev.Get(field); v.Type == gjson.String {
			return []string{v.String()}
		}
	}
	return nil
}

// RateLimited reports whether the output mentions a rate limit or quota.
func RateLimited(stdout, stderr string) bool {
	return rateLimitPattern.MatchString(strings.ToLower(stdout + " " + stderr))
}

// ModelError reports whether the output mentions an unknown or unsupported model.
func ModelError(stdout, stderr string) bool {
	return modelErrorPattern.MatchString(strings.ToLower(stdout + " " + stderr))
}
