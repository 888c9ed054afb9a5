package continuation

import (
	"regexp"
	"strings"
)

// leadingPreamble matches one reasoning preamble at the very start of a reply.
var leadingPreamble = regexp.MustCompile(strings.Join([]string{
	`(?i)^\s*<think>[\s\S]*?</think>\s*`,
	`^\s*\*Thinking.*?\*\s*`,
	`^\s*[-*•]?\s*(Thinking|Reflection|Reasoning|思考|推理|反思)[:：].*?\n+`,
	`^\s*(让我们思考一下|以下是我的推理|推理如下|思考如下)[：:]?\s*\n+`,
	`^\s*>[^\n]*\n+`,
}, "|"))

// TrimReply strips reasoning preambles from the start of an assistant reply
// and a trailing Marker from its end.
func TrimReply(content string) string {
	if content == "" {
		return content
	}

	result := content
	for {
		next := leadingPreamble.ReplaceAllString(result, "")
		if next == result {
			break
		}
		result = next
	}

	return StripMarker(result)
}
