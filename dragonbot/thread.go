package dragonbot

import (
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/slack-go/slack"
)

// leadingMentionPattern matches a user mention at the start of a message,
// e.g. "<@U0123ABCD> hello".
var leadingMentionPattern = regexp.MustCompile(`^\s*<@[A-Z0-9]+>\s*`)

// stripLeadingMention removes a leading user mention and surrounding
// whitespace from the given text.
func stripLeadingMention(text string) string {
	return strings.TrimSpace(leadingMentionPattern.ReplaceAllString(text, ""))
}

// buildThreadContext reconstructs an ordered conversation from Slack thread
// history: one system turn followed by alternating user/assistant turns.
//
// Messages authored by the bot become assistant turns; everything else
// becomes a user turn with any leading mention stripped. User turns that
// are empty after stripping contribute nothing. Chronological order is
// preserved as returned by the thread-history lookup; when the history
// exceeds limit, only the most recent limit messages are used.
func buildThreadContext(
	history []slack.Message,
	systemPrompt string,
	botUserID string,
	limit int,
) []openai.ChatCompletionMessage {
	turns := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		},
	}

	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	for _, msg := range history {
		if msg.User == botUserID || msg.BotID != "" {
			turns = append(
				turns, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: msg.Text,
				},
			)
			continue
		}
		text := stripLeadingMention(msg.Text)
		if text == "" {
			continue
		}
		turns = append(
			turns, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		)
	}

	return turns
}
