package dragonbot

import "regexp"

// Markdown constructs the completion models emit but Slack's mrkdwn
// dialect doesn't understand. Image syntax must be rewritten before link
// syntax: the link pattern would otherwise also match an image's
// trailing (url).
var (
	markdownImagePattern      = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)
	markdownLinkPattern       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	markdownHeaderPattern     = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+)$`)
	markdownBoldPattern       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	markdownBoldUnderPattern  = regexp.MustCompile(`__(.+?)__`)
	markdownRulePattern       = regexp.MustCompile(`(?m)^-{3,}[ \t]*$`)
	markdownRuleMrkdwnReplace = "──────────"
)

// convertToMrkdwn rewrites generic Markdown into Slack mrkdwn.
//
// This is a best-effort syntax transform, not a Markdown parser: each pass
// runs unconditionally over the output of the previous one, and nested or
// malformed constructs pass through unchanged. Text already in mrkdwn is
// returned as-is.
func convertToMrkdwn(text string) string {
	text = markdownImagePattern.ReplaceAllString(text, "$2")
	text = markdownLinkPattern.ReplaceAllString(text, "<$2|$1>")
	text = markdownHeaderPattern.ReplaceAllString(text, "*$1*")
	text = markdownBoldPattern.ReplaceAllString(text, "*$1*")
	text = markdownBoldUnderPattern.ReplaceAllString(text, "*$1*")
	text = markdownRulePattern.ReplaceAllString(text, markdownRuleMrkdwnReplace)
	return text
}
