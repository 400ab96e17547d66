// Package dragonbot implements a Slack bot that dispatches slash commands
// and message events to a set of handler modules, the most involved of which
// is an AI conversation core backed by an OpenAI-compatible completion proxy.
//
// Key components of the package include:
//
//   - DragonBot: The main struct wiring configuration, persistence, Slack
//     session, AI client and the optional status API together.
//   - UsageLedger: Enforces the shared daily AI quota with an atomic
//     upsert-increment, bypassing the privileged user and failing open when
//     the database is unavailable.
//   - CompletionClient: Issues chat-completion requests and executes the
//     bounded one-hop web_search tool protocol.
//   - SearchTool: Performs a single web-search call and renders the results
//     as plain-text tool output.
//   - buildThreadContext: Reconstructs an ordered conversation from Slack
//     thread history.
//   - convertToMrkdwn: Rewrites generic Markdown into Slack's mrkdwn dialect.
//
// The remaining handler modules (fun commands, xkcd, leveling XP, join
// manager, welcome, help) are simple request/response glue around external
// HTTP APIs and the shared database.
package dragonbot
