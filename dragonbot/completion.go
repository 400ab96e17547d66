package dragonbot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"golang.org/x/time/rate"
)

const searchToolName = "web_search"

var (
	// ErrNoAPIKey indicates the completion proxy key isn't configured.
	// AI features short-circuit on this before any network call.
	ErrNoAPIKey = errors.New("AI API key not configured")

	// ErrNoImage indicates the proxy response carried no image payload.
	ErrNoImage = errors.New("no image in response")
)

// CompletionClient issues chat-completion requests to the upstream proxy,
// optionally advertising the web_search tool, and performs the bounded
// one-hop tool-calling protocol.
type CompletionClient struct {
	client     *openai.Client
	config     *AIConfig
	search     *SearchTool
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *slog.Logger
}

// newCompletionClient creates a CompletionClient for the configured proxy.
// search may be nil, in which case no tool is advertised and tool-call
// responses are ignored.
func newCompletionClient(
	config *AIConfig,
	search *SearchTool,
	httpClient *http.Client,
	log *slog.Logger,
) *CompletionClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}
	if log == nil {
		log = slog.Default()
	}

	clientCfg := openai.DefaultConfig(config.APIKey)
	clientCfg.BaseURL = config.BaseURL
	clientCfg.HTTPClient = httpClient

	return &CompletionClient{
		client:     openai.NewClientWithConfig(clientCfg),
		config:     config,
		search:     search,
		httpClient: httpClient,
		limiter: rate.NewLimiter(
			rate.Limit(config.MaxRequestsPerSecond),
			1,
		),
		logger: log.With(loggerNameKey, "completion"),
	}
}

// webSearchTool is the single tool advertised to the model.
func webSearchTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        searchToolName,
			Description: "Search the web for current information",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"query": {
						Type:        jsonschema.String,
						Description: "The search query",
					},
				},
				Required: []string{"query"},
			},
		},
	}
}

// Complete sends the given turns to the completion proxy and returns the
// final assistant text.
//
// The tool protocol is capped at one hop: if the first response requests a
// tool call, the search runs once, the assistant tool-call message and a
// tool turn with the output are appended, and the request is re-issued
// without advertising tools. An empty return with a nil error means the
// model produced no text; the caller decides the user-facing fallback.
// Transport and decode failures surface as a single error, no retries.
func (c *CompletionClient) Complete(
	ctx context.Context,
	turns []openai.ChatCompletionMessage,
) (string, error) {
	if c.config.APIKey == "" {
		return "", ErrNoAPIKey
	}

	req := openai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: turns,
		Stream:   false,
	}
	if c.search != nil {
		req.Tools = []openai.Tool{webSearchTool()}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		c.logger.WarnContext(ctx, "completion response had no choices")
		return "", nil
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 || c.search == nil {
		return msg.Content, nil
	}

	return c.completeToolHop(ctx, turns, msg)
}

// completeToolHop honors the first requested tool call, then re-issues the
// completion with the extended turn sequence and without tools. No
// recursive tool chains.
func (c *CompletionClient) completeToolHop(
	ctx context.Context,
	turns []openai.ChatCompletionMessage,
	assistantMsg openai.ChatCompletionMessage,
) (string, error) {
	toolCall := assistantMsg.ToolCalls[0]

	query := decodeSearchQuery(toolCall.Function.Arguments)
	if query == "" {
		query = latestUserContent(turns)
	}
	c.logger.InfoContext(
		ctx,
		"model requested web search",
		slog.String("tool_call_id", toolCall.ID),
		slog.String("query", query),
	)

	searchOutput, err := c.search.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("web search failed: %w", err)
	}

	turns = append(
		turns,
		assistantMsg,
		openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    searchOutput,
			ToolCallID: toolCall.ID,
		},
	)

	if err = c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.client.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model:    c.config.Model,
			Messages: turns,
			Stream:   false,
		},
	)
	if err != nil {
		return "", fmt.Errorf("completion follow-up failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		c.logger.WarnContext(ctx, "follow-up response had no choices")
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// decodeSearchQuery decodes the JSON-encoded tool arguments, returning an
// empty string if they're missing or malformed.
func decodeSearchQuery(arguments string) string {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return ""
	}
	return strings.TrimSpace(args.Query)
}

// latestUserContent returns the content of the most recent user turn, used
// as the fallback search query when the model omits arguments.
func latestUserContent(turns []openai.ChatCompletionMessage) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == openai.ChatMessageRoleUser {
			return turns[i].Content
		}
	}
	return ""
}

// The image-modality extension of the completion proxy isn't modeled by
// the OpenAI client library, so its payloads get their own tagged structs.
type imageGenerationRequest struct {
	Model       string                   `json:"model"`
	Messages    []imageGenerationMessage `json:"messages"`
	Modalities  []string                 `json:"modalities"`
	ImageConfig imageGenerationConfig    `json:"image_config"`
}

type imageGenerationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type imageGenerationConfig struct {
	AspectRatio string `json:"aspect_ratio"`
}

type imageGenerationResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateImage asks the proxy's image model for one image and returns the
// decoded bytes. Returns ErrNoImage when the response carries no image.
func (c *CompletionClient) GenerateImage(
	ctx context.Context,
	prompt string,
) ([]byte, error) {
	if c.config.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	payload, err := json.Marshal(
		imageGenerationRequest{
			Model: c.config.ImageModel,
			Messages: []imageGenerationMessage{
				{Role: "user", Content: prompt},
			},
			Modalities:  []string{"image", "text"},
			ImageConfig: imageGenerationConfig{AspectRatio: "16:9"},
		},
	)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/chat/completions", c.config.BaseURL),
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(
		"Authorization",
		fmt.Sprintf("Bearer %s", c.config.APIKey),
	)

	if err = c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image generation request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.ErrorContext(
			ctx,
			"image generation returned non-2xx",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return nil, fmt.Errorf(
			"image generation returned status %d",
			resp.StatusCode,
		)
	}

	var body imageGenerationResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("error decoding image response: %w", err)
	}

	if len(body.Choices) == 0 || len(body.Choices[0].Message.Images) == 0 {
		return nil, ErrNoImage
	}

	imageURL := body.Choices[0].Message.Images[0].ImageURL.URL
	// Data URLs carry the base64 payload after the comma.
	if i := strings.Index(imageURL, ","); i >= 0 {
		imageURL = imageURL[i+1:]
	}

	imageBytes, err := base64.StdEncoding.DecodeString(imageURL)
	if err != nil {
		return nil, fmt.Errorf("error decoding image payload: %w", err)
	}
	return imageBytes, nil
}
