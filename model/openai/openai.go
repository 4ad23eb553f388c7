// Package openai provides an implementation of model.Provider using the
// OpenAI Chat Completions API. Any OpenAI-compatible endpoint (DeepSeek,
// local gateways) works by overriding BaseURL. SDK-level retries are disabled
// because the gateway owns the retry policy.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI provider.
type Options struct {
	Model      string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider wraps the Chat Completions API behind model.Provider.
type Provider struct {
	client *openai.Client
	opts   Options
}

// NewProvider creates a provider with its own client built from opts.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model: openai.ChatModelGPT4oMini,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		clientOpts = append(clientOpts, option.WithBaseURL(base))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	client := openai.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a provider from an existing client.
func NewProviderFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{Model: openai.ChatModelGPT4oMini}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// Complete implements model.Provider.
func (p *Provider) Complete(ctx context.Context, req model.Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    buildMessages(req.Messages),
		Model:       p.opts.Model,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", core.Errorf(core.KindService, "openai.complete", "no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// buildMessages converts neutral chat messages into SDK message params.
func buildMessages(msgs []model.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// classify maps SDK errors onto the core taxonomy: HTTP status errors are
// service failures, everything else reached the wire (or didn't) and counts
// as transport.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &core.Error{Kind: core.KindService, Op: "openai.complete", Status: apiErr.StatusCode, Err: err}
	}
	return core.NewError(core.KindTransport, "openai.complete", err)
}

// Info returns metadata describing this provider.
func (p *Provider) Info() model.Info {
	return model.Info{Name: p.opts.Model, Provider: "openai"}
}
