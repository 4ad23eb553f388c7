// Package rolemesh provides a high-level façade wiring the rate-limited
// gateway, conversation store and persona registry into ready-to-run agents
// and conversations. Most applications interact with this package by:
//  1. Creating a RoleMesh via New() or NewFromConfig()
//  2. Starting a conversation with NewConversation (two agents, one session)
//  3. Driving it through the returned runner and reading the transcript back
//
// All defaults are safe for local development and testing: an in-memory store,
// an empty registry and a NoOp logger. Production setups supply a SQLite store
// and a scenario directory, typically through NewFromConfig.
package rolemesh

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/rolemesh/agent"
	"github.com/hupe1980/rolemesh/config"
	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/gateway"
	"github.com/hupe1980/rolemesh/logging"
	"github.com/hupe1980/rolemesh/memory"
	"github.com/hupe1980/rolemesh/model"
	"github.com/hupe1980/rolemesh/model/anthropic"
	"github.com/hupe1980/rolemesh/model/openai"
	"github.com/hupe1980/rolemesh/persona"
	"github.com/hupe1980/rolemesh/runner"
)

// Options configures the RoleMesh instance.
type Options struct {
	// Store persists conversations (defaults to an in-memory store).
	Store core.ConversationStore
	// Registry resolves scenarios (defaults to an empty registry).
	Registry *persona.Registry
	// Gateway overrides for rate limiting and retries.
	Gateway []func(o *gateway.Options)
	// HistoryWindow is passed to every agent; zero keeps the agent default.
	HistoryWindow int
	// Runner overrides applied to every conversation.
	Runner []func(o *runner.Options)
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// RoleMesh is the high-level façade aggregating the shared gateway, store and
// registry. One instance serves any number of concurrent conversations.
type RoleMesh struct {
	opts     Options
	gateway  *gateway.Gateway
	store    core.ConversationStore
	registry *persona.Registry
	logger   logging.Logger
}

// New creates a RoleMesh around provider. Unset services are initialized
// with in-memory implementations.
func New(provider model.Provider, optFns ...func(o *Options)) *RoleMesh {
	opts := Options{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	logger := logging.OrNoOp(opts.Logger)
	if opts.Store == nil {
		opts.Store = memory.NewInMemoryStore(func(o *memory.Options) { o.Logger = logger })
	}
	if opts.Registry == nil {
		opts.Registry = persona.NewRegistry("")
	}

	gwOpts := append([]func(o *gateway.Options){func(o *gateway.Options) { o.Logger = logger }}, opts.Gateway...)

	return &RoleMesh{
		opts:     opts,
		gateway:  gateway.New(provider, gwOpts...),
		store:    opts.Store,
		registry: opts.Registry,
		logger:   logger,
	}
}

// NewFromConfig builds the provider, SQLite store and scenario registry
// described by cfg.
func NewFromConfig(cfg *config.Config, logger logging.Logger) (*RoleMesh, error) {
	logger = logging.OrNoOp(logger)
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	store, err := memory.NewSQLiteStore(cfg.DBPath, cfg.MemoryOptions(logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return New(provider, func(o *Options) {
		o.Store = store
		o.Registry = persona.NewRegistry(cfg.ScenarioDir)
		o.Gateway = []func(o *gateway.Options){cfg.GatewayOptions(logger)}
		o.Logger = logger
	}), nil
}

// NewProvider constructs the generation backend selected by cfg.
func NewProvider(cfg *config.Config) (model.Provider, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	client := gateway.NewHTTPClient(cfg.ConnectTimeout, cfg.CallTimeout)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewProvider(func(o *openai.Options) {
			o.Model = cfg.Model
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.HTTPClient = client
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewProvider(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.HTTPClient = client
		}), nil
	case config.ProviderMock:
		return model.NewMockProvider(), nil
	default:
		return nil, core.Errorf(core.KindValidation, "rolemesh.provider", "unknown provider %q", cfg.Provider)
	}
}

// Store returns the conversation store.
func (m *RoleMesh) Store() core.ConversationStore { return m.store }

// Registry returns the scenario registry.
func (m *RoleMesh) Registry() *persona.Registry { return m.registry }

// Gateway returns the shared gateway.
func (m *RoleMesh) Gateway() *gateway.Gateway { return m.gateway }

// NewAgent creates an unassigned agent sharing the gateway and store.
func (m *RoleMesh) NewAgent(sessionID string) *agent.Agent {
	return agent.New(m.store, m.gateway, m.registry, func(o *agent.Options) {
		o.SessionID = sessionID
		o.HistoryWindow = m.opts.HistoryWindow
		o.Logger = m.logger
	})
}

// NewConversation creates two agents on one fresh session and binds the
// named personas, falling back to generated personas for unknown names.
func (m *RoleMesh) NewConversation(ctx context.Context, scenario, first, second string, optFns ...func(o *runner.Options)) (*runner.Runner, error) {
	sessionID := core.NewID()
	a, b := m.NewAgent(sessionID), m.NewAgent(sessionID)

	fns := append([]func(o *runner.Options){func(o *runner.Options) { o.Logger = m.logger }}, m.opts.Runner...)
	r := runner.New(a, b, append(fns, optFns...)...)
	if err := r.Setup(ctx, scenario, first, second); err != nil {
		return nil, err
	}
	return r, nil
}

// Transcript renders a session as "role: content" lines.
func (m *RoleMesh) Transcript(ctx context.Context, sessionID string) (string, error) {
	return m.store.ContextString(ctx, sessionID)
}

// Close releases the store.
func (m *RoleMesh) Close() error { return m.store.Close() }
