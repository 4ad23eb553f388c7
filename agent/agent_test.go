package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/gateway"
	"github.com/hupe1980/rolemesh/internal/testutil"
	"github.com/hupe1980/rolemesh/memory"
	"github.com/hupe1980/rolemesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lateDelivery() *core.Scenario {
	return testutil.NewScenarioBuilder("late_delivery").
		Persona(testutil.NewPersonaBuilder("angry_customer").
			Role(core.RoleClient).
			Patience(0.2).Assertiveness(0.9).
			Allow("demand_refund", "complain").
			Style("short, heated sentences").
			Instructions("You are {{.Name}}, a customer whose parcel is late.").
			Build()).
		Persona(testutil.NewPersonaBuilder("support_agent").
			Role(core.RoleSupport).
			Patience(0.9).Knowledge(0.8).
			Allow("apologize", core.ActionRedirect).
			Format("[{role}] {message}").
			Build()).
		Persona(testutil.NewPersonaBuilder("manager").
			Role(core.RoleManager).
			Knowledge(0.9).
			Allow(core.ActionEscalate, core.ActionRedirect).
			Build()).
		Beat("refund", "The customer wants their money back.").
		Beat("lawyer", "").
		Build()
}

type fixture struct {
	store    *memory.InMemoryStore
	provider *model.MockProvider
	gw       *gateway.Gateway
	source   testutil.StaticSource
}

func newFixture(steps ...model.Step) *fixture {
	provider := model.NewMockProvider(steps...)
	return &fixture{
		store:    memory.NewInMemoryStore(),
		provider: provider,
		gw: gateway.New(provider, func(o *gateway.Options) {
			o.MaxCalls = 0
			o.Backoff = gateway.Backoff{Base: time.Millisecond, Multiplier: 2, Max: 5 * time.Millisecond}
		}),
		source: testutil.NewStaticSource(lateDelivery()),
	}
}

func (f *fixture) agent(t *testing.T, persona string, optFns ...func(o *Options)) *Agent {
	t.Helper()
	a := New(f.store, f.gw, f.source, optFns...)
	if persona != "" {
		require.NoError(t, a.AssignRole(context.Background(), "late_delivery", persona))
	}
	return a
}

func (f *fixture) history(t *testing.T, sessionID string) []core.Message {
	t.Helper()
	msgs, err := f.store.Recent(context.Background(), sessionID, 0, 0)
	require.NoError(t, err)
	return msgs
}

func transportErr() error {
	return core.NewError(core.KindTransport, "mock.complete", errors.New("i/o timeout"))
}

func TestAgent_AssignRole(t *testing.T) {
	f := newFixture()
	a := f.agent(t, "")
	assert.Equal(t, StateUnassigned, a.State())

	require.NoError(t, a.AssignRole(context.Background(), "late_delivery", "support_agent"))
	assert.Equal(t, StateAssigned, a.State())
	p, ok := a.Persona()
	require.True(t, ok)
	assert.Equal(t, "support_agent", p.Name)

	msgs := f.history(t, a.SessionID())
	require.Len(t, msgs, 1)
	assert.Equal(t, core.KindSystemNote, msgs[0].Metadata.Kind)
	assert.Contains(t, msgs[0].Content, "support_agent")
}

func TestAgent_AssignRole_NotFound(t *testing.T) {
	f := newFixture()
	a := f.agent(t, "")

	err := a.AssignRole(context.Background(), "late_delivery", "ghost")
	assert.True(t, core.IsKind(err, core.KindNotFound))
	err = a.AssignRole(context.Background(), "no_such_scenario", "manager")
	assert.True(t, core.IsKind(err, core.KindNotFound))

	assert.Equal(t, StateUnassigned, a.State())
	assert.Empty(t, f.history(t, a.SessionID()))

	nilSource := New(f.store, f.gw, nil)
	assert.True(t, core.IsKind(nilSource.AssignRole(context.Background(), "x", "y"), core.KindNotFound))
}

func TestAgent_ResetStartsFreshSession(t *testing.T) {
	f := newFixture()
	a := f.agent(t, "manager", func(o *Options) { o.SessionID = "first" })
	assert.Equal(t, "first", a.SessionID())

	id := a.Reset("")
	assert.NotEqual(t, "first", id)
	assert.Equal(t, id, a.SessionID())
	assert.Equal(t, StateUnassigned, a.State())
	_, ok := a.Persona()
	assert.False(t, ok)

	assert.Equal(t, "explicit", a.Reset("explicit"))
}

func TestAgent_ActionNeverLeavesAllowedSet(t *testing.T) {
	tests := []struct {
		persona string
		input   string
		want    core.Action
	}{
		{"angry_customer", "I want to escalate!", core.ActionRespond},
		{"angry_customer", "Get me your manager", core.ActionRespond},
		{"manager", "Escalate this case", core.ActionEscalate},
		{"manager", "Can I talk to the manager?", core.ActionEscalate},
		{"support_agent", "Please transfer me to billing", core.ActionRedirect},
		{"support_agent", "I want a manager", core.ActionRespond},
		{"angry_customer", "Please transfer me", core.ActionRespond},
	}
	for _, tt := range tests {
		t.Run(tt.persona+"/"+tt.input, func(t *testing.T) {
			f := newFixture()
			a := f.agent(t, tt.persona)
			res := a.Execute(context.Background(), tt.input, "user")
			require.Equal(t, StateReady, res.Status, res.Reason)
			assert.Equal(t, tt.want, res.Action)
			p, _ := a.Persona()
			assert.True(t, p.Allows(res.Action))
		})
	}
}

func TestAgent_Execute_StoresReply(t *testing.T) {
	f := newFixture(model.Step{Text: "  We are so sorry about the delay.  "})
	a := f.agent(t, "support_agent")

	res := a.Execute(context.Background(), "Where is my parcel?", "client")
	require.Equal(t, StateReady, res.Status)
	assert.Equal(t, StateReady, a.State())
	assert.Equal(t, "[support] We are so sorry about the delay.", res.Response)
	assert.Equal(t, core.EmotionFrustrated, res.Emotion)
	assert.Equal(t, "support_agent", res.Persona)
	assert.InDelta(t, 0.7+0.8*0.2, res.Confidence, 1e-9)
	assert.Equal(t, core.SignalNone, res.Signal)

	msgs := f.history(t, a.SessionID())
	require.Len(t, msgs, 3)
	assert.Equal(t, "client", msgs[1].Role)
	assert.Equal(t, "Where is my parcel?", msgs[1].Content)
	reply := msgs[2]
	assert.Equal(t, "support", reply.Role)
	assert.Equal(t, res.Response, reply.Content)
	require.NotNil(t, reply.Metadata)
	assert.Equal(t, core.EmotionFrustrated, reply.Metadata.Emotion)
	assert.Equal(t, "support_agent", reply.Metadata.Persona)
	require.NotNil(t, reply.Metadata.Confidence)
	assert.InDelta(t, res.Confidence, *reply.Metadata.Confidence, 1e-9)
}

func TestAgent_Execute_DefaultsSenderRole(t *testing.T) {
	f := newFixture()
	a := f.agent(t, "manager")
	a.Execute(context.Background(), "hello", "")
	msgs := f.history(t, a.SessionID())
	assert.Equal(t, core.RoleUser, msgs[1].Role)
}

func TestAgent_Execute_RetriesTransientFailures(t *testing.T) {
	f := newFixture(
		model.Step{Err: transportErr()},
		model.Step{Err: transportErr()},
		model.Step{Text: "Thanks for waiting, it's great news!"},
	)
	a := f.agent(t, "support_agent")

	res := a.Execute(context.Background(), "Any update?", "client")
	require.Equal(t, StateReady, res.Status, res.Reason)
	assert.Equal(t, "[support] Thanks for waiting, it's great news!", res.Response)
	assert.Equal(t, core.EmotionHappy, res.Emotion)
	assert.Equal(t, 3, f.provider.Calls())
}

func TestAgent_Execute_ExhaustedRetriesDegrade(t *testing.T) {
	f := newFixture(
		model.Step{Err: transportErr()},
		model.Step{Err: transportErr()},
		model.Step{Err: transportErr()},
	)
	a := f.agent(t, "support_agent")

	res := a.Execute(context.Background(), "Hello?", "client")
	assert.True(t, res.Degraded())
	assert.Equal(t, StateDegraded, a.State())
	assert.LessOrEqual(t, res.Confidence, 0.2)
	assert.Equal(t, core.SignalRetryLater, res.Signal)
	assert.Equal(t, core.ActionRespond, res.Action)
	assert.Equal(t, core.EmotionNeutral, res.Emotion)
	assert.Equal(t, core.KindRateExhausted, res.ErrorKind())
	assert.NotEmpty(t, res.Reason)

	var errorNotes int
	for _, m := range f.history(t, a.SessionID()) {
		assert.NotEqual(t, "support", m.Role, "degraded turn must not store a persona message")
		if m.Metadata != nil && m.Metadata.Kind == core.KindErrorNote {
			errorNotes++
		}
	}
	assert.Equal(t, 1, errorNotes)

	// the agent recovers on the next turn
	res = a.Execute(context.Background(), "Still there?", "client")
	assert.Equal(t, StateReady, res.Status)
}

func TestAgent_Execute_RetryDoesNotStoreInputTwice(t *testing.T) {
	f := newFixture(
		model.Step{Err: transportErr()},
		model.Step{Err: transportErr()},
		model.Step{Err: transportErr()},
		model.Step{Text: "Sorry for the wait."},
	)
	a := f.agent(t, "support_agent")

	res := a.Execute(context.Background(), "Hello?", "client")
	require.Equal(t, core.SignalRetryLater, res.Signal)
	res = a.Execute(context.Background(), "Hello?", "client")
	require.Equal(t, StateReady, res.Status)

	var inputs int
	for _, m := range f.history(t, a.SessionID()) {
		if m.Role == "client" && m.Content == "Hello?" {
			inputs++
		}
	}
	assert.Equal(t, 1, inputs)

	// the same text after a successful turn is a new utterance
	a.Execute(context.Background(), "Hello?", "client")
	inputs = 0
	for _, m := range f.history(t, a.SessionID()) {
		if m.Role == "client" && m.Content == "Hello?" {
			inputs++
		}
	}
	assert.Equal(t, 2, inputs)
}

func TestAgent_Execute_ServiceErrorEscalates(t *testing.T) {
	f := newFixture(model.Step{Err: &core.Error{Kind: core.KindService, Op: "mock", Status: 500, Err: errors.New("boom")}})
	a := f.agent(t, "angry_customer")

	res := a.Execute(context.Background(), "Hi", "support")
	assert.True(t, res.Degraded())
	assert.Equal(t, core.SignalEscalate, res.Signal)
	assert.Equal(t, core.ActionRespond, res.Action, "degraded turns keep a permitted action")
	assert.Equal(t, DegradedConfidence, res.Confidence)
	assert.Equal(t, 1, f.provider.Calls(), "service errors are not retried")

	msgs := f.history(t, a.SessionID())
	last := msgs[len(msgs)-1]
	require.NotNil(t, last.Metadata)
	assert.Equal(t, core.KindErrorNote, last.Metadata.Kind)
	assert.Contains(t, last.Content, "status 500")
}

func TestAgent_Execute_CancelledContext(t *testing.T) {
	f := newFixture()
	a := f.agent(t, "manager")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := a.Execute(ctx, "Hello", "client")
	assert.True(t, res.Degraded())
	assert.Equal(t, core.SignalRetryLater, res.Signal)
	assert.Equal(t, 0, f.provider.Calls())
}

func TestAgent_Execute_Unassigned(t *testing.T) {
	f := newFixture()
	a := f.agent(t, "")
	res := a.Execute(context.Background(), "Hello", "client")
	assert.True(t, res.Degraded())
	assert.Equal(t, core.SignalEscalate, res.Signal)
	assert.Equal(t, core.KindValidation, res.ErrorKind())
	assert.Equal(t, StateUnassigned, a.State())
	assert.Equal(t, 0, f.provider.Calls())
}

func TestAgent_Execute_PromptAssembly(t *testing.T) {
	f := newFixture()
	a := f.agent(t, "angry_customer", func(o *Options) { o.HistoryWindow = 3 })
	ctx := context.Background()
	sid := a.SessionID()
	require.NoError(t, f.store.Append(ctx, sid, core.NewMessage("support", "old support line")))
	require.NoError(t, f.store.Append(ctx, sid, core.NewMessage("client", "my earlier complaint")))
	require.NoError(t, f.store.Append(ctx, sid, core.NewMessage("support", "latest support line")))

	a.Execute(ctx, "Where is it?", "support")

	reqs := f.provider.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.InDelta(t, 0.3+0.5*0.8, req.Temperature, 1e-9)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, model.RoleSystem, req.Messages[0].Role)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content, "You are angry_customer, a customer whose parcel is late."))
	assert.Contains(t, req.Messages[0].Content, "short, heated sentences")
	assert.Equal(t, []model.ChatMessage{
		{Role: model.RoleAssistant, Content: "my earlier complaint"},
		{Role: model.RoleUser, Content: "latest support line"},
		{Role: model.RoleUser, Content: "Where is it?"},
	}, req.Messages[1:])
}

func TestAgent_Execute_StoryBeats(t *testing.T) {
	f := newFixture()
	a := f.agent(t, "support_agent")
	ctx := context.Background()
	sid := a.SessionID()
	require.NoError(t, f.store.Append(ctx, sid, core.NewMessage("client", "I want a REFUND")))
	// own messages never trigger beats
	require.NoError(t, f.store.Append(ctx, sid, core.NewMessage("support", "Talk to a lawyer if you like.")))

	a.Execute(ctx, "A refund, now!", "client")

	var beats []string
	for _, m := range f.history(t, sid) {
		if m.Metadata != nil && m.Metadata.Kind == core.KindStoryBeat {
			beats = append(beats, m.Content)
		}
	}
	require.Len(t, beats, 1, "one note per trigger per turn")
	assert.Contains(t, beats[0], "The customer wants their money back.")

	// beats never reach the model
	for _, m := range f.provider.Requests()[0].Messages {
		assert.NotContains(t, m.Content, "Story progression")
	}
}

type blockingGenerator struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *blockingGenerator) Call(ctx context.Context, _ model.Request) (string, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return "done", nil
	case <-ctx.Done():
		return "", core.NewError(core.KindTransport, "blocking", ctx.Err())
	}
}

func TestAgent_Execute_RejectsConcurrentTurn(t *testing.T) {
	gen := &blockingGenerator{entered: make(chan struct{}), release: make(chan struct{})}
	store := memory.NewInMemoryStore()
	a := New(store, gen, testutil.NewStaticSource(lateDelivery()))
	require.NoError(t, a.AssignRole(context.Background(), "late_delivery", "manager"))

	first := make(chan Result, 1)
	go func() { first <- a.Execute(context.Background(), "one", "client") }()
	<-gen.entered
	assert.Equal(t, StateExecuting, a.State())

	busy := a.Execute(context.Background(), "two", "client")
	assert.True(t, busy.Degraded())
	assert.Equal(t, core.KindBusy, busy.ErrorKind())
	assert.Equal(t, core.SignalRetryLater, busy.Signal)

	err := a.AssignRole(context.Background(), "late_delivery", "manager")
	assert.True(t, core.IsKind(err, core.KindBusy))

	close(gen.release)
	res := <-first
	assert.Equal(t, StateReady, res.Status)

	msgs, err := store.Recent(context.Background(), a.SessionID(), 0, 0)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.NotEqual(t, "two", m.Content, "rejected input must not be stored")
	}
}
