package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/internal/testutil"
	"github.com/hupe1980/rolemesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockStore for exercising store failures
type MockStore struct{ mock.Mock }

func (m *MockStore) Append(ctx context.Context, sessionID string, msg core.Message) error {
	args := m.Called(ctx, sessionID, msg)
	return args.Error(0)
}

func (m *MockStore) Recent(ctx context.Context, sessionID string, limit, offset int) ([]core.Message, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	msgs, _ := args.Get(0).([]core.Message)
	return msgs, args.Error(1)
}

func (m *MockStore) ContextString(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)
	return args.String(0), args.Error(1)
}

func (m *MockStore) Stats(ctx context.Context) (core.StoreStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(core.StoreStats), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *MockStore) Close() error { return m.Called().Error(0) }

func isTurnBy(role string) any {
	return mock.MatchedBy(func(msg core.Message) bool { return msg.Role == role && !msg.IsSystemNote() })
}

func isNote(kind core.MessageKind) any {
	return mock.MatchedBy(func(msg core.Message) bool { return msg.Metadata != nil && msg.Metadata.Kind == kind })
}

func TestAgent_Execute_StoreFailureOnReplyEscalates(t *testing.T) {
	store := &MockStore{}
	store.On("Append", mock.Anything, "s1", isNote(core.KindSystemNote)).Return(nil).Once()
	store.On("Append", mock.Anything, "s1", isTurnBy("client")).Return(nil).Once()
	store.On("Recent", mock.Anything, "s1", DefaultHistoryWindow, 0).Return(testutil.Messages("client", "Hi"), nil).Once()
	store.On("Append", mock.Anything, "s1", isTurnBy("manager")).Return(errors.New("disk full")).Once()
	store.On("Append", mock.Anything, "s1", isNote(core.KindErrorNote)).Return(nil).Once()

	provider := model.NewMockProvider(model.Step{Text: "I'll look into it."})
	sc := lateDelivery()
	a := New(store, &providerGenerator{provider}, testutil.NewStaticSource(sc), func(o *Options) { o.SessionID = "s1" })
	assert.NoError(t, a.AssignRole(context.Background(), "late_delivery", "manager"))

	res := a.Execute(context.Background(), "Hi", "client")
	assert.True(t, res.Degraded())
	assert.Equal(t, core.SignalEscalate, res.Signal)
	assert.Contains(t, res.Reason, "disk full")
	store.AssertExpectations(t)
}

func TestAgent_AssignRole_StoreFailureKeepsState(t *testing.T) {
	store := &MockStore{}
	store.On("Append", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("locked")).Once()

	a := New(store, &providerGenerator{model.NewMockProvider()}, testutil.NewStaticSource(lateDelivery()))
	err := a.AssignRole(context.Background(), "late_delivery", "manager")
	assert.ErrorContains(t, err, "locked")
	assert.Equal(t, StateUnassigned, a.State())
	store.AssertExpectations(t)
}

// providerGenerator calls a provider directly, without a gateway.
type providerGenerator struct{ p model.Provider }

func (g *providerGenerator) Call(ctx context.Context, req model.Request) (string, error) {
	return g.p.Complete(ctx, req)
}
