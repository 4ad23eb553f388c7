package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/gateway"
	"github.com/hupe1980/rolemesh/memory"
	"github.com/hupe1980/rolemesh/model"
	"github.com/hupe1980/rolemesh/persona"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgent_ConcurrentAssignmentsShareRegistry(t *testing.T) {
	registry := persona.NewRegistry("")
	require.NoError(t, registry.Register(lateDelivery()))

	store := memory.NewInMemoryStore()
	gw := gateway.New(model.NewMockProvider(), func(o *gateway.Options) { o.MaxCalls = 0 })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := New(store, gw, registry)
			for j := 0; j < 20; j++ {
				if err := a.AssignRole(context.Background(), "late_delivery", "manager"); err != nil {
					t.Error(err)
					return
				}
				res := a.Execute(context.Background(), "get me a manager", "client")
				assert.Equal(t, core.ActionEscalate, res.Action)
			}
		}()
	}
	wg.Wait()

	p, err := registry.Persona("late_delivery", "manager")
	require.NoError(t, err)
	assert.Equal(t, []core.Action{core.ActionEscalate, core.ActionRedirect, core.ActionRespond}, p.Actions())
}
