package testutil

import (
	"github.com/hupe1980/rolemesh/core"
)

// PersonaBuilder provides a fluent helper for constructing personas in tests.
// Example:
//
//	p := NewPersonaBuilder("manager").Role(core.RoleManager).Allow(core.ActionEscalate).Build()
//
// Build validates the persona, so defaults (respond action, response format)
// are filled as they would be after loading.
type PersonaBuilder struct {
	p core.Persona
}

// NewPersonaBuilder creates a support persona with default traits.
func NewPersonaBuilder(name string) *PersonaBuilder {
	return &PersonaBuilder{p: core.Persona{
		Name:           name,
		RoleType:       core.RoleSupport,
		Traits:         core.DefaultTraits(),
		AllowedActions: map[core.Action]bool{},
		Instructions:   "You are " + name + ".",
	}}
}

// Role sets the role type (chainable).
func (b *PersonaBuilder) Role(r core.RoleType) *PersonaBuilder { b.p.RoleType = r; return b }

// Patience sets the patience trait (chainable).
func (b *PersonaBuilder) Patience(v float64) *PersonaBuilder { b.p.Traits.Patience = v; return b }

// Assertiveness sets the assertiveness trait (chainable).
func (b *PersonaBuilder) Assertiveness(v float64) *PersonaBuilder {
	b.p.Traits.Assertiveness = v
	return b
}

// Knowledge sets the knowledge trait (chainable).
func (b *PersonaBuilder) Knowledge(v float64) *PersonaBuilder { b.p.Traits.Knowledge = v; return b }

// Allow permits additional actions (chainable).
func (b *PersonaBuilder) Allow(actions ...core.Action) *PersonaBuilder {
	for _, a := range actions {
		b.p.AllowedActions[a] = true
	}
	return b
}

// Instructions overrides the instruction text (chainable).
func (b *PersonaBuilder) Instructions(s string) *PersonaBuilder { b.p.Instructions = s; return b }

// Style sets the conversation style (chainable).
func (b *PersonaBuilder) Style(s string) *PersonaBuilder { b.p.ConversationStyle = s; return b }

// Format sets the response format (chainable).
func (b *PersonaBuilder) Format(f string) *PersonaBuilder { b.p.ResponseFormat = f; return b }

// Build validates and returns the persona. It panics on invalid input since
// builders are only used with literal test data.
func (b *PersonaBuilder) Build() core.Persona {
	p := b.p
	p.AllowedActions = make(map[core.Action]bool, len(b.p.AllowedActions))
	for a := range b.p.AllowedActions {
		p.AllowedActions[a] = true
	}
	if err := p.Validate(); err != nil {
		panic(err)
	}
	return p
}

// ScenarioBuilder assembles a scenario from personas and story beats.
type ScenarioBuilder struct {
	sc core.Scenario
}

// NewScenarioBuilder creates an empty scenario.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{sc: core.Scenario{Name: name, Personas: map[string]core.Persona{}}}
}

// Persona adds a persona keyed by its name (chainable).
func (b *ScenarioBuilder) Persona(p core.Persona) *ScenarioBuilder {
	b.sc.Personas[p.Name] = p
	return b
}

// Beat appends a story beat (chainable).
func (b *ScenarioBuilder) Beat(trigger, note string) *ScenarioBuilder {
	b.sc.StoryArc = append(b.sc.StoryArc, core.StoryBeat{Trigger: trigger, Note: note})
	return b
}

// Build validates and returns the scenario.
func (b *ScenarioBuilder) Build() *core.Scenario {
	sc := b.sc
	if err := sc.Validate(); err != nil {
		panic(err)
	}
	return &sc
}

// StaticSource is an in-memory core.PersonaSource.
type StaticSource map[string]*core.Scenario

// NewStaticSource indexes scenarios by name.
func NewStaticSource(scenarios ...*core.Scenario) StaticSource {
	s := StaticSource{}
	for _, sc := range scenarios {
		s[sc.Name] = sc
	}
	return s
}

// Scenario implements core.PersonaSource.
func (s StaticSource) Scenario(name string) (*core.Scenario, error) {
	sc, ok := s[name]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "testutil.scenario", "scenario %q not found", name)
	}
	return sc, nil
}

// Persona implements core.PersonaSource.
func (s StaticSource) Persona(scenario, name string) (core.Persona, error) {
	sc, err := s.Scenario(scenario)
	if err != nil {
		return core.Persona{}, err
	}
	p, ok := sc.Persona(name)
	if !ok {
		return core.Persona{}, core.Errorf(core.KindNotFound, "testutil.persona", "persona %q not found", name)
	}
	return p, nil
}

// Messages builds plain messages from alternating role, content pairs.
func Messages(pairs ...string) []core.Message {
	out := make([]core.Message, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, core.NewMessage(pairs[i], pairs[i+1]))
	}
	return out
}
