package core

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

// RoleType is the closed set of persona roles.
type RoleType string

const (
	RoleSupport RoleType = "support"
	RoleClient  RoleType = "client"
	RoleManager RoleType = "manager"
	RoleCustom  RoleType = "custom"
)

// Valid reports whether r is a member of the closed role set.
func (r RoleType) Valid() bool {
	switch r {
	case RoleSupport, RoleClient, RoleManager, RoleCustom:
		return true
	}
	return false
}

// DefaultTrait is the value used for any named trait absent from a persona.
const DefaultTrait = 0.5

// DefaultResponseFormat passes generated text through unchanged.
const DefaultResponseFormat = "{message}"

// Traits holds a persona's behavioural dials, each in [0,1].
type Traits struct {
	Patience      float64
	Assertiveness float64
	Knowledge     float64
	// Extra holds traits without a dedicated field.
	Extra map[string]float64
}

// DefaultTraits returns the trait set used when a persona names none.
func DefaultTraits() Traits {
	return Traits{Patience: DefaultTrait, Assertiveness: DefaultTrait, Knowledge: DefaultTrait, Extra: map[string]float64{}}
}

// TraitsFromMap builds Traits from a loose name→value mapping, applying
// defaults for the named dials.
func TraitsFromMap(m map[string]float64) Traits {
	t := DefaultTraits()
	for k, v := range m {
		switch strings.ToLower(k) {
		case "patience":
			t.Patience = v
		case "assertiveness":
			t.Assertiveness = v
		case "knowledge":
			t.Knowledge = v
		default:
			t.Extra[k] = v
		}
	}
	return t
}

// Get returns the named trait, falling back to DefaultTrait.
func (t Traits) Get(name string) float64 {
	switch strings.ToLower(name) {
	case "patience":
		return t.Patience
	case "assertiveness":
		return t.Assertiveness
	case "knowledge":
		return t.Knowledge
	}
	if v, ok := t.Extra[name]; ok {
		return v
	}
	return DefaultTrait
}

func (t Traits) validate() error {
	check := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("trait %q must be in [0,1], got %v", name, v)
		}
		return nil
	}
	if err := check("patience", t.Patience); err != nil {
		return err
	}
	if err := check("assertiveness", t.Assertiveness); err != nil {
		return err
	}
	if err := check("knowledge", t.Knowledge); err != nil {
		return err
	}
	for k, v := range t.Extra {
		if err := check(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Persona is a named behavioural profile bound to one agent. It is immutable
// after Validate succeeds.
type Persona struct {
	Name              string
	RoleType          RoleType
	Traits            Traits
	AllowedActions    map[Action]bool
	ConversationStyle string
	Instructions      string
	ResponseFormat    string
}

// Allows reports whether the persona may emit action.
func (p Persona) Allows(a Action) bool { return p.AllowedActions[a] }

// Actions returns the allowed actions sorted by name.
func (p Persona) Actions() []Action {
	out := make([]Action, 0, len(p.AllowedActions))
	for a := range p.AllowedActions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks the persona and fills defaults in place: the baseline
// respond action is always permitted and an empty response format becomes
// DefaultResponseFormat. AllowedActions is replaced by a fresh map, so the
// caller's map is never written.
func (p *Persona) Validate() error {
	if p.Name == "" {
		return Errorf(KindValidation, "persona.validate", "persona name is required")
	}
	if !p.RoleType.Valid() {
		return Errorf(KindValidation, "persona.validate", "persona %q: unknown role_type %q", p.Name, p.RoleType)
	}
	if strings.TrimSpace(p.Instructions) == "" {
		return Errorf(KindValidation, "persona.validate", "persona %q: instructions are required", p.Name)
	}
	if err := p.Traits.validate(); err != nil {
		return NewError(KindValidation, "persona.validate", fmt.Errorf("persona %q: %w", p.Name, err))
	}
	if p.Traits.Extra == nil {
		p.Traits.Extra = map[string]float64{}
	}
	// personas are passed by value, so the map may be shared with a registry
	actions := make(map[Action]bool, len(p.AllowedActions)+1)
	maps.Copy(actions, p.AllowedActions)
	actions[ActionRespond] = true
	p.AllowedActions = actions
	if p.ResponseFormat == "" {
		p.ResponseFormat = DefaultResponseFormat
	}
	return nil
}

// StoryBeat is a narrative trigger: when Trigger appears in recent history the
// Note is injected as a story-progression side note.
type StoryBeat struct {
	Trigger string
	Note    string
}

// Scenario bundles personas and an ordered story arc.
type Scenario struct {
	Name        string
	Description string
	Personas    map[string]Persona
	StoryArc    []StoryBeat
}

// Persona looks up a persona by name.
func (s *Scenario) Persona(name string) (Persona, bool) {
	p, ok := s.Personas[name]
	return p, ok
}

// PersonaNames returns the persona names sorted alphabetically.
func (s *Scenario) PersonaNames() []string {
	names := make([]string, 0, len(s.Personas))
	for n := range s.Personas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate validates every persona and every story beat.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return Errorf(KindValidation, "scenario.validate", "scenario name is required")
	}
	if len(s.Personas) == 0 {
		return Errorf(KindValidation, "scenario.validate", "scenario %q defines no personas", s.Name)
	}
	for name, p := range s.Personas {
		if p.Name == "" {
			p.Name = name
		}
		if err := p.Validate(); err != nil {
			return err
		}
		s.Personas[name] = p
	}
	for i, b := range s.StoryArc {
		if strings.TrimSpace(b.Trigger) == "" {
			return Errorf(KindValidation, "scenario.validate", "scenario %q: story_arc[%d] has an empty trigger", s.Name, i)
		}
	}
	return nil
}

// PersonaSource resolves scenarios and personas for role assignment. Missing
// entries are reported with KindNotFound.
type PersonaSource interface {
	Scenario(name string) (*Scenario, error)
	Persona(scenario, name string) (Persona, error)
}
