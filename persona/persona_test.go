package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/rolemesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_LateDelivery(t *testing.T) {
	sc, err := LoadFile(filepath.Join("testdata", "late_delivery.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "late_delivery", sc.Name)
	assert.Equal(t, []string{"angry_customer", "manager", "support_agent"}, sc.PersonaNames())
	require.Len(t, sc.StoryArc, 2)
	assert.Equal(t, "refund", sc.StoryArc[0].Trigger)

	customer, ok := sc.Persona("angry_customer")
	require.True(t, ok)
	assert.Equal(t, core.RoleClient, customer.RoleType)
	assert.Equal(t, 0.2, customer.Traits.Patience)
	assert.Equal(t, core.DefaultTrait, customer.Traits.Knowledge)
	assert.True(t, customer.Allows("demand_refund"))
	assert.True(t, customer.Allows(core.ActionRespond))
	assert.False(t, customer.Allows(core.ActionEscalate))
	assert.Equal(t, core.DefaultResponseFormat, customer.ResponseFormat)

	support, _ := sc.Persona("support_agent")
	assert.Equal(t, "[{role}] {message}", support.ResponseFormat)
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown role":  "scenario: x\npersonas:\n  p:\n    role_type: pirate\n    instructions: hi\n",
		"unknown field": "scenario: x\npersonas:\n  p:\n    role_type: client\n    instructions: hi\n    mood: grumpy\n",
		"no personas":   "scenario: x\ndescription: empty\n",
		"bad trait":     "scenario: x\npersonas:\n  p:\n    role_type: client\n    instructions: hi\n    traits: {patience: 3}\n",
		"empty":         "",
		"not yaml":      "scenario: [unterminated\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBytes([]byte(doc))
			require.Error(t, err)
			assert.True(t, core.IsKind(err, core.KindValidation), "got %v", err)
		})
	}
}

func TestRegistry_LazyLoadAndNotFound(t *testing.T) {
	r := NewRegistry("testdata")

	p, err := r.Persona("late_delivery", "manager")
	require.NoError(t, err)
	assert.True(t, p.Allows(core.ActionEscalate))

	_, err = r.Persona("late_delivery", "ghost")
	assert.True(t, core.IsKind(err, core.KindNotFound))

	_, err = r.Scenario("does_not_exist")
	assert.True(t, core.IsKind(err, core.KindNotFound))

	_, err = r.Scenario("../late_delivery")
	assert.True(t, core.IsKind(err, core.KindNotFound))

	_, err = r.Scenario("broken")
	assert.True(t, core.IsKind(err, core.KindValidation))

	names, err := r.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "late_delivery"}, names)
}

func TestRegistry_RegisterAndYmlExtension(t *testing.T) {
	dir := t.TempDir()
	doc := "scenario: billing\npersonas:\n  clerk:\n    role_type: support\n    instructions: Help with invoices.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "billing.yml"), []byte(doc), 0o600))

	r := NewRegistry(dir)
	sc, err := r.Scenario("billing")
	require.NoError(t, err)
	assert.Equal(t, "billing", sc.Name)

	err = r.Register(&core.Scenario{Name: "inline", Personas: map[string]core.Persona{
		"bot": {RoleType: core.RoleCustom, Traits: core.DefaultTraits(), Instructions: "Beep."},
	}})
	require.NoError(t, err)
	p, err := r.Persona("inline", "bot")
	require.NoError(t, err)
	assert.Equal(t, "bot", p.Name)

	assert.Error(t, r.Register(&core.Scenario{Name: "bad"}))
}

func TestFallback(t *testing.T) {
	c := Fallback("grumpy_customer")
	assert.Equal(t, core.RoleClient, c.RoleType)
	assert.Equal(t, "Act as a grumpy customer. Respond naturally.", c.Instructions)
	assert.True(t, c.Allows(core.ActionRespond))
	assert.Equal(t, core.DefaultResponseFormat, c.ResponseFormat)
	require.NoError(t, c.Validate())

	s := Fallback("night_shift")
	assert.Equal(t, core.RoleSupport, s.RoleType)
}
