// Package persona loads scenario documents (YAML) into validated core
// records and serves them through a Registry implementing
// core.PersonaSource.
package persona

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/rolemesh/core"
	"gopkg.in/yaml.v3"
)

type fileScenario struct {
	Scenario    string                 `yaml:"scenario"`
	Description string                 `yaml:"description"`
	Personas    map[string]filePersona `yaml:"personas"`
	StoryArc    []fileStoryBeat        `yaml:"story_arc"`
}

type filePersona struct {
	RoleType          string             `yaml:"role_type"`
	Traits            map[string]float64 `yaml:"traits"`
	AllowedActions    []string           `yaml:"allowed_actions"`
	ConversationStyle string             `yaml:"conversation_style"`
	Instructions      string             `yaml:"instructions"`
	ResponseFormat    string             `yaml:"response_format"`
}

type fileStoryBeat struct {
	Trigger string `yaml:"trigger"`
	Note    string `yaml:"note"`
}

// Parse decodes and validates one scenario document. Unknown keys are
// rejected. Every failure carries core.KindValidation.
func Parse(r io.Reader) (*core.Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var fs fileScenario
	if err := dec.Decode(&fs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, core.Errorf(core.KindValidation, "persona.parse", "empty scenario document")
		}
		return nil, core.NewError(core.KindValidation, "persona.parse", err)
	}

	sc := &core.Scenario{
		Name:        fs.Scenario,
		Description: fs.Description,
		Personas:    make(map[string]core.Persona, len(fs.Personas)),
		StoryArc:    make([]core.StoryBeat, 0, len(fs.StoryArc)),
	}
	for name, fp := range fs.Personas {
		actions := make(map[core.Action]bool, len(fp.AllowedActions))
		for _, a := range fp.AllowedActions {
			actions[core.Action(a)] = true
		}
		sc.Personas[name] = core.Persona{
			Name:              name,
			RoleType:          core.RoleType(fp.RoleType),
			Traits:            core.TraitsFromMap(fp.Traits),
			AllowedActions:    actions,
			ConversationStyle: fp.ConversationStyle,
			Instructions:      fp.Instructions,
			ResponseFormat:    fp.ResponseFormat,
		}
	}
	for _, b := range fs.StoryArc {
		sc.StoryArc = append(sc.StoryArc, core.StoryBeat{Trigger: b.Trigger, Note: b.Note})
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(data []byte) (*core.Scenario, error) {
	return Parse(bytes.NewReader(data))
}

// LoadFile reads and validates the scenario document at path.
func LoadFile(path string) (*core.Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.NewError(core.KindNotFound, "persona.load", err)
		}
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	sc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}
