// Package prompt loads the prompt templates and the localized progress
// messages used by the engine. Both catalogs are plain values built once at
// startup and passed to their consumers.
package prompt

import (
	"embed"
	"fmt"
	"os"

	"github.com/hupe1980/researchmesh/internal/util"
	"github.com/hupe1980/researchmesh/model"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaults embed.FS

// Prompt template names.
const (
	Route            = "route"
	Plan             = "plan"
	RevisePlan       = "revise_plan"
	SelectTool       = "select_tool"
	JudgeReplan      = "judge_replan"
	Finalize         = "finalize"
	AnswerDirect     = "answer_direct"
	AskHuman         = "ask_human"
	DirectAnswerTool = "direct_answer_tool"
	PaperQuery       = "paper_query"
)

// Template is one prompt: system instructions plus the user turn.
type Template struct {
	Instructions string `yaml:"instructions"`
	Text         string `yaml:"text"`
}

// Catalog holds prompt templates by name.
type Catalog struct {
	templates map[string]Template
}

// LoadCatalog reads the embedded prompts for lang (falling back to English)
// and overlays entries from overridePath when it is non-empty.
func LoadCatalog(lang, overridePath string) (*Catalog, error) {
	templates := map[string]Template{}
	if err := loadEmbedded("prompts", lang, &templates); err != nil {
		return nil, err
	}
	if overridePath != "" {
		if err := loadFile(overridePath, &templates); err != nil {
			return nil, err
		}
	}
	return &Catalog{templates: templates}, nil
}

// Render fills the named template with data.
func (c *Catalog) Render(name string, data map[string]any) (model.Prompt, error) {
	t, ok := c.templates[name]
	if !ok {
		return model.Prompt{}, fmt.Errorf("prompt %q not found", name)
	}
	instructions, err := util.RenderTemplate(t.Instructions, data)
	if err != nil {
		return model.Prompt{}, fmt.Errorf("render %s instructions: %w", name, err)
	}
	text, err := util.RenderTemplate(t.Text, data)
	if err != nil {
		return model.Prompt{}, fmt.Errorf("render %s text: %w", name, err)
	}
	return model.Prompt{Name: name, Instructions: instructions, Text: text}, nil
}

// loadEmbedded decodes defaults/<kind>_en.yaml then overlays <kind>_<lang>.yaml if present.
func loadEmbedded[T any](kind, lang string, into *map[string]T) error {
	base, err := defaults.ReadFile(fmt.Sprintf("defaults/%s_en.yaml", kind))
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(base, into); err != nil {
		return fmt.Errorf("decode %s_en.yaml: %w", kind, err)
	}
	if lang == "" || lang == "en" {
		return nil
	}
	localized, err := defaults.ReadFile(fmt.Sprintf("defaults/%s_%s.yaml", kind, lang))
	if err != nil {
		return nil // no translation; English stays in place
	}
	if err := yaml.Unmarshal(localized, into); err != nil {
		return fmt.Errorf("decode %s_%s.yaml: %w", kind, lang, err)
	}
	return nil
}

func loadFile[T any](path string, into *map[string]T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
