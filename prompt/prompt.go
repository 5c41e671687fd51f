// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package prompt assembles the system and user prompts for a single
// generation call from catalog templates, substituting only placeholders
// backed by the domain's exposed context keys. It never mutates an
// assembled prompt after the fact. Each (domain, component) has a single
// template: attempts differ only in the structural directive drawn from its
// weighted pool, and no alternate template variant is selected on retry.
package prompt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zbeamlabs/forgecore/domain"
	"github.com/zbeamlabs/forgecore/pkg/utils"
)

// ErrCatalog indicates the prompt catalog or a referenced template file is
// missing or malformed.
var ErrCatalog = errors.New("prompt catalog error")

// ErrPlaceholder indicates the assembled user prompt references a
// placeholder the item record and context keys cannot resolve.
var ErrPlaceholder = errors.New("unresolved prompt placeholder")

const (
	voiceMarker     = "{voice_instruction}"
	structuralMarker = "{structural_pattern}"
)

// componentEntry is one (domain, component) catalog row.
type componentEntry struct {
	SystemPrompt       string          `yaml:"system-prompt"`
	UserPromptPath     string          `yaml:"user-prompt-path"`
	StructuralPatterns []string        `yaml:"structural-patterns"`
	StructuralWeights  []int           `yaml:"structural-weights"`
	ForbiddenPhrases   utils.StringSet `yaml:"forbidden-phrases"`
}

type catalogFile struct {
	Domains map[string]map[string]componentEntry `yaml:"domains"`
}

// Assembler builds prompts from a loaded catalog.
type Assembler struct {
	baseDir string
	catalog catalogFile
	rng     func() float64
}

// Load reads the prompt catalog registry at catalogPath.
func Load(catalogPath string) (*Assembler, error) {
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalog, err)
	}
	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalog, err)
	}
	return &Assembler{baseDir: filepath.Dir(catalogPath), catalog: catalog, rng: rand.Float64}, nil
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// Build assembles (system_prompt, user_prompt) for the given domain,
// component, item, and voice profile instruction. structuralHint is the
// directive selected for this call, returned so the caller can hand it to
// the structural diversity evaluator without re-deriving it.
func (a *Assembler) Build(domainName, component string, item domain.Item, contextKeys []string, voiceInstruction string) (systemPrompt, userPrompt, structuralHint string, err error) {
	entry, err := a.lookup(domainName, component)
	if err != nil {
		return "", "", "", err
	}

	templateBytes, err := os.ReadFile(filepath.Join(a.baseDir, entry.UserPromptPath))
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %v", ErrCatalog, err)
	}
	template := string(templateBytes)

	allowed := make(map[string]bool, len(contextKeys))
	for _, key := range contextKeys {
		allowed[key] = true
	}

	resolved, err := substitutePlaceholders(template, item, allowed)
	if err != nil {
		return "", "", "", err
	}

	if !strings.Contains(resolved, voiceMarker) {
		return "", "", "", fmt.Errorf("%w: component %q missing a required marker", ErrPlaceholder, component)
	}

	structuralHint = a.pickStructuralPattern(entry)
	resolved = strings.Replace(resolved, voiceMarker, voiceInstruction, 1)
	resolved = strings.Replace(resolved, structuralMarker, structuralHint, 1)

	if strings.Contains(resolved, voiceMarker) || strings.Contains(resolved, structuralMarker) {
		return "", "", "", fmt.Errorf("%w: component %q missing a required marker", ErrPlaceholder, component)
	}

	return entry.SystemPrompt, resolved, structuralHint, nil
}

// ForbiddenPhrases returns the catalog's forbidden-phrase set for the given
// domain and component, used by the structural diversity evaluator. The
// catalog may author this as either a single string or a list; both
// collapse to the same set.
func (a *Assembler) ForbiddenPhrases(domainName, component string) (utils.StringSet, error) {
	entry, err := a.lookup(domainName, component)
	if err != nil {
		return utils.StringSet{}, err
	}
	return entry.ForbiddenPhrases, nil
}

func (a *Assembler) lookup(domainName, component string) (componentEntry, error) {
	components, ok := a.catalog.Domains[domainName]
	if !ok {
		return componentEntry{}, fmt.Errorf("%w: unknown domain %q", ErrCatalog, domainName)
	}
	entry, ok := components[component]
	if !ok {
		return componentEntry{}, fmt.Errorf("%w: unknown component %q for domain %q", ErrCatalog, component, domainName)
	}
	return entry, nil
}

func substitutePlaceholders(template string, item domain.Item, allowed map[string]bool) (string, error) {
	var missing []string
	result := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if name == "voice_instruction" || name == "structural_pattern" {
			return match
		}
		if !allowed[name] {
			missing = append(missing, name)
			return match
		}
		value, ok := item.Value(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrPlaceholder, strings.Join(missing, ", "))
	}
	return result, nil
}

// pickStructuralPattern selects a directive from entry's weighted pool. An
// empty pool yields an empty directive (the template then carries its own
// length directive inline).
func (a *Assembler) pickStructuralPattern(entry componentEntry) string {
	if len(entry.StructuralPatterns) == 0 {
		return ""
	}
	weights := entry.StructuralWeights
	if len(weights) != len(entry.StructuralPatterns) {
		weights = make([]int, len(entry.StructuralPatterns))
		for i := range weights {
			weights[i] = 1
		}
	}
	total := 0
	for _, w := range weights {
		total += w
	}
	pick := int(a.rng() * float64(total))
	running := 0
	for i, w := range weights {
		running += w
		if pick < running {
			return entry.StructuralPatterns[i]
		}
	}
	return entry.StructuralPatterns[len(entry.StructuralPatterns)-1]
}
