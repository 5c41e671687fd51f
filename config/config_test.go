// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
core:
  domains:
    materials:
      data-path: data/materials/Materials.yaml
      data-root-key: materials
      context-keys: [category, properties.mechanical.hardness]
      author-id-path: author_id
  generation:
    max-attempts: 5
    composite-weights:
      detection: 0.4
      rubric: 0.4
      structural: 0.2
    evaluator-timeouts-ms:
      detection: 20000
      rubric: 30000
      structural: 1000
    humanness-intensity: 6
    realism-intensity: 6
    exploration-probability: 0.15
    threshold-min-samples: 10
    threshold-fallbacks:
      human_likeness: 0.80
      realism: 0.70
    component-extraction:
      description: raw
      faq: json_list
    retry-temperature-delta: 0.1
    rubric-judge-provider: openai
    rubric-judge-run: judge
    generation-provider: openai
    generation-run: default
  providers:
    - name: openai
      client-config: {}
      runs:
        - name: default
          model: gpt-test
        - name: judge
          model: gpt-judge
  voice-profiles-dir: shared/voice/profiles
  prompt-catalog-path: prompts/registry/prompt_catalog.yaml
  learning-store-path: learning/store.sqlite
  human-detection-service-url: https://detector.example.com/v1/score
`

func writeTempConfig(t *testing.T, contents string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadConfigFromFile_Valid(t *testing.T) {
	t.Setenv("API_KEY_OPENAI", "test-key")
	path := writeTempConfig(t, validConfigYAML)

	cfg, err := LoadConfigFromFile(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 5, cfg.Core.Generation.MaxAttempts)
	assert.Equal(t, ExtractionJSONList, cfg.Core.Generation.ComponentExtraction["faq"])

	provider, ok := cfg.Core.FindProvider(OPENAI)
	require.True(t, ok)
	clientCfg, ok := provider.ClientConfig.(OpenAIClientConfig)
	require.True(t, ok)
	assert.Equal(t, "test-key", clientCfg.APIKey)
}

func TestLoadConfigFromFile_MissingAPIKey(t *testing.T) {
	path := writeTempConfig(t, validConfigYAML)

	_, err := LoadConfigFromFile(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfigProperty)
}

func TestLoadConfigFromFile_RejectsAbsolutePaths(t *testing.T) {
	t.Setenv("API_KEY_OPENAI", "test-key")
	abs := `
core:
  domains:
    materials:
      data-path: /etc/data/Materials.yaml
      data-root-key: materials
      context-keys: [category]
      author-id-path: author_id
  generation:
    max-attempts: 5
    composite-weights: {detection: 0.5, rubric: 0.3, structural: 0.2}
    evaluator-timeouts-ms: {detection: 1000}
    humanness-intensity: 5
    realism-intensity: 5
    exploration-probability: 0.15
    threshold-min-samples: 10
    threshold-fallbacks: {human_likeness: 0.8}
    component-extraction: {description: raw}
    retry-temperature-delta: 0.1
    rubric-judge-provider: openai
    rubric-judge-run: judge
  providers:
    - name: openai
      client-config: {}
      runs: [{name: judge, model: gpt-judge}]
  voice-profiles-dir: shared/voice/profiles
  prompt-catalog-path: prompts/registry/prompt_catalog.yaml
  learning-store-path: learning/store.sqlite
  human-detection-service-url: https://detector.example.com/v1/score
`
	path := writeTempConfig(t, abs)

	_, err := LoadConfigFromFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadConfigFromFile_RejectsBadCompositeWeightSum(t *testing.T) {
	t.Setenv("API_KEY_OPENAI", "test-key")
	bad := `
core:
  domains:
    materials:
      data-path: data/materials/Materials.yaml
      data-root-key: materials
      context-keys: [category]
      author-id-path: author_id
  generation:
    max-attempts: 5
    composite-weights: {detection: 0.5, rubric: 0.5, structural: 0.2}
    evaluator-timeouts-ms: {detection: 1000}
    humanness-intensity: 5
    realism-intensity: 5
    exploration-probability: 0.15
    threshold-min-samples: 10
    threshold-fallbacks: {human_likeness: 0.8}
    component-extraction: {description: raw}
    retry-temperature-delta: 0.1
    rubric-judge-provider: openai
    rubric-judge-run: judge
  providers:
    - name: openai
      client-config: {}
      runs: [{name: judge, model: gpt-judge}]
  voice-profiles-dir: shared/voice/profiles
  prompt-catalog-path: prompts/registry/prompt_catalog.yaml
  learning-store-path: learning/store.sqlite
  human-detection-service-url: https://detector.example.com/v1/score
`
	path := writeTempConfig(t, bad)

	_, err := LoadConfigFromFile(context.Background(), path)
	require.Error(t, err)
}

func TestLoadConfigFromFile_UnknownKeyIsFatal(t *testing.T) {
	t.Setenv("API_KEY_OPENAI", "test-key")
	path := writeTempConfig(t, validConfigYAML+"\n  unknown-key: true\n")

	_, err := LoadConfigFromFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed configuration file")
}

func TestMakeAbs(t *testing.T) {
	assert.Equal(t, filepath.Join("base", "rel.yaml"), MakeAbs("base", "rel.yaml"))
	assert.Equal(t, "/abs/rel.yaml", MakeAbs("base", "/abs/rel.yaml"))
	assert.Equal(t, "", MakeAbs("base", ""))
}

func TestIsNotBlank(t *testing.T) {
	assert.True(t, IsNotBlank("x"))
	assert.False(t, IsNotBlank("   "))
	assert.False(t, IsNotBlank(""))
}
