// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package config contains the data models representing the structure of the
// forgecore generation core's configuration file. It loads and validates
// domain definitions, generation-control settings, and LLM provider
// credentials from a single strict YAML document; absence of a required
// key is always a fatal Configuration error, never a silently-applied default.
package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// OPENAI identifies the OpenAI provider.
	OPENAI string = "openai"
	// GOOGLE identifies the Google AI provider.
	GOOGLE string = "google"
	// ANTHROPIC identifies the Anthropic provider.
	ANTHROPIC string = "anthropic"
	// DEEPSEEK identifies the DeepSeek provider.
	DEEPSEEK string = "deepseek"
)

// ErrInvalidConfigProperty indicates invalid configuration.
var ErrInvalidConfigProperty = errors.New("invalid configuration property")

// Config represents the top-level configuration structure of generation/config.yaml.
type Config struct {
	// Core contains the generation-evaluation-learning core's application-wide settings.
	Core AppConfig `yaml:"core" validate:"required"`
}

// AppConfig defines application-wide settings for the generation core.
type AppConfig struct {
	// Domains maps a domain name (materials, contaminants, compounds, settings, ...)
	// to its data file and context-key contract.
	Domains map[string]DomainConfig `yaml:"domains" validate:"required,dive"`

	// Generation holds the slider-to-parameter mapping, composite weighting,
	// and retry/threshold policy shared by every domain.
	Generation GenerationConfig `yaml:"generation" validate:"required"`

	// Providers lists the LLM provider connections usable for generation
	// and for the rubric-realism judge call.
	Providers []ProviderConfig `yaml:"providers" validate:"required,unique=Name,dive"`

	// VoiceProfilesDir is the directory containing per-author voice profile YAML files.
	VoiceProfilesDir string `yaml:"voice-profiles-dir" validate:"required,isRelativePath"`

	// PromptCatalogPath is the path to the prompt catalog registry YAML file.
	PromptCatalogPath string `yaml:"prompt-catalog-path" validate:"required,isRelativePath"`

	// LearningStorePath is the path to the SQLite-class learning store database file.
	LearningStorePath string `yaml:"learning-store-path" validate:"required,isRelativePath"`

	// HumanDetectionServiceURL is the base URL of the external AI-detection service
	// consulted by the human-likeness evaluator.
	HumanDetectionServiceURL string `yaml:"human-detection-service-url" validate:"required,url"`
}

// GetProvidersWithEnabledRuns returns providers with their enabled run configurations resolved.
// Providers with no enabled run configurations are excluded from the returned list.
func (ac AppConfig) GetProvidersWithEnabledRuns() []ProviderConfig {
	providers := make([]ProviderConfig, 0, len(ac.Providers))
	for _, provider := range ac.Providers {
		resolved := provider.Resolve(true)
		if len(resolved.Runs) > 0 {
			providers = append(providers, resolved)
		}
	}
	return providers
}

// FindProvider returns the provider configuration registered under the given name.
func (ac AppConfig) FindProvider(name string) (ProviderConfig, bool) {
	for _, provider := range ac.Providers {
		if provider.Name == name {
			return provider, true
		}
	}
	return ProviderConfig{}, false
}

// ExtractionStrategy identifies how a component's raw LLM response text is
// converted into the final saved content.
type ExtractionStrategy string

const (
	// ExtractionRaw keeps the generated text verbatim.
	ExtractionRaw ExtractionStrategy = "raw"
	// ExtractionBeforeAfter splits on the first blank line and keeps the
	// paragraph the template's structural directive designates.
	ExtractionBeforeAfter ExtractionStrategy = "before_after"
	// ExtractionJSONList parses the response as a JSON array of strings and
	// rejoins it according to the component's declared structural pattern.
	ExtractionJSONList ExtractionStrategy = "json_list"
)

// UnmarshalYAML validates that the decoded scalar is one of the recognized strategies.
func (e *ExtractionStrategy) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch ExtractionStrategy(raw) {
	case ExtractionRaw, ExtractionBeforeAfter, ExtractionJSONList:
		*e = ExtractionStrategy(raw)
		return nil
	default:
		return fmt.Errorf("%w: unknown component-extraction strategy: %s", ErrInvalidConfigProperty, raw)
	}
}

// DomainConfig defines the data contract for a single content domain.
type DomainConfig struct {
	// DataPath is the path to the domain's YAML data file, relative to the
	// configuration file's directory.
	DataPath string `yaml:"data-path" validate:"required,isRelativePath"`

	// DataRootKey is the top-level key under which items are stored
	// (e.g. "materials", "contaminants", "compounds", "settings").
	DataRootKey string `yaml:"data-root-key" validate:"required"`

	// ContextKeys lists the item-record field paths exposed to the prompt
	// assembler. Only classification and raw numeric data belong here;
	// narrative text fields must never be listed, to avoid example-copying.
	ContextKeys []string `yaml:"context-keys" validate:"required,min=1"`

	// AuthorIDPath is the dot-separated path to the author identifier
	// field within an item record.
	AuthorIDPath string `yaml:"author-id-path" validate:"required"`
}

// GenerationConfig holds the operator-facing sliders and the derived policy
// knobs that drive parameter calculation, quality gating, and retries.
// Every field except FieldAliases is required: the core never substitutes a silent default for
// a value the operator never supplied.
type GenerationConfig struct {
	// MaxAttempts caps the number of retry-loop attempts per (item, component) call.
	MaxAttempts int `yaml:"max-attempts" validate:"required,min=1,max=10"`

	// CompositeWeights maps evaluator name to its share of the composite score.
	// Values must be in [0,1] and sum to 1.0 within floating-point tolerance;
	// enforced by validateGenerationConfig, registered as a struct-level rule.
	CompositeWeights map[string]float64 `yaml:"composite-weights" validate:"required"`

	// EvaluatorTimeouts maps evaluator name to its per-call timeout.
	EvaluatorTimeouts map[string]time.Duration `yaml:"evaluator-timeouts-ms" validate:"required"`

	// HumannessIntensity is the 1-10 operator slider driving penalty ramp calculation.
	HumannessIntensity int `yaml:"humanness-intensity" validate:"required,min=1,max=10"`

	// RealismIntensity is the 1-10 operator slider driving voice-vector intensity.
	RealismIntensity int `yaml:"realism-intensity" validate:"required,min=1,max=10"`

	// ExplorationProbability is the chance, on a retry attempt, that bounded
	// random exploration noise is layered onto the calculated parameters.
	ExplorationProbability float64 `yaml:"exploration-probability" validate:"required,min=0,max=1"`

	// ThresholdMinSamples is the minimum number of qualifying historical
	// samples required before a learned threshold replaces its configured fallback.
	ThresholdMinSamples int `yaml:"threshold-min-samples" validate:"required,min=1"`

	// ThresholdFallbacks maps threshold name to the value used when
	// insufficient historical samples exist.
	ThresholdFallbacks map[string]float64 `yaml:"threshold-fallbacks" validate:"required"`

	// FieldAliases maps an external CLI-facing alias to the canonical
	// item-record YAML key it resolves to.
	FieldAliases map[string]string `yaml:"field-aliases" validate:"omitempty"`

	// ComponentExtraction maps component name to the extraction strategy
	// applied to the raw LLM response before persistence.
	ComponentExtraction map[string]ExtractionStrategy `yaml:"component-extraction" validate:"required"`

	// RetryTemperatureDelta is the default temperature adjustment applied on
	// retry when the previous failure does not match a recognized adaptation case.
	RetryTemperatureDelta float64 `yaml:"retry-temperature-delta" validate:"required,min=0,max=1"`

	// RubricJudgeProvider names the provider+run used for the rubric-realism evaluator's judge call.
	RubricJudgeProvider string `yaml:"rubric-judge-provider" validate:"required"`

	// RubricJudgeRun names the run configuration within RubricJudgeProvider used for judging.
	RubricJudgeRun string `yaml:"rubric-judge-run" validate:"required"`

	// GenerationProvider names the provider used for the main content-generation call,
	// distinct from the judge call the rubric evaluator issues.
	GenerationProvider string `yaml:"generation-provider" validate:"required"`

	// GenerationRun names the run configuration within GenerationProvider used for generation.
	GenerationRun string `yaml:"generation-run" validate:"required"`
}

// CompositeWeightSumTolerance is the floating-point tolerance applied when
// validating that composite_weights sums to exactly 1.0.
const CompositeWeightSumTolerance = 1e-6

// ProviderConfig defines settings for an LLM provider connection.
type ProviderConfig struct {
	// Name specifies the unique identifier of the provider.
	Name string `yaml:"name" validate:"required,oneof=openai google anthropic deepseek"`

	// ClientConfig holds provider-specific client settings.
	ClientConfig ClientConfig `yaml:"client-config" validate:"required"`

	// Runs lists run configurations (one per target model) for this provider.
	Runs []RunConfig `yaml:"runs" validate:"required,unique=Name,dive"`

	// Disabled indicates if all runs should be disabled by default.
	Disabled bool `yaml:"disabled" validate:"omitempty"`

	// RetryPolicy specifies default transport-level retry behavior for all
	// runs of this provider. It is independent of the quality retry loop.
	RetryPolicy RetryPolicy `yaml:"retry-policy" validate:"omitempty"`
}

// GetRunsResolved returns runs with retry policies and disabled flags resolved.
func (pc ProviderConfig) GetRunsResolved() []RunConfig {
	resolved := make([]RunConfig, 0, len(pc.Runs))
	for _, run := range pc.Runs {
		if run.RetryPolicy == nil {
			run.RetryPolicy = &pc.RetryPolicy
		}
		if run.Disabled == nil {
			run.Disabled = &pc.Disabled
		}
		resolved = append(resolved, run)
	}
	return resolved
}

// Resolve returns a copy of the provider configuration with runs resolved,
// optionally excluding disabled runs.
func (pc ProviderConfig) Resolve(excludeDisabledRuns bool) ProviderConfig {
	resolved := pc
	resolved.Runs = pc.GetRunsResolved()
	if excludeDisabledRuns {
		enabled := make([]RunConfig, 0, len(resolved.Runs))
		for _, run := range resolved.Runs {
			if run.Disabled == nil || !*run.Disabled {
				enabled = append(enabled, run)
			}
		}
		resolved.Runs = enabled
	}
	return resolved
}

// FindRun returns the named run configuration, if present.
func (pc ProviderConfig) FindRun(name string) (RunConfig, bool) {
	for _, run := range pc.GetRunsResolved() {
		if run.Name == name {
			return run, true
		}
	}
	return RunConfig{}, false
}

// ClientConfig is a marker interface for provider-specific client configurations.
type ClientConfig interface{}

// OpenAIClientConfig represents OpenAI provider settings.
type OpenAIClientConfig struct {
	// APIKey is the API key for the OpenAI provider, populated from the
	// API_KEY_OPENAI environment variable at load time.
	APIKey string `yaml:"-" validate:"required"`
}

// GoogleAIClientConfig represents Google AI provider settings.
type GoogleAIClientConfig struct {
	// APIKey is the API key for the Google AI generative models provider,
	// populated from the API_KEY_GOOGLE environment variable at load time.
	APIKey string `yaml:"-" validate:"required"`
}

// AnthropicClientConfig represents Anthropic provider settings.
type AnthropicClientConfig struct {
	// APIKey is the API key for the Anthropic provider, populated from the
	// API_KEY_ANTHROPIC environment variable at load time.
	APIKey string `yaml:"-" validate:"required"`
	// RequestTimeout specifies the timeout for API requests.
	RequestTimeout *time.Duration `yaml:"request-timeout" validate:"omitempty"`
}

// DeepseekClientConfig represents DeepSeek provider settings.
type DeepseekClientConfig struct {
	// APIKey is the API key for the DeepSeek provider, populated from the
	// API_KEY_DEEPSEEK environment variable at load time.
	APIKey string `yaml:"-" validate:"required"`
	// RequestTimeout specifies the timeout for API requests.
	RequestTimeout *time.Duration `yaml:"request-timeout" validate:"omitempty"`
}

// RunConfig defines settings for a single (provider, model) run configuration.
type RunConfig struct {
	// Name is the unique identifier for this run within its provider.
	Name string `yaml:"name" validate:"required"`

	// Model specifies the target model's identifier.
	Model string `yaml:"model" validate:"required"`

	// MaxRequestsPerMinute limits the number of API requests per minute sent
	// to this specific model. Value of 0 means no rate limiting is applied.
	MaxRequestsPerMinute int `yaml:"max-requests-per-minute" validate:"omitempty,min=0"`

	// Disabled indicates if this run configuration should be skipped.
	Disabled *bool `yaml:"disabled" validate:"omitempty"`

	// ModelParams holds provider-specific model parameters for this run.
	ModelParams ModelParams `yaml:"model-parameters" validate:"omitempty"`

	// RetryPolicy specifies transport-level retry behavior on transient errors.
	RetryPolicy *RetryPolicy `yaml:"retry-policy" validate:"omitempty"`
}

// RetryPolicy defines transport-level retry behavior on transient provider errors.
// This is distinct from and does not count against the quality retry loop.
type RetryPolicy struct {
	// MaxRetryAttempts specifies the maximum number of retry attempts.
	MaxRetryAttempts uint `yaml:"max-retry-attempts" validate:"omitempty,min=0"`
	// InitialDelaySeconds specifies the initial backoff delay before the first retry attempt.
	InitialDelaySeconds int `yaml:"initial-delay-seconds" validate:"omitempty,gt=0"`
}

// ModelParams is a marker interface for provider-specific model parameters.
type ModelParams interface{}

// OpenAIModelParams represents OpenAI model-specific settings beyond the
// generation core's computed temperature/penalty/token parameters.
type OpenAIModelParams struct {
	// ReasoningEffort controls effort level on reasoning for reasoning models.
	ReasoningEffort *string `yaml:"reasoning-effort" validate:"omitempty,oneof=none minimal low medium high xhigh"`
}

// GoogleAIModelParams represents Google AI model-specific settings.
type GoogleAIModelParams struct {
	// ThinkingLevel controls the maximum depth of the model's internal reasoning process.
	ThinkingLevel *string `yaml:"thinking-level" validate:"omitempty,oneof=low high"`
}

// AnthropicModelParams represents Anthropic model-specific settings.
type AnthropicModelParams struct {
	// ThinkingBudgetTokens enables extended thinking with the given token budget when set.
	ThinkingBudgetTokens *int64 `yaml:"thinking-budget-tokens" validate:"omitempty,min=1024"`
}

// DeepseekModelParams represents DeepSeek model-specific settings.
type DeepseekModelParams struct {
	// ResponseFormat selects how deepseek-go should parse structured output; empty means plain text.
	ResponseFormat *string `yaml:"response-format" validate:"omitempty,oneof=json_object"`
}

// UnmarshalYAML implements custom YAML unmarshaling for ProviderConfig.
// It dispatches provider-specific client configuration and model parameters
// based on the provider name, mirroring the tagged-variant idiom used
// throughout this configuration model.
func (pc *ProviderConfig) UnmarshalYAML(value *yaml.Node) error {
	var temp struct {
		Name         string      `yaml:"name"`
		ClientConfig yaml.Node   `yaml:"client-config"`
		Runs         yaml.Node   `yaml:"runs"`
		Disabled     bool        `yaml:"disabled"`
		RetryPolicy  RetryPolicy `yaml:"retry-policy"`
	}

	if err := value.Decode(&temp); err != nil {
		return err
	}

	pc.Name = temp.Name
	pc.Disabled = temp.Disabled
	pc.RetryPolicy = temp.RetryPolicy

	if err := decodeRuns(temp.Name, &temp.Runs, &pc.Runs); err != nil {
		return err
	}

	switch temp.Name {
	case OPENAI:
		cfg := OpenAIClientConfig{}
		if err := temp.ClientConfig.Decode(&cfg); err != nil {
			return err
		}
		pc.ClientConfig = cfg
	case GOOGLE:
		cfg := GoogleAIClientConfig{}
		if err := temp.ClientConfig.Decode(&cfg); err != nil {
			return err
		}
		pc.ClientConfig = cfg
	case ANTHROPIC:
		cfg := AnthropicClientConfig{}
		if err := temp.ClientConfig.Decode(&cfg); err != nil {
			return err
		}
		pc.ClientConfig = cfg
	case DEEPSEEK:
		cfg := DeepseekClientConfig{}
		if err := temp.ClientConfig.Decode(&cfg); err != nil {
			return err
		}
		pc.ClientConfig = cfg
	default:
		return fmt.Errorf("%w: unknown client-config for provider: %s", ErrInvalidConfigProperty, temp.Name)
	}

	return nil
}

func decodeRuns(provider string, value *yaml.Node, out *[]RunConfig) error {
	var temp []struct {
		Name                 string       `yaml:"name"`
		Model                string       `yaml:"model"`
		MaxRequestsPerMinute int          `yaml:"max-requests-per-minute"`
		Disabled             *bool        `yaml:"disabled"`
		ModelParams          yaml.Node    `yaml:"model-parameters"`
		RetryPolicy          *RetryPolicy `yaml:"retry-policy"`
	}

	if err := value.Decode(&temp); err != nil {
		return err
	}

	*out = make([]RunConfig, len(temp))
	for i := range temp {
		(*out)[i].Name = temp[i].Name
		(*out)[i].Model = temp[i].Model
		(*out)[i].MaxRequestsPerMinute = temp[i].MaxRequestsPerMinute
		(*out)[i].Disabled = temp[i].Disabled
		(*out)[i].RetryPolicy = temp[i].RetryPolicy

		if !temp[i].ModelParams.IsZero() {
			switch provider {
			case OPENAI:
				params := OpenAIModelParams{}
				if err := temp[i].ModelParams.Decode(&params); err != nil {
					return err
				}
				(*out)[i].ModelParams = params
			case GOOGLE:
				params := GoogleAIModelParams{}
				if err := temp[i].ModelParams.Decode(&params); err != nil {
					return err
				}
				(*out)[i].ModelParams = params
			case ANTHROPIC:
				params := AnthropicModelParams{}
				if err := temp[i].ModelParams.Decode(&params); err != nil {
					return err
				}
				(*out)[i].ModelParams = params
			case DEEPSEEK:
				params := DeepseekModelParams{}
				if err := temp[i].ModelParams.Decode(&params); err != nil {
					return err
				}
				(*out)[i].ModelParams = params
			default:
				return fmt.Errorf("%w: provider '%s' does not support model parameters", ErrInvalidConfigProperty, provider)
			}
		}
	}

	return nil
}
