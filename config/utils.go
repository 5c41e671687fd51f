// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package config

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("isRelativePath", validateRelativePath); err != nil {
		panic(fmt.Errorf("failed to register isRelativePath validator: %w", err))
	}
	v.RegisterStructValidation(validateGenerationConfig, GenerationConfig{})
	return v
}

// validateRelativePath rejects absolute filesystem paths. Configuration must
// remain portable across environments; only paths relative to the
// configuration file's directory are accepted.
func validateRelativePath(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	return path != "" && !filepath.IsAbs(path)
}

// validateGenerationConfig enforces the cross-field invariant that
// composite-weights must sum to exactly 1.0 (within floating-point
// tolerance). The open question of "what the default weights are" is
// refused deliberately: there is no fallback here, only validation of
// whatever the operator supplied.
func validateGenerationConfig(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(GenerationConfig)
	if len(cfg.CompositeWeights) == 0 {
		return // already flagged by the `required` tag
	}
	sum := 0.0
	for name, weight := range cfg.CompositeWeights {
		if weight < 0 || weight > 1 {
			sl.ReportError(cfg.CompositeWeights, "CompositeWeights", "CompositeWeights",
				"weightrange", name)
		}
		sum += weight
	}
	if math.Abs(sum-1.0) > CompositeWeightSumTolerance {
		sl.ReportError(cfg.CompositeWeights, "CompositeWeights", "CompositeWeights",
			"weightsum", fmt.Sprintf("%f", sum))
	}
}

// LoadConfigFromFile reads and validates the application configuration from
// the specified file path, then resolves provider API keys from the
// environment. Returns an error if the file cannot be read, contains
// unrecognized keys, fails struct validation, or a required credential is
// missing from the environment.
func LoadConfigFromFile(ctx context.Context, path string) (*Config, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration file: %w", err)
	}
	defer fp.Close()

	fileContents, err := io.ReadAll(fp)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg := &Config{}
	if err := yamlUnmarshalStrict(fileContents, cfg); err != nil {
		return nil, fmt.Errorf("malformed configuration file: %w", err)
	}

	if err := resolveProviderCredentials(cfg); err != nil {
		return cfg, err
	}

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// resolveProviderCredentials populates each provider's API key from its
// API_KEY_<PROVIDER> environment variable. A missing credential for any
// configured provider is fatal at startup; the core never proceeds with a
// blank key.
func resolveProviderCredentials(cfg *Config) error {
	for i := range cfg.Core.Providers {
		provider := &cfg.Core.Providers[i]
		envName := "API_KEY_" + strings.ToUpper(provider.Name)
		apiKey, present := os.LookupEnv(envName)
		if !present || strings.TrimSpace(apiKey) == "" {
			return fmt.Errorf("%w: missing required environment variable %s for provider %q",
				ErrInvalidConfigProperty, envName, provider.Name)
		}
		switch clientCfg := provider.ClientConfig.(type) {
		case OpenAIClientConfig:
			clientCfg.APIKey = apiKey
			provider.ClientConfig = clientCfg
		case GoogleAIClientConfig:
			clientCfg.APIKey = apiKey
			provider.ClientConfig = clientCfg
		case AnthropicClientConfig:
			clientCfg.APIKey = apiKey
			provider.ClientConfig = clientCfg
		case DeepseekClientConfig:
			clientCfg.APIKey = apiKey
			provider.ClientConfig = clientCfg
		}
	}
	return nil
}

// yamlUnmarshalStrict is a helper function for strict YAML unmarshaling that fails on unknown fields.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	// NOTE: currently does not propagate to custom unmarshalers:
	// https://github.com/go-yaml/yaml/issues/460
	decoder := yaml.NewDecoder(bytes.NewReader(in))
	decoder.KnownFields(true) // fail on unknown fields
	return decoder.Decode(out)
}

// IsNotBlank returns true if the given string contains non-whitespace characters.
func IsNotBlank(value string) bool {
	return len(strings.TrimSpace(value)) > 0
}

// MakeAbs converts a relative file path to absolute using the given base directory.
// Returns the original path if it's already absolute or blank.
func MakeAbs(baseDirPath string, filePath string) string {
	if IsNotBlank(filePath) {
		if filepath.IsAbs(filePath) {
			return filePath
		}
		return filepath.Join(baseDirPath, filePath)
	}
	return filePath
}

// CleanIfNotBlank cleans the given file path if it's not blank.
// Returns the original path if it's blank.
func CleanIfNotBlank(filePath string) string {
	if IsNotBlank(filePath) {
		return filepath.Clean(filePath)
	}
	return filePath
}
