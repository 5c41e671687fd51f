// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package voice loads per-author voice profiles: the instruction text that
// dominates the final prompt and drives human-perceived style variation
// across authors, without ever supplying examples.
package voice

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrProfile indicates a voice profile file was missing, malformed, or
// missing a required field.
var ErrProfile = errors.New("voice profile error")

// Profile is a single author's voice bundle.
type Profile struct {
	AuthorID            int    `yaml:"author_id"`
	Name                string `yaml:"name"`
	Nationality         string `yaml:"nationality"`
	CoreVoiceInstruction string `yaml:"core_voice_instruction"`
}

func (p Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: author %d missing name", ErrProfile, p.AuthorID)
	}
	if p.CoreVoiceInstruction == "" {
		return fmt.Errorf("%w: author %d missing core_voice_instruction", ErrProfile, p.AuthorID)
	}
	return nil
}

// Store is an in-memory, by-author-id index of every voice profile found
// under a configured directory.
type Store struct {
	profiles map[int]Profile
}

// Load reads every *.yaml file directly under dir and indexes it by author id.
func Load(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfile, err)
	}

	profiles := make(map[int]Profile, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProfile, err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		var p Profile
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProfile, entry.Name(), err)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		profiles[p.AuthorID] = p
	}
	return &Store{profiles: profiles}, nil
}

// Get returns the voice profile for authorID.
func (s *Store) Get(authorID int) (Profile, error) {
	p, ok := s.profiles[authorID]
	if !ok {
		return Profile{}, fmt.Errorf("%w: no profile for author id %d", ErrProfile, authorID)
	}
	return p, nil
}
