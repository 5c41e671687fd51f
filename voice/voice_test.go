// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package voice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_IndexesEveryProfileByAuthorID(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "ada.yaml",
		"author_id: 7\nname: Ada\nnationality: Irish\ncore_voice_instruction: Write with short, plain sentences.\n")
	writeProfile(t, dir, "beatriz.yaml",
		"author_id: 12\nname: Beatriz\nnationality: Brazilian\ncore_voice_instruction: Favor warm, conversational asides.\n")

	store, err := Load(dir)
	require.NoError(t, err)

	ada, err := store.Get(7)
	require.NoError(t, err)
	assert.Equal(t, "Ada", ada.Name)
	assert.Equal(t, "Irish", ada.Nationality)

	beatriz, err := store.Get(12)
	require.NoError(t, err)
	assert.Equal(t, "Beatriz", beatriz.Name)
}

func TestLoad_IgnoresNonYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "ada.yaml",
		"author_id: 7\nname: Ada\nnationality: Irish\ncore_voice_instruction: Write with short, plain sentences.\n")
	writeProfile(t, dir, "README.md", "not a profile")

	store, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, store.profiles, 1)
}

func TestLoad_MissingNameFails(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "ada.yaml",
		"author_id: 7\nnationality: Irish\ncore_voice_instruction: Write with short, plain sentences.\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProfile)
}

func TestLoad_MissingCoreVoiceInstructionFails(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "ada.yaml", "author_id: 7\nname: Ada\nnationality: Irish\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProfile)
}

func TestLoad_UnknownFieldFails(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "ada.yaml",
		"author_id: 7\nname: Ada\nnationality: Irish\ncore_voice_instruction: text\nfavorite_color: blue\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProfile)
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProfile)
}

func TestStore_Get_UnknownAuthorID(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "ada.yaml",
		"author_id: 7\nname: Ada\nnationality: Irish\ncore_voice_instruction: text\n")

	store, err := Load(dir)
	require.NoError(t, err)

	_, err = store.Get(99)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProfile)
}
