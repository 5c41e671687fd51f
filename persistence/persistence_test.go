// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package persistence

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLayer_Save_ReplacesExistingLeaf(t *testing.T) {
	path := writeTestFile(t, "gems:\n  opal:\n    author_id: 7\n    description: \"old text\"\n  quartz:\n    author_id: 3\n")

	l := NewLayer()
	require.NoError(t, l.Save(path, "gems", "opal", []string{"description"}, "new text"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "new text")
	assert.NotContains(t, string(data), "old text")

	var doc map[string]map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, 7, doc["gems"]["opal"]["author_id"])
	assert.Equal(t, 3, doc["gems"]["quartz"]["author_id"])
}

func TestLayer_Save_CreatesIntermediateMappingKeys(t *testing.T) {
	path := writeTestFile(t, "gems:\n  opal:\n    author_id: 7\n")

	l := NewLayer()
	require.NoError(t, l.Save(path, "gems", "opal", []string{"properties", "summary"}, "a short summary"))

	var doc map[string]map[string]map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &doc))

	props, ok := doc["gems"]["opal"]["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a short summary", props["summary"])
}

func TestLayer_Save_AppendsNewLeafPreservingSiblingOrder(t *testing.T) {
	path := writeTestFile(t, "gems:\n  opal:\n    author_id: 7\n    hardness: \"5.5-6.5\"\n")

	l := NewLayer()
	require.NoError(t, l.Save(path, "gems", "opal", []string{"description"}, "brand new"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	authorIdx := indexOf(t, content, "author_id")
	hardnessIdx := indexOf(t, content, "hardness")
	descriptionIdx := indexOf(t, content, "description")
	assert.True(t, authorIdx < hardnessIdx, "author_id must stay before hardness")
	assert.True(t, hardnessIdx < descriptionIdx, "the new leaf is appended after existing siblings")
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	t.Fatalf("%q not found in %q", needle, haystack)
	return -1
}

func TestLayer_Save_UnknownItemReturnsErrMissingItem(t *testing.T) {
	path := writeTestFile(t, "gems:\n  opal:\n    author_id: 7\n")

	l := NewLayer()
	err := l.Save(path, "gems", "sapphire", []string{"description"}, "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingItem)
}

func TestLayer_Save_EmptyKeyPathReturnsErrPersistence(t *testing.T) {
	path := writeTestFile(t, "gems:\n  opal:\n    author_id: 7\n")

	l := NewLayer()
	err := l.Save(path, "gems", "opal", nil, "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestLayer_Save_MissingFileReturnsErrPersistence(t *testing.T) {
	l := NewLayer()
	err := l.Save(filepath.Join(t.TempDir(), "missing.yaml"), "gems", "opal", []string{"description"}, "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
}

// TestLayer_Save_ConcurrentWritesSameFileDoNotCorrupt drives many concurrent
// saves of distinct items in the same data file through one Layer, asserting
// every write survives rather than being lost to an interleaved
// read-modify-write cycle.
func TestLayer_Save_ConcurrentWritesSameFileDoNotCorrupt(t *testing.T) {
	const items = 8
	content := "gems:\n"
	for i := 0; i < items; i++ {
		content += "  item" + string(rune('a'+i)) + ":\n    author_id: 1\n"
	}
	path := writeTestFile(t, content)

	l := NewLayer()
	var wg sync.WaitGroup
	for i := 0; i < items; i++ {
		itemID := "item" + string(rune('a'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Save(path, "gems", itemID, []string{"description"}, "text for "+itemID))
		}()
	}
	wg.Wait()

	var doc map[string]map[string]map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &doc))
	for i := 0; i < items; i++ {
		itemID := "item" + string(rune('a'+i))
		assert.Equal(t, "text for "+itemID, doc["gems"][itemID]["description"])
	}
}
