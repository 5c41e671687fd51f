// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package domain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/persistence"
)

const gemsData = "gems:\n" +
	"  opal:\n" +
	"    author_id: 7\n" +
	"    hardness: \"5.5-6.5\"\n" +
	"    description: \"\"\n" +
	"  quartz:\n" +
	"    author_id: not-a-number\n" +
	"    hardness: \"7\"\n"

func newTestAdapter(t *testing.T) (*Adapter, string) {
	t.Helper()
	base := t.TempDir()
	dataPath := filepath.Join(base, "data", "gems.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(dataPath), 0o755))
	require.NoError(t, os.WriteFile(dataPath, []byte(gemsData), 0o644))

	domains := map[string]config.DomainConfig{
		"gems": {
			DataPath:     "data/gems.yaml",
			DataRootKey:  "gems",
			ContextKeys:  []string{"hardness"},
			AuthorIDPath: "author_id",
		},
	}
	return NewAdapter(base, domains, persistence.NewLayer()), dataPath
}

func TestAdapter_LoadAll_ReturnsEveryItemInOrder(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	items, err := adapter.LoadAll(context.Background(), "gems")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "opal", items[0].ID)
	assert.Equal(t, "quartz", items[1].ID)
}

func TestAdapter_LoadAll_UnknownDomain(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.LoadAll(context.Background(), "minerals")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataFile)
}

func TestAdapter_GetItem_Found(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	item, err := adapter.GetItem(context.Background(), "gems", "opal")
	require.NoError(t, err)
	assert.Equal(t, "opal", item.ID)
	v, ok := item.Value("hardness")
	require.True(t, ok)
	assert.Equal(t, "5.5-6.5", v)
}

func TestAdapter_GetItem_NotFound(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.GetItem(context.Background(), "gems", "sapphire")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestAdapter_GetItem_UnknownDomain(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.GetItem(context.Background(), "minerals", "opal")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataFile)
}

func TestItem_Value_MissingFieldNotOK(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	item, err := adapter.GetItem(context.Background(), "gems", "opal")
	require.NoError(t, err)

	_, ok := item.Value("color")
	assert.False(t, ok)
}

func TestAdapter_ContextKeys(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	keys, err := adapter.ContextKeys("gems")
	require.NoError(t, err)
	assert.Equal(t, []string{"hardness"}, keys)
}

func TestAdapter_ContextKeys_UnknownDomain(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.ContextKeys("minerals")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataFile)
}

func TestAdapter_GetAuthorID_Resolves(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	item, err := adapter.GetItem(context.Background(), "gems", "opal")
	require.NoError(t, err)

	id, err := adapter.GetAuthorID("gems", item)
	require.NoError(t, err)
	assert.Equal(t, 7, id)
}

func TestAdapter_GetAuthorID_NotAnInteger(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	item, err := adapter.GetItem(context.Background(), "gems", "quartz")
	require.NoError(t, err)

	_, err = adapter.GetAuthorID("gems", item)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthorID)
}

func TestAdapter_GetAuthorID_MissingField(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	item := Item{ID: "ghost"}

	_, err := adapter.GetAuthorID("gems", item)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthorID)
}

func TestAdapter_SaveItem_UpdatesDataFilePreservingOtherItems(t *testing.T) {
	adapter, dataPath := newTestAdapter(t)

	require.NoError(t, adapter.SaveItem(context.Background(), "gems", "opal", "description", "a polished gem"))

	item, err := adapter.GetItem(context.Background(), "gems", "opal")
	require.NoError(t, err)
	v, ok := item.Value("description")
	require.True(t, ok)
	assert.Equal(t, "a polished gem", v)

	other, err := adapter.GetItem(context.Background(), "gems", "quartz")
	require.NoError(t, err)
	hardness, ok := other.Value("hardness")
	require.True(t, ok)
	assert.Equal(t, "7", hardness)

	data, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "a polished gem")
}

func TestAdapter_SaveItem_NestedComponentKeyPath(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	require.NoError(t, adapter.SaveItem(context.Background(), "gems", "opal", "properties.summary", "short summary"))

	item, err := adapter.GetItem(context.Background(), "gems", "opal")
	require.NoError(t, err)
	v, ok := item.Value("properties.summary")
	require.True(t, ok)
	assert.Equal(t, "short summary", v)
}

func TestAdapter_SaveItem_UnknownDomain(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	err := adapter.SaveItem(context.Background(), "minerals", "opal", "description", "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataFile)
}
