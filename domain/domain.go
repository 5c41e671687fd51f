// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package domain provides uniform, config-driven access to a content
// domain's YAML data file regardless of its root key. It never invents a
// key absent from the data file, and it never returns an empty stand-in
// for a missing item or data file - both are fatal Data errors.
package domain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/persistence"
)

// ErrDataFile indicates the domain's data file is missing or malformed.
var ErrDataFile = errors.New("data file error")

// ErrItemNotFound indicates the requested item id does not exist under the
// domain's configured root key.
var ErrItemNotFound = errors.New("item not found")

// ErrAuthorID indicates the author identifier field was missing or not an
// integer at the configured path.
var ErrAuthorID = errors.New("author id not resolvable")

// Item is a single item record: a YAML mapping node preserving the exact
// key order it was loaded with, plus the identifier it was looked up by.
type Item struct {
	ID   string
	node *yaml.Node
}

// Value returns the string form of item[path], where path is a dot-separated
// field path (e.g. "properties.mechanical.hardness.value"). ok is false if
// the path does not resolve to a scalar.
func (it Item) Value(path string) (value string, ok bool) {
	node := it.node
	for _, segment := range strings.Split(path, ".") {
		next, found := lookup(node, segment)
		if !found {
			return "", false
		}
		node = next
	}
	if node.Kind != yaml.ScalarNode {
		return "", false
	}
	return node.Value, true
}

func lookup(node *yaml.Node, key string) (*yaml.Node, bool) {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1], true
		}
	}
	return nil, false
}

// Adapter provides uniform access to every configured domain's YAML data.
type Adapter struct {
	domains map[string]config.DomainConfig
	baseDir string
	store   *persistence.Layer
}

// NewAdapter constructs a domain Adapter rooted at baseDir (the
// configuration file's directory), resolving each domain's relative
// data-path against it.
func NewAdapter(baseDir string, domains map[string]config.DomainConfig, store *persistence.Layer) *Adapter {
	return &Adapter{domains: domains, baseDir: baseDir, store: store}
}

func (a *Adapter) dataPath(domainCfg config.DomainConfig) string {
	return config.MakeAbs(a.baseDir, domainCfg.DataPath)
}

// LoadAll reads every item under domainName's configured root key.
func (a *Adapter) LoadAll(ctx context.Context, domainName string) ([]Item, error) {
	domainCfg, ok := a.domains[domainName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown domain %q", ErrDataFile, domainName)
	}

	root, err := a.readRoot(domainCfg)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		items = append(items, Item{ID: root.Content[i].Value, node: root.Content[i+1]})
	}
	return items, nil
}

// GetItem loads a single item by id from domainName's data file.
func (a *Adapter) GetItem(ctx context.Context, domainName string, itemID string) (Item, error) {
	domainCfg, ok := a.domains[domainName]
	if !ok {
		return Item{}, fmt.Errorf("%w: unknown domain %q", ErrDataFile, domainName)
	}

	root, err := a.readRoot(domainCfg)
	if err != nil {
		return Item{}, err
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == itemID {
			return Item{ID: itemID, node: root.Content[i+1]}, nil
		}
	}
	return Item{}, fmt.Errorf("%w: %q in domain %q", ErrItemNotFound, itemID, domainName)
}

// ContextKeys returns the field paths domainName exposes to the prompt
// assembler.
func (a *Adapter) ContextKeys(domainName string) ([]string, error) {
	domainCfg, ok := a.domains[domainName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown domain %q", ErrDataFile, domainName)
	}
	return domainCfg.ContextKeys, nil
}

// GetAuthorID resolves item's author identifier at the domain's configured
// AuthorIDPath.
func (a *Adapter) GetAuthorID(domainName string, item Item) (int, error) {
	domainCfg, ok := a.domains[domainName]
	if !ok {
		return 0, fmt.Errorf("%w: unknown domain %q", ErrDataFile, domainName)
	}
	raw, ok := item.Value(domainCfg.AuthorIDPath)
	if !ok {
		return 0, fmt.Errorf("%w: item %q missing field %q", ErrAuthorID, item.ID, domainCfg.AuthorIDPath)
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: item %q field %q=%q: %v", ErrAuthorID, item.ID, domainCfg.AuthorIDPath, raw, err)
	}
	return id, nil
}

// SaveItem writes value under item itemID's componentKeyPath (a dot-separated
// path, e.g. "description" or "properties.summary"), preserving every other
// key's position in the domain's data file. This is the only mutation the
// core ever performs on upstream data.
func (a *Adapter) SaveItem(ctx context.Context, domainName string, itemID string, componentKeyPath string, value string) error {
	domainCfg, ok := a.domains[domainName]
	if !ok {
		return fmt.Errorf("%w: unknown domain %q", ErrDataFile, domainName)
	}
	return a.store.Save(a.dataPath(domainCfg), domainCfg.DataRootKey, itemID, strings.Split(componentKeyPath, "."), value)
}

func (a *Adapter) readRoot(domainCfg config.DomainConfig) (*yaml.Node, error) {
	path := a.dataPath(domainCfg)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataFile, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataFile, err)
	}
	if len(doc.Content) != 1 {
		return nil, fmt.Errorf("%w: unexpected document shape in %s", ErrDataFile, path)
	}

	top := doc.Content[0]
	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value == domainCfg.DataRootKey {
			return top.Content[i+1], nil
		}
	}
	return nil, fmt.Errorf("%w: root key %q missing from %s", ErrDataFile, domainCfg.DataRootKey, path)
}
