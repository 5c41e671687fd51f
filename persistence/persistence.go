// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package persistence writes generated content back into a domain's YAML
// data file. Every write is scoped to a single nested key path, preserves
// the on-disk ordering of every other key, and lands via a temp-file rename
// so a reader never observes a partially-written file.
package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrPersistence indicates a lock-acquisition or write failure on the
// underlying data file.
var ErrPersistence = errors.New("persistence failure")

// ErrMissingItem indicates the target item was not found under the
// configured root key.
var ErrMissingItem = errors.New("item not found")

// Layer serializes writes to each data file behind a per-path mutex, so two
// workers saving different items in the same file never interleave their
// read-modify-write cycles.
type Layer struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLayer creates an empty persistence layer. A single Layer should be
// shared by every worker that might write to the same set of data files.
func NewLayer() *Layer {
	return &Layer{locks: make(map[string]*sync.Mutex)}
}

func (l *Layer) lockFor(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	return m
}

// Save updates filePath, setting item rootKey -> itemID -> keyPath... to
// value. Intermediate mapping keys are created if absent; every other key,
// including the assigned leaf's siblings, keeps its existing position.
func (l *Layer) Save(filePath string, rootKey string, itemID string, keyPath []string, value string) error {
	if len(keyPath) == 0 {
		return fmt.Errorf("%w: empty key path", ErrPersistence)
	}

	fileLock := l.lockFor(filePath)
	fileLock.Lock()
	defer fileLock.Unlock()

	doc, err := readDocument(filePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	root, err := mappingValue(doc.Content[0], rootKey)
	if err != nil {
		return err
	}
	item, err := mappingValue(root, itemID)
	if err != nil {
		return fmt.Errorf("%w: item %q: %v", ErrMissingItem, itemID, err)
	}

	setNestedScalar(item, keyPath, value)

	return writeAtomic(filePath, doc)
}

func readDocument(filePath string) (*yaml.Node, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) != 1 {
		return nil, fmt.Errorf("unexpected document shape in %s", filePath)
	}
	return &doc, nil
}

// mappingValue returns the mapping-node value for key within a YAML mapping
// node, failing if the node is not a mapping or the key is absent.
func mappingValue(node *yaml.Node, key string) (*yaml.Node, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: expected a mapping for key %q", ErrPersistence, key)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1], nil
		}
	}
	return nil, fmt.Errorf("key %q not found", key)
}

// setNestedScalar walks keyPath within item, creating intermediate mapping
// keys as needed, and replaces (or appends) the final leaf as a scalar node
// holding value. Existing sibling keys, and their relative order, are
// untouched.
func setNestedScalar(item *yaml.Node, keyPath []string, value string) {
	node := item
	for _, key := range keyPath[:len(keyPath)-1] {
		node = childMapping(node, key)
	}

	leaf := keyPath[len(keyPath)-1]
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == leaf {
			node.Content[i+1] = scalarNode(value)
			return
		}
	}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: leaf},
		scalarNode(value),
	)
}

func childMapping(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		child,
	)
	return child
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value, Style: yaml.LiteralStyle}
}

// writeAtomic renders doc and lands it via a temp file in the same
// directory followed by a rename, so a crash mid-write never leaves a
// truncated data file behind.
func writeAtomic(filePath string, doc *yaml.Node) error {
	dir := filepath.Dir(filePath)
	tmp, err := os.CreateTemp(dir, ".tmp-*.yaml")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	enc := yaml.NewEncoder(tmp)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, filePath)
}
