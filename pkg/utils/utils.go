// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package utils

import (
	"cmp"
	"slices"

	"golang.org/x/exp/constraints"
)

// Ptr returns a pointer to the given value.
func Ptr[T any](value T) *T {
	return &value
}

// Clamp restricts value to the closed interval [lo, hi].
func Clamp[T constraints.Ordered](value, lo, hi T) T {
	return max(lo, min(value, hi))
}

// SortedKeys returns the keys of m in ascending order, for deterministic
// iteration over maps (parameter snapshots, composite-weight reports, ...).
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
