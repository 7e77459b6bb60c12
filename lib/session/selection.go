// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "strings"

// Predicate is an arbitrary filter over session summaries.
type Predicate func(Summary) bool

// Selection describes which sessions a packaging request covers. When
// Predicate is set it replaces Criteria entirely; Product and
// Application still apply.
type Selection struct {
	// Product restricts the selection to one product. Empty matches
	// every product.
	Product string

	// Application restricts the selection to one application within
	// Product. Empty matches every application.
	Application string

	Criteria  Criteria
	Predicate Predicate

	// ActiveID is the current process's session id, used by the
	// ActiveSession criteria bit.
	ActiveID ID
}

// Empty reports whether the selection requests no sessions at all.
func (s Selection) Empty() bool {
	return s.Criteria == NoSessions && s.Predicate == nil
}

// Match reports whether summary belongs to the requested product and
// application and satisfies the criteria (or predicate).
func (s Selection) Match(summary Summary) bool {
	if s.Product != "" && !strings.EqualFold(s.Product, summary.Product) {
		return false
	}
	if s.Application != "" && !strings.EqualFold(s.Application, summary.Application) {
		return false
	}
	if s.Predicate != nil {
		return s.Predicate(summary)
	}
	return s.Criteria.Matches(summary, s.ActiveID)
}

// Filter returns the summaries that match, preserving input order.
func (s Selection) Filter(summaries []Summary) []Summary {
	var matched []Summary
	for _, summary := range summaries {
		if s.Match(summary) {
			matched = append(matched, summary)
		}
	}
	return matched
}
