// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"strings"
)

// Criteria is a bitmask selecting which sessions a packaging request
// covers. A session matches when it satisfies at least one set bit.
type Criteria uint16

const (
	// NoSessions selects nothing. A request with no criteria and no
	// predicate short-circuits to an Information outcome.
	NoSessions Criteria = 0

	// ActiveSession selects the session recorded by the current
	// process. It is the only bit that matches a running session.
	ActiveSession Criteria = 1 << iota

	// NewSessions selects ended sessions not yet marked read.
	NewSessions

	// CompletedSessions selects sessions that ended normally.
	CompletedSessions

	// CrashedSessions selects sessions that ended in a crash.
	CrashedSessions

	// CriticalSessions selects ended sessions with critical messages.
	CriticalSessions

	// ErrorSessions selects ended sessions with error messages.
	ErrorSessions

	// WarningSessions selects ended sessions with warning messages.
	WarningSessions
)

// AllSessions selects every ended session. It does not include
// ActiveSession.
const AllSessions = NewSessions | CompletedSessions | CrashedSessions |
	CriticalSessions | ErrorSessions | WarningSessions

var criteriaNames = []struct {
	bit  Criteria
	name string
}{
	{ActiveSession, "active"},
	{NewSessions, "new"},
	{CompletedSessions, "completed"},
	{CrashedSessions, "crashed"},
	{CriticalSessions, "critical"},
	{ErrorSessions, "error"},
	{WarningSessions, "warning"},
}

// Has reports whether every bit of other is set in c.
func (c Criteria) Has(other Criteria) bool {
	return other != 0 && c&other == other
}

// String renders the set bits as a comma-separated list of names, or
// "none" when no bit is set.
func (c Criteria) String() string {
	if c == NoSessions {
		return "none"
	}
	var names []string
	for _, entry := range criteriaNames {
		if c&entry.bit != 0 {
			names = append(names, entry.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseCriteria parses a comma-separated list of criteria names. The
// names "all" and "none" are accepted as shorthands.
func ParseCriteria(text string) (Criteria, error) {
	var criteria Criteria
	for _, part := range strings.Split(text, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		switch name {
		case "":
			continue
		case "none":
			continue
		case "all":
			criteria |= AllSessions
			continue
		}
		found := false
		for _, entry := range criteriaNames {
			if entry.name == name {
				criteria |= entry.bit
				found = true
				break
			}
		}
		if !found {
			return NoSessions, fmt.Errorf("unknown session criteria %q", name)
		}
	}
	return criteria, nil
}

// Matches reports whether summary satisfies at least one set bit.
// activeID is the id of the current process's own session; it is only
// consulted for ActiveSession.
func (c Criteria) Matches(summary Summary, activeID ID) bool {
	if c&ActiveSession != 0 && !activeID.IsZero() && summary.ID == activeID {
		return true
	}
	if summary.Running() {
		return false
	}
	switch {
	case c&NewSessions != 0 && summary.IsNew:
		return true
	case c&CompletedSessions != 0 && summary.Status == StatusCompleted:
		return true
	case c&CrashedSessions != 0 && summary.Status == StatusCrashed:
		return true
	case c&CriticalSessions != 0 && summary.CriticalCount > 0:
		return true
	case c&ErrorSessions != 0 && summary.ErrorCount > 0:
		return true
	case c&WarningSessions != 0 && summary.WarningCount > 0:
		return true
	}
	return false
}
