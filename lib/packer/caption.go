// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package packer

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/sessionpack/lib/session"
)

// Caption synthesizes a container caption and description from the
// sessions it holds and its size in bytes.
//
// The caption names the single product and application when every
// session shares them, the product alone when applications differ, and
// "Multiple Products" otherwise. The description counts sessions and
// problem sessions and names the users.
func Caption(summaries []session.Summary, size int64) (caption, description string) {
	var products, applications []string
	var users []string
	problems := 0
	for _, summary := range summaries {
		products = appendDistinct(products, summary.Product)
		applications = appendDistinct(applications, summary.Application)
		if summary.UserName != "" {
			users = appendDistinct(users, summary.UserName)
		}
		if summary.HasProblem() {
			problems++
		}
	}

	switch {
	case len(products) == 1 && len(applications) == 1 && applications[0] != "":
		caption = products[0] + " " + applications[0]
	case len(products) == 1:
		caption = products[0]
	default:
		caption = "Multiple Products"
	}

	noun := "sessions"
	if len(summaries) == 1 {
		noun = "session"
	}
	description = fmt.Sprintf("%d %s (%d with problems) from %s, %s",
		len(summaries), noun, problems, UserList(users), humanize.Bytes(uint64(max(size, 0))))
	return caption, description
}

// UserList formats distinct user names: none is "Anonymous", one is
// the name, two are joined with "and", three or more show the first
// two followed by "et al".
func UserList(users []string) string {
	switch len(users) {
	case 0:
		return "Anonymous"
	case 1:
		return users[0]
	case 2:
		return users[0] + " and " + users[1]
	default:
		return users[0] + ", " + users[1] + ", et al"
	}
}

func appendDistinct(values []string, value string) []string {
	for _, existing := range values {
		if strings.EqualFold(existing, value) {
			return values
		}
	}
	return append(values, value)
}
