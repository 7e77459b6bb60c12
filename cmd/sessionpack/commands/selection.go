// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/bureau-foundation/sessionpack/lib/config"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// SelectionFlags are the flags that choose sessions. Product and
// application default to the configured values. Exported so that
// BindFlags can reach its fields through embedding.
type SelectionFlags struct {
	Criteria    string   `json:"criteria"    flag:"criteria,c"  desc:"comma-separated: active, new, completed, crashed, critical, error, warning, all, none"`
	Product     string   `json:"product"     flag:"product"     desc:"restrict to one product (default: configured product)"`
	Application string   `json:"application" flag:"application" desc:"restrict to one application (default: configured application)"`
	Sessions    []string `json:"sessions"    flag:"session"     desc:"select these session ids instead of --criteria (repeatable)"`
}

// selection builds the request selection. defaultCriteria applies
// when --criteria is not given.
func (p *SelectionFlags) selection(cfg *config.Config, defaultCriteria session.Criteria, activeID session.ID) (session.Selection, error) {
	selection := session.Selection{
		Product:     cfg.Product,
		Application: cfg.Application,
		Criteria:    defaultCriteria,
		ActiveID:    activeID,
	}
	if p.Product != "" {
		selection.Product = p.Product
	}
	if p.Application != "" {
		selection.Application = p.Application
	}
	if p.Criteria != "" {
		criteria, err := session.ParseCriteria(p.Criteria)
		if err != nil {
			return session.Selection{}, err
		}
		selection.Criteria = criteria
	}

	if len(p.Sessions) > 0 {
		wanted := make(map[session.ID]bool, len(p.Sessions))
		for _, text := range p.Sessions {
			id, err := session.ParseID(text)
			if err != nil {
				return session.Selection{}, fmt.Errorf("--session %q: %w", text, err)
			}
			wanted[id] = true
		}
		selection.Predicate = func(summary session.Summary) bool {
			return wanted[summary.ID]
		}
	}
	return selection, nil
}
