// Package dictionary holds the server-side opcode dictionary and the
// detokenizer that expands compiled codes into sanitized action steps.
//
// Entries are immutable once versioned: an edit bumps the version and
// appends to the entry's audit log, it never rewrites a live version that
// past packets may reference.
package dictionary

import (
	"errors"
	"fmt"
	"time"
)

// Category classifies a dictionary entry.
type Category string

const (
	CategoryIntent     Category = "intent"
	CategoryConstraint Category = "constraint"
	CategorySafety     Category = "safety"
	CategoryTool       Category = "tool"
	CategoryExecution  Category = "execution"
	CategoryFallback   Category = "fallback"
)

var validCategories = map[Category]bool{
	CategoryIntent:     true,
	CategoryConstraint: true,
	CategorySafety:     true,
	CategoryTool:       true,
	CategoryExecution:  true,
	CategoryFallback:   true,
}

var (
	ErrNotFound        = errors.New("dictionary: entry not found")
	ErrDuplicateCode   = errors.New("dictionary: code already exists")
	ErrInvalidCategory = errors.New("dictionary: invalid category")
	ErrMissingFields   = errors.New("dictionary: code and category are required")
)

// Step is one executable action within an entry. Params carry internal
// implementation detail and are never exposed through detokenization.
type Step struct {
	Action string         `json:"action" yaml:"action"`
	Target string         `json:"target" yaml:"target"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// AuditRecord is one line in an entry's edit history.
type AuditRecord struct {
	Action  string    `json:"action"`
	By      string    `json:"by"`
	At      time.Time `json:"at"`
	Version int       `json:"version"`
}

// Entry is one versioned dictionary entry.
type Entry struct {
	ID       string        `json:"id"`
	Code     string        `json:"code" yaml:"code"`
	Category Category      `json:"category" yaml:"category"`
	Steps    []Step        `json:"steps" yaml:"steps"`
	Version  int           `json:"version"`
	Examples []string      `json:"examples,omitempty" yaml:"examples,omitempty"`
	Active   bool          `json:"is_active"`
	AuditLog []AuditRecord `json:"audit_log,omitempty"`
}

func (e *Entry) validate() error {
	if e.Code == "" || e.Category == "" {
		return ErrMissingFields
	}
	if !validCategories[e.Category] {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, e.Category)
	}
	return nil
}

// Dictionary is an in-memory code -> entry view, read-only during request
// processing. Safe for concurrent reads.
type Dictionary map[string]*Entry

// Index builds a Dictionary from a list of entries, keeping only active ones.
// The highest version wins when duplicates exist.
func Index(entries []*Entry) Dictionary {
	d := make(Dictionary, len(entries))
	for _, e := range entries {
		if !e.Active {
			continue
		}
		if prev, ok := d[e.Code]; ok && prev.Version >= e.Version {
			continue
		}
		d[e.Code] = e
	}
	return d
}
