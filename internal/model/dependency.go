// Package model holds the domain types shared between the biz and data layers.
package model

import (
	"strings"
	"time"
)

// Priority is the probing tier of a dependency.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Priorities lists the tiers from most to least urgent.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// ProbeInterval returns the default probing interval of the tier.
func (p Priority) ProbeInterval() time.Duration {
	switch p {
	case PriorityHigh:
		return 60 * time.Second
	case PriorityLow:
		return 300 * time.Second
	default:
		return 120 * time.Second
	}
}

// Valid reports whether p is one of the known tiers.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// ParsePriority parses a tier name case-insensitively. Unknown names yield "".
func ParsePriority(s string) Priority {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if p.Valid() {
		return p
	}
	return ""
}

// Tags that force dynamic probing.
const (
	TagRealTime  = "REAL_TIME"
	TagStreaming = "STREAMING"
)

// Dependency is an external HTTP service being monitored. It is treated as
// immutable once loaded from the dependency source.
type Dependency struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Provider string   `json:"provider" yaml:"provider"`
	BaseURL  string   `json:"base_url" yaml:"base_url"`
	Method   string   `json:"method" yaml:"method"`
	Priority Priority `json:"priority" yaml:"priority"`
	Domain   string   `json:"domain" yaml:"domain"`
	Tags     []string `json:"tags" yaml:"tags"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
}

// HasTag reports whether the dependency carries tag (case-insensitive).
func (d *Dependency) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// HTTPMethod returns the configured method, defaulting to GET.
func (d *Dependency) HTTPMethod() string {
	if d.Method == "" {
		return "GET"
	}
	return strings.ToUpper(d.Method)
}
