package biz

import (
	"strings"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
)

var (
	highPriorityKeywords = []string{"REAL_TIME", "STREAMING", "PAYMENT", "FINANCE", "AUTH", "CRITICAL"}
	lowPriorityKeywords  = []string{"BATCH", "ANALYTICS", "ARCHIVE", "REPORTING", "INTERNAL"}
)

// DerivePriority returns the dependency's probing tier. An explicit priority
// wins; otherwise tags and domain are matched against keyword lists, high
// keywords first.
func DerivePriority(dep *model.Dependency) model.Priority {
	if dep.Priority.Valid() {
		return dep.Priority
	}

	words := make([]string, 0, len(dep.Tags)+1)
	words = append(words, dep.Tags...)
	if dep.Domain != "" {
		words = append(words, dep.Domain)
	}

	if matchesAny(words, highPriorityKeywords) {
		return model.PriorityHigh
	}
	if matchesAny(words, lowPriorityKeywords) {
		return model.PriorityLow
	}
	return model.PriorityMedium
}

func matchesAny(words, keywords []string) bool {
	for _, w := range words {
		w = strings.ToUpper(strings.TrimSpace(w))
		for _, k := range keywords {
			if w == k {
				return true
			}
		}
	}
	return false
}

// UsesDynamicProbe reports whether the dependency gets body validation on top
// of the status check.
func UsesDynamicProbe(dep *model.Dependency) bool {
	return DerivePriority(dep) == model.PriorityHigh ||
		dep.HasTag(model.TagRealTime) ||
		dep.HasTag(model.TagStreaming)
}
