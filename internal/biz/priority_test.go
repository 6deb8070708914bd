package biz

import (
	"testing"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestDerivePriority(t *testing.T) {
	tests := []struct {
		name    string
		dep     model.Dependency
		want    model.Priority
		dynamic bool
	}{
		{"explicit wins", model.Dependency{Priority: model.PriorityLow, Tags: []string{"PAYMENT"}}, model.PriorityLow, false},
		{"payment domain", model.Dependency{Domain: "payment"}, model.PriorityHigh, true},
		{"real-time tag", model.Dependency{Tags: []string{"real_time"}}, model.PriorityHigh, true},
		{"batch tag", model.Dependency{Tags: []string{" BATCH "}}, model.PriorityLow, false},
		{"high beats low", model.Dependency{Tags: []string{"ARCHIVE", "AUTH"}}, model.PriorityHigh, true},
		{"nothing matches", model.Dependency{Domain: "WEATHER"}, model.PriorityMedium, false},
		{"streaming on explicit low", model.Dependency{Priority: model.PriorityLow, Tags: []string{"STREAMING"}}, model.PriorityLow, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dep := tt.dep
			assert.Equal(t, tt.want, DerivePriority(&dep))
			assert.Equal(t, tt.dynamic, UsesDynamicProbe(&dep))
		})
	}
}
