package flow

import (
	"testing"

	"github.com/zapflowhq/zapflow/internal/models"
)

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name     string
		data     models.NodeData
		vars     map[string]string
		latest   string
		expected bool
	}{
		{
			name:     "contains matches case-insensitive",
			data:     models.NodeData{Operator: models.OperatorContains, Value: "sim"},
			latest:   "Sim, quero!",
			expected: true,
		},
		{
			name:     "contains miss",
			data:     models.NodeData{Operator: models.OperatorContains, Value: "sim"},
			latest:   "não, obrigado",
			expected: false,
		},
		{
			name:     "equals trims and ignores case",
			data:     models.NodeData{Operator: models.OperatorEquals, Value: "SIM"},
			latest:   "  sim  ",
			expected: true,
		},
		{
			name:     "startsWith",
			data:     models.NodeData{Operator: models.OperatorStartsWith, Value: "quero"},
			latest:   "Quero saber mais",
			expected: true,
		},
		{
			name:     "endsWith",
			data:     models.NodeData{Operator: models.OperatorEndsWith, Value: "mais"},
			latest:   "quero saber MAIS",
			expected: true,
		},
		{
			name:     "greaterThan numeric",
			data:     models.NodeData{Operator: models.OperatorGreaterThan, Value: "18"},
			latest:   "25",
			expected: true,
		},
		{
			name:     "greaterThan non-numeric input is false",
			data:     models.NodeData{Operator: models.OperatorGreaterThan, Value: "18"},
			latest:   "vinte e cinco",
			expected: false,
		},
		{
			name:     "lessThan non-numeric value is false",
			data:     models.NodeData{Operator: models.OperatorLessThan, Value: "abc"},
			latest:   "10",
			expected: false,
		},
		{
			name:     "named variable takes precedence over latest message",
			data:     models.NodeData{Variable: "idade", Operator: models.OperatorGreaterThan, Value: "18"},
			vars:     map[string]string{"idade": "30"},
			latest:   "5",
			expected: true,
		},
		{
			name:     "unset variable falls back to latest message",
			data:     models.NodeData{Variable: "idade", Operator: models.OperatorEquals, Value: "sim"},
			latest:   "sim",
			expected: true,
		},
		{
			name:     "unknown operator is false",
			data:     models.NodeData{Operator: "matches", Value: "x"},
			latest:   "x",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := &models.Conversation{Variables: tt.vars}
			if got := EvaluateCondition(tt.data, conv, tt.latest); got != tt.expected {
				t.Errorf("EvaluateCondition() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestContainsKeyword(t *testing.T) {
	if !containsKeyword("Quero falar com ATENDENTE agora", "atendente") {
		t.Error("expected case-insensitive keyword match")
	}
	if containsKeyword("qualquer coisa", "") {
		t.Error("empty keyword must never match")
	}
}
