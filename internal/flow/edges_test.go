package flow

import (
	"testing"

	"github.com/zapflowhq/zapflow/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func TestNextNodeIDConditionSourceHandle(t *testing.T) {
	// The false edge comes first in the array; routing must follow the
	// sourceHandle label, not array order.
	fd := &models.FlowData{
		Nodes: []models.Node{
			{ID: "cond", Type: models.NodeTypeCondition},
			{ID: "yes", Type: models.NodeTypeMessage},
			{ID: "no", Type: models.NodeTypeMessage},
		},
		Edges: []models.Edge{
			{ID: "e2", From: "cond", To: "no", SourceHandle: "false"},
			{ID: "e1", From: "cond", To: "yes", SourceHandle: "true"},
		},
	}

	if got := NextNodeID(fd, "cond", boolPtr(true)); got != "yes" {
		t.Errorf("true branch: got %q, want %q", got, "yes")
	}
	if got := NextNodeID(fd, "cond", boolPtr(false)); got != "no" {
		t.Errorf("false branch: got %q, want %q", got, "no")
	}
}

func TestNextNodeIDConditionLexicographicFallback(t *testing.T) {
	// Without sourceHandle labels, the lexicographically smaller edge id is
	// the true branch and the second the false branch.
	fd := &models.FlowData{
		Edges: []models.Edge{
			{ID: "edge-b", From: "cond", To: "second"},
			{ID: "edge-a", From: "cond", To: "first"},
		},
	}

	if got := NextNodeID(fd, "cond", boolPtr(true)); got != "first" {
		t.Errorf("true branch: got %q, want %q", got, "first")
	}
	if got := NextNodeID(fd, "cond", boolPtr(false)); got != "second" {
		t.Errorf("false branch: got %q, want %q", got, "second")
	}
}

func TestNextNodeIDConditionSingleUnlabeledEdge(t *testing.T) {
	fd := &models.FlowData{
		Edges: []models.Edge{
			{ID: "e1", From: "cond", To: "only"},
		},
	}

	if got := NextNodeID(fd, "cond", boolPtr(true)); got != "only" {
		t.Errorf("true branch: got %q, want %q", got, "only")
	}
	if got := NextNodeID(fd, "cond", boolPtr(false)); got != "" {
		t.Errorf("false branch with one edge: got %q, want empty", got)
	}
}

func TestNextNodeIDPlain(t *testing.T) {
	fd := &models.FlowData{
		Edges: []models.Edge{
			{ID: "e1", From: "a", To: "b"},
			{ID: "e2", From: "a", To: "c"},
		},
	}
	if got := NextNodeID(fd, "a", nil); got != "b" {
		t.Errorf("got %q, want first edge target %q", got, "b")
	}
	if got := NextNodeID(fd, "b", nil); got != "" {
		t.Errorf("node without edges: got %q, want empty", got)
	}
}

func TestNextNodeIDLegacyNextFallback(t *testing.T) {
	fd := &models.FlowData{
		Nodes: []models.Node{
			{ID: "a", Type: models.NodeTypeMessage, Next: []string{"b", "c"}},
		},
	}
	if got := NextNodeID(fd, "a", nil); got != "b" {
		t.Errorf("got %q, want legacy next %q", got, "b")
	}
}
