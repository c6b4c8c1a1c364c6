// Package flow implements the chatbot flow-execution engine: a graph
// interpreter that advances persisted conversations across stateless webhook
// invocations.
package flow

import (
	"sort"
	"strconv"

	"github.com/zapflowhq/zapflow/internal/models"
)

// NextNodeID resolves the node following nodeID. For condition nodes the
// caller passes the evaluation result in conditionResult; outgoing edges are
// matched on sourceHandle "true"/"false". When no edge carries a matching
// sourceHandle, edges sorted lexicographically by id serve as fallback: the
// smallest id is the true branch, the second the false branch.
//
// For all other nodes the first outgoing edge in definition order wins. When
// no edge resolves, the node's legacy next list is consulted. An empty return
// means "no next node" and the caller must keep the current position.
func NextNodeID(fd *models.FlowData, nodeID string, conditionResult *bool) string {
	var outgoing []models.Edge
	for _, e := range fd.Edges {
		if e.From == nodeID {
			outgoing = append(outgoing, e)
		}
	}

	if conditionResult != nil {
		want := strconv.FormatBool(*conditionResult)
		for _, e := range outgoing {
			if e.SourceHandle == want {
				return e.To
			}
		}
		// No labeled edge: lexicographic id order decides the branches.
		sort.Slice(outgoing, func(i, j int) bool { return outgoing[i].ID < outgoing[j].ID })
		if *conditionResult && len(outgoing) > 0 {
			return outgoing[0].To
		}
		if !*conditionResult && len(outgoing) > 1 {
			return outgoing[1].To
		}
	} else if len(outgoing) > 0 {
		return outgoing[0].To
	}

	if node := fd.NodeByID(nodeID); node != nil && len(node.Next) > 0 {
		return node.Next[0]
	}
	return ""
}
