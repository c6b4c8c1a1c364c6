package flow

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/zapflowhq/zapflow/internal/models"
)

// EvaluateCondition evaluates a condition node against the conversation's
// variables and the latest inbound message. The compared value is read from
// the variable named in the node data (default user_message); when that
// variable is empty or unset, the raw latest message is used instead.
//
// String operators compare case-insensitive and trimmed. Numeric operators
// parse both sides as floats; a side that does not parse makes the condition
// false.
func EvaluateCondition(data models.NodeData, conv *models.Conversation, latestMessage string) bool {
	varName := data.Variable
	if varName == "" {
		varName = models.VarUserMessage
	}
	actual := conv.Variable(varName)
	if actual == "" {
		actual = latestMessage
	}

	left := strings.ToLower(strings.TrimSpace(actual))
	right := strings.ToLower(strings.TrimSpace(data.Value))

	switch data.Operator {
	case models.OperatorEquals:
		return left == right
	case models.OperatorContains:
		return strings.Contains(left, right)
	case models.OperatorStartsWith:
		return strings.HasPrefix(left, right)
	case models.OperatorEndsWith:
		return strings.HasSuffix(left, right)
	case models.OperatorGreaterThan:
		a, errA := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(data.Value), 64)
		if errA != nil || errB != nil {
			return false
		}
		return a > b
	case models.OperatorLessThan:
		a, errA := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(data.Value), 64)
		if errA != nil || errB != nil {
			return false
		}
		return a < b
	default:
		slog.Warn("EvaluateCondition: unknown operator", "operator", data.Operator)
		return false
	}
}

// containsKeyword reports whether text contains the keyword, case-insensitive.
// An empty keyword never matches.
func containsKeyword(text, keyword string) bool {
	if keyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
}
