package lots

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trogers1052/portfolio-service/internal/models"
)

// Method selects which open lots a SELL consumes first
type Method string

// Matching method constants
const (
	FIFO       Method = "FIFO"
	LIFO       Method = "LIFO"
	SpecificID Method = "SPECIFIC_ID"
)

// ParseMethod parses a matching method name
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	switch m {
	case FIFO, LIFO, SpecificID:
		return m, nil
	case "":
		return FIFO, nil
	default:
		return "", fmt.Errorf("unknown matching method: %q", s)
	}
}

// Matcher orders open lots for consumption by a SELL. The tracker consumes
// lots in the returned index order until the sell quantity is exhausted.
type Matcher interface {
	Method() Method
	Order(open []models.Lot, sell models.Transaction) ([]int, error)
}

// NewMatcher returns the matcher for a method
func NewMatcher(m Method) (Matcher, error) {
	switch m {
	case FIFO, "":
		return fifo{}, nil
	case LIFO:
		return lifo{}, nil
	case SpecificID:
		return specificID{}, nil
	default:
		return nil, fmt.Errorf("unknown matching method: %q", m)
	}
}

type fifo struct{}

func (fifo) Method() Method { return FIFO }

func (fifo) Order(open []models.Lot, _ models.Transaction) ([]int, error) {
	return byAge(open, false), nil
}

type lifo struct{}

func (lifo) Method() Method { return LIFO }

func (lifo) Order(open []models.Lot, _ models.Transaction) ([]int, error) {
	return byAge(open, true), nil
}

// specificID consumes the lots named on the SELL, in the order named. A SELL
// naming no lots falls back to FIFO.
type specificID struct{}

func (specificID) Method() Method { return SpecificID }

func (specificID) Order(open []models.Lot, sell models.Transaction) ([]int, error) {
	if len(sell.LotIDs) == 0 {
		return byAge(open, false), nil
	}

	index := make(map[string]int, len(open))
	for i, l := range open {
		index[l.OpenedBy] = i
	}

	seen := make(map[string]bool, len(sell.LotIDs))
	order := make([]int, 0, len(sell.LotIDs))
	for _, id := range sell.LotIDs {
		if seen[id] {
			return nil, &models.ValidationError{TransactionID: sell.ID, Field: "lot_ids", Reason: fmt.Sprintf("lot %s named twice", id)}
		}
		seen[id] = true

		i, ok := index[id]
		if !ok {
			return nil, &models.ValidationError{TransactionID: sell.ID, Field: "lot_ids", Reason: fmt.Sprintf("no open lot %s", id)}
		}
		order = append(order, i)
	}
	return order, nil
}

func byAge(open []models.Lot, newestFirst bool) []int {
	order := make([]int, len(open))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		la, lb := open[order[a]], open[order[b]]
		if newestFirst {
			return openedBefore(lb, la)
		}
		return openedBefore(la, lb)
	})
	return order
}

func openedBefore(a, b models.Lot) bool {
	if !a.OpenedAt.Equal(b.OpenedAt) {
		return a.OpenedAt.Before(b.OpenedAt)
	}
	return a.Sequence < b.Sequence
}
