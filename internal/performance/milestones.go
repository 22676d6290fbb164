package performance

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Milestone status constants
const (
	MilestoneCompleted = "completed"
	MilestoneUpcoming  = "upcoming"
)

// Milestone is a portfolio value target
type Milestone struct {
	Amount decimal.Decimal `json:"amount" toml:"amount"`
	Label  string          `json:"label" toml:"label"`
	Status string          `json:"status,omitempty" toml:"-"`
}

// MilestoneReport is progress toward a set of milestones
type MilestoneReport struct {
	CurrentValue      decimal.Decimal `json:"current_value"`
	Milestones        []Milestone     `json:"milestones"`
	Next              *Milestone      `json:"next_milestone,omitempty"`
	CompletedCount    int             `json:"completed_count"`
	TotalCount        int             `json:"total_count"`
	ProgressPct       decimal.Decimal `json:"progress_pct"`
	FinalGoalAmount   decimal.Decimal `json:"final_goal_amount"`
	FinalGoalProgress decimal.Decimal `json:"final_goal_progress_pct"`
	Completed         bool            `json:"completed"`
	// Complete is false when CurrentValue leaves out unpriced tickers
	Complete bool     `json:"complete"`
	Unpriced []string `json:"unpriced,omitempty"`
}

// Milestones marks each target completed once value reaches it. Targets are
// reported in ascending order; final goal progress is capped at 100%.
func Milestones(value decimal.Decimal, targets []Milestone) MilestoneReport {
	ms := make([]Milestone, len(targets))
	copy(ms, targets)
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Amount.LessThan(ms[j].Amount) })

	r := MilestoneReport{CurrentValue: value, TotalCount: len(ms)}
	for i := range ms {
		if value.GreaterThanOrEqual(ms[i].Amount) {
			ms[i].Status = MilestoneCompleted
			r.CompletedCount++
			continue
		}
		ms[i].Status = MilestoneUpcoming
		if r.Next == nil {
			next := ms[i]
			r.Next = &next
		}
	}
	r.Milestones = ms
	r.Completed = r.CompletedCount == r.TotalCount

	if r.TotalCount == 0 {
		return r
	}
	r.ProgressPct = decimal.NewFromInt(int64(r.CompletedCount)).Div(decimal.NewFromInt(int64(r.TotalCount))).Mul(hundred)

	final := ms[len(ms)-1].Amount
	r.FinalGoalAmount = final
	if final.IsPositive() {
		r.FinalGoalProgress = decimal.Min(value.Div(final).Mul(hundred), hundred)
	}
	return r
}
