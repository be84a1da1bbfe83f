// Package grades computes attendance-adjusted grade metrics for an
// enrollment. The arithmetic is pure; persistence stays in the datastore.
package grades

import (
	"math"

	"github.com/classtrack/classtrack-go/internal/datastore"
)

// PenaltyPerAbsentHour is deducted from the raw total for every hour of
// recorded absence.
const PenaltyPerAbsentHour = 0.25

// FixedAtRiskAbsentHours is the course-independent absence ceiling used by
// the legacy at-risk flag.
const FixedAtRiskAbsentHours = 8.0

// PassingTotal is the adjusted-total floor below which a student is at risk.
const PassingTotal = 60.0

// Metrics summarizes one enrollment's standing.
type Metrics struct {
	RawTotal          float64 `json:"raw_total"`
	HoursAbsentTotal  float64 `json:"hours_absent_total"`
	AttendancePenalty float64 `json:"attendance_penalty"`
	AdjustedTotal     float64 `json:"adjusted_total"`
	AtRisk            bool    `json:"at_risk"`
	AtRiskByPolicy    bool    `json:"at_risk_by_policy"`
}

// Compute derives the grade metrics for an enrollment under the course's
// absence policy. AtRisk applies the fixed absence ceiling; AtRiskByPolicy
// applies the per-course maximum, so the two can disagree.
func Compute(enrollment *datastore.Enrollment, maxAllowedAbsentHours int) Metrics {
	raw := enrollment.Quiz1 + enrollment.Quiz2 +
		enrollment.ProjectGrade + enrollment.AssignmentGrade +
		enrollment.MidtermGrade + enrollment.FinalExamGrade

	penalty := enrollment.HoursAbsentTotal * PenaltyPerAbsentHour
	adjusted := raw - penalty
	if adjusted < 0 {
		adjusted = 0
	}

	return Metrics{
		RawTotal:          round2(raw),
		HoursAbsentTotal:  round2(enrollment.HoursAbsentTotal),
		AttendancePenalty: round2(penalty),
		AdjustedTotal:     round2(adjusted),
		AtRisk:            adjusted < PassingTotal || enrollment.HoursAbsentTotal >= FixedAtRiskAbsentHours,
		AtRiskByPolicy:    adjusted < PassingTotal || enrollment.HoursAbsentTotal >= float64(maxAllowedAbsentHours),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
