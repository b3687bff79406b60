package audit

import (
	"fmt"
	"strings"
)

// Report renders the plan as a human-readable summary. Unmatched and
// ambiguous items are listed explicitly, never silently omitted.
func (p *Plan) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== POSITION AUDIT REPORT ===\n")
	fmt.Fprintf(&b, "Generated: %s (lookback %d days)\n\n", p.GeneratedAt.Format("2006-01-02 15:04:05 MST"), p.LookbackDays)

	fmt.Fprintf(&b, "Positions audited: %d\n", p.PositionsAudited)
	fmt.Fprintf(&b, "  states agree:       %d\n", p.StatesAgree)
	fmt.Fprintf(&b, "  accepted closed:    %d (opening order beyond lookback)\n", p.AcceptedClosed)
	fmt.Fprintf(&b, "  corrections:        %d\n", len(p.Corrections))
	fmt.Fprintf(&b, "  manual review:      %d\n", len(p.ManualReview))
	fmt.Fprintf(&b, "  unaccounted legs:   %d\n\n", len(p.UnaccountedLegs))

	if len(p.Corrections) > 0 {
		fmt.Fprintf(&b, "PROPOSED CORRECTIONS (no changes have been applied):\n")
		for i, c := range p.Corrections {
			fmt.Fprintf(&b, "  %d. position %s (%s): %s -> %s [%s] legs %d/%d open",
				i+1, c.PositionID, c.Underlying, c.CurrentState, c.CorrectState, c.Action, c.LegsOpen, c.LegsTotal)
			if c.FollowUp != "" {
				fmt.Fprintf(&b, " (follow-up: %s)", c.FollowUp)
			}
			fmt.Fprintf(&b, "\n")
		}
		fmt.Fprintf(&b, "\n")
	}

	if len(p.ManualReview) > 0 {
		fmt.Fprintf(&b, "MANUAL REVIEW REQUIRED:\n")
		for i, c := range p.ManualReview {
			fmt.Fprintf(&b, "  %d. position %s (%s) in state %s: %s\n",
				i+1, c.PositionID, c.Underlying, c.CurrentState, c.Note)
		}
		fmt.Fprintf(&b, "\n")
	}

	if len(p.UnaccountedLegs) > 0 {
		fmt.Fprintf(&b, "UNACCOUNTED BROKER LEGS (manually placed or unmatchable):\n")
		expiration := ""
		for _, leg := range p.UnaccountedLegs {
			if leg.Expiration != expiration {
				expiration = leg.Expiration
				fmt.Fprintf(&b, "  expiring %s:\n", expiration)
			}
			fmt.Fprintf(&b, "    %-22s qty %+.0f\n", leg.OCCSymbol, leg.Quantity)
		}
		fmt.Fprintf(&b, "\n")
	}

	if !p.HasFindings() {
		fmt.Fprintf(&b, "No discrepancies detected.\n")
	}

	return b.String()
}
