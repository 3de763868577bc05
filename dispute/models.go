package dispute

import (
	"fmt"
	"strings"
	"time"
)

// Choice is a single vote direction.
type Choice string

const (
	ChoiceFor     Choice = "FOR"
	ChoiceAgainst Choice = "AGAINST"
)

// ParseChoice maps the wire values "for"/"against" to a Choice.
func ParseChoice(raw string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "for":
		return ChoiceFor, nil
	case "against":
		return ChoiceAgainst, nil
	default:
		return "", fmt.Errorf("dispute: unknown vote %q", raw)
	}
}

// Outcome is the terminal result of a resolved dispute.
type Outcome string

const (
	OutcomeFor     Outcome = "FOR"
	OutcomeAgainst Outcome = "AGAINST"
	OutcomeTied    Outcome = "TIED"
)

// TallyOutcome computes the majority outcome from a vote count. Resolution
// is a plain majority: no quorum, no weighting by stake or reputation.
func TallyOutcome(forVotes, againstVotes int) Outcome {
	switch {
	case forVotes > againstVotes:
		return OutcomeFor
	case againstVotes > forVotes:
		return OutcomeAgainst
	default:
		return OutcomeTied
	}
}

// Vote mirrors the dispute_votes table. Rows are append-only and unique per
// (dispute_id, user_id).
type Vote struct {
	DisputeID string
	UserID    string
	Choice    Choice
	CreatedAt time.Time
}

// Dispute mirrors the disputes table. Outcome stays nil until resolution,
// which happens exactly once. A resolved dispute is advisory: it does not
// rewind the invoice's escrow status.
type Dispute struct {
	ID         string
	InvoiceID  string
	OpenerID   string
	Reason     string
	Resolved   bool
	Outcome    *Outcome
	Votes      []Vote
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}
