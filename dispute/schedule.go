package dispute

import (
	"errors"
	"fmt"
	"time"

	"disputeflow/strategy"
)

var ErrInvalidSchedule = errors.New("dispute: invalid follow-up schedule")

// Schedule holds the follow-up offsets, in days after sending.
type Schedule struct {
	StatusCheckDays    int
	FollowUpLetterDays int
	EscalationDays     int
	// ResponseWindowDays is how long a recipient has before silence counts
	// as no_response.
	ResponseWindowDays int
}

func DefaultSchedule() Schedule {
	return Schedule{
		StatusCheckDays:    15,
		FollowUpLetterDays: 35,
		EscalationDays:     45,
		ResponseWindowDays: 30,
	}
}

// Validate requires positive, strictly increasing offsets.
func (s Schedule) Validate() error {
	if s.StatusCheckDays <= 0 || s.ResponseWindowDays <= 0 {
		return fmt.Errorf("%w: offsets must be positive", ErrInvalidSchedule)
	}
	if !(s.StatusCheckDays < s.FollowUpLetterDays && s.FollowUpLetterDays < s.EscalationDays) {
		return fmt.Errorf("%w: status check (%d) < follow-up letter (%d) < escalation (%d) required",
			ErrInvalidSchedule, s.StatusCheckDays, s.FollowUpLetterDays, s.EscalationDays)
	}
	return nil
}

// FollowUps builds the reminders created when an execution is sent.
// Verification-challenge strategies get a method-of-verification request in
// place of the generic follow-up letter.
func (s Schedule) FollowUps(executionID string, class strategy.Class, sentAt time.Time, newID func() string) []FollowUp {
	letterType := FollowUpLetter
	letterDesc := "Send a follow-up letter if no response has arrived"
	if class == strategy.ClassVerificationChallenge {
		letterType = FollowUpMOVRequest
		letterDesc = "Request the method of verification if no response has arrived"
	}

	return []FollowUp{
		{
			ID:           newID(),
			ExecutionID:  executionID,
			Type:         FollowUpStatusCheck,
			ScheduledFor: sentAt.AddDate(0, 0, s.StatusCheckDays),
			Description:  "Check whether the recipient has responded",
			Automatable:  true,
			Status:       FollowUpScheduled,
		},
		{
			ID:           newID(),
			ExecutionID:  executionID,
			Type:         letterType,
			ScheduledFor: sentAt.AddDate(0, 0, s.FollowUpLetterDays),
			Description:  letterDesc,
			Automatable:  true,
			Status:       FollowUpScheduled,
		},
		{
			ID:           newID(),
			ExecutionID:  executionID,
			Type:         FollowUpEscalation,
			ScheduledFor: sentAt.AddDate(0, 0, s.EscalationDays),
			Description:  "Escalate: the response ceiling has passed",
			Automatable:  false,
			Status:       FollowUpScheduled,
		},
	}
}

// windowElapsed reports whether the response window after sentAt has closed at asOf.
func (s Schedule) windowElapsed(sentAt *time.Time, asOf time.Time) bool {
	if sentAt == nil {
		return false
	}
	return !asOf.Before(sentAt.AddDate(0, 0, s.ResponseWindowDays))
}
