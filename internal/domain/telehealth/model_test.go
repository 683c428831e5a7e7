package telehealth

import (
	"testing"

	"github.com/google/uuid"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusScheduled, StatusStarting},
		{StatusScheduled, StatusCancelled},
		{StatusScheduled, StatusNoShow},
		{StatusScheduled, StatusTechnicalFailure},
		{StatusStarting, StatusActive},
		{StatusStarting, StatusCompleted},
		{StatusStarting, StatusCancelled},
		{StatusActive, StatusPaused},
		{StatusActive, StatusCompleted},
		{StatusActive, StatusCancelled},
		{StatusActive, StatusNoShow},
		{StatusActive, StatusTechnicalFailure},
		{StatusPaused, StatusActive},
		{StatusPaused, StatusCompleted},
		{StatusPaused, StatusTechnicalFailure},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusScheduled, StatusActive},
		{StatusScheduled, StatusPaused},
		{StatusStarting, StatusPaused},
		{StatusStarting, StatusNoShow},
		{StatusActive, StatusScheduled},
		{StatusActive, StatusStarting},
		{StatusPaused, StatusCancelled},
		{StatusPaused, StatusNoShow},
		{StatusCompleted, StatusActive},
		{StatusCancelled, StatusScheduled},
		{StatusNoShow, StatusStarting},
		{StatusTechnicalFailure, StatusActive},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusCancelled, StatusNoShow, StatusTechnicalFailure}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if len(validTransitions[s]) != 0 {
			t.Errorf("%s must have no outgoing transitions", s)
		}
	}
	for _, s := range []Status{StatusScheduled, StatusStarting, StatusActive, StatusPaused} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{
		StatusScheduled, StatusStarting, StatusActive, StatusPaused,
		StatusCompleted, StatusCancelled, StatusNoShow, StatusTechnicalFailure,
	} {
		if !s.Valid() {
			t.Errorf("%s should be a valid status", s)
		}
	}
	if Status("archived").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func TestParticipantOf(t *testing.T) {
	patient, therapist := uuid.New(), uuid.New()
	s := &Session{PatientID: patient, TherapistID: therapist}

	if got := s.ParticipantOf(patient); got != RolePatient {
		t.Errorf("expected patient, got %q", got)
	}
	if got := s.ParticipantOf(therapist); got != RoleTherapist {
		t.Errorf("expected therapist, got %q", got)
	}
	if got := s.ParticipantOf(uuid.New()); got != "" {
		t.Errorf("expected empty role for outsider, got %q", got)
	}
}

func TestQualityStatsTally(t *testing.T) {
	var qs QualityStats
	for _, tier := range []QualityTier{TierExcellent, TierGood, TierGood, TierPoor} {
		qs.Tally(tier)
	}
	if qs.Samples != 4 || qs.Excellent != 1 || qs.Good != 2 || qs.Fair != 0 || qs.Poor != 1 {
		t.Errorf("unexpected tally: %+v", qs)
	}
}

func TestQualityStatsMarshalDB(t *testing.T) {
	var qs *QualityStats
	raw, err := qs.MarshalDB()
	if err != nil || raw != nil {
		t.Errorf("nil stats should marshal to nil, got %v, %v", raw, err)
	}

	qs = &QualityStats{Samples: 1, Good: 1}
	raw, err = qs.MarshalDB()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) == 0 {
		t.Error("expected non-empty json")
	}
}
