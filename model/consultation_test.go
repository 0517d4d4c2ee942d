package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Status("draft").Valid())
	assert.False(t, Status("").Valid())
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))

			got, err := tt.from.Transition(tt.to)
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, got)
			} else {
				assert.True(t, errors.Is(err, ErrIllegalTransition))
				assert.Equal(t, tt.from, got)
			}
		})
	}
}

func TestGenerateConsultationNumber_FirstOfDay(t *testing.T) {
	db := setupTestDB(t, "consultation_number_first", &Consultation{})

	day := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	number, err := GenerateConsultationNumber(db, day)
	assert.NoError(t, err)
	assert.Equal(t, "C202501150001", number)
}

func TestGenerateConsultationNumber_Sequence(t *testing.T) {
	db := setupTestDB(t, "consultation_number_seq", &Consultation{})

	day := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	for _, n := range []string{"C202501150001", "C202501150002", "C202501140009"} {
		assert.NoError(t, db.Create(&Consultation{ConsultationNumber: n, Status: StatusPending}).Error)
	}

	number, err := GenerateConsultationNumber(db, day)
	assert.NoError(t, err)
	assert.Equal(t, "C202501150003", number)
}

func TestConsultation_IntakeRoundTrip(t *testing.T) {
	db := setupTestDB(t, "consultation_intake", &Consultation{})

	c := Consultation{
		ConsultationNumber: "C202501150001",
		Status:             StatusPending,
		IntakeRecord: IntakeRecord{
			PatientName:    "张三",
			Age:            45,
			ChiefComplaint: "胃脘胀痛",
			TongueBody:     "淡红",
			TongueCoating:  "薄白",
			Pulse:          "弦",
		},
	}
	assert.NoError(t, db.Create(&c).Error)

	var found Consultation
	assert.NoError(t, db.First(&found, c.ID).Error)
	assert.Equal(t, StatusPending, found.Status)
	assert.Equal(t, "张三", found.PatientName)
	assert.Equal(t, "弦", found.Pulse)
}
