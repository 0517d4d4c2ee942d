package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Status is the lifecycle state of a consultation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrIllegalTransition is returned when a status change is not allowed.
var ErrIllegalTransition = errors.New("illegal status transition")

// transitions lists the states reachable from each state. failed -> pending is
// only taken by an explicit re-submission.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending},
}

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the diagnosis pipeline is done with s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next when the move from s is legal.
func (s Status) Transition(next Status) (Status, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return next, nil
}

// IntakeRecord is the clinical questionnaire captured before diagnosis.
type IntakeRecord struct {
	PatientName    string  `json:"patient_name" gorm:"type:varchar(100)" example:"张三"`
	Age            int     `json:"age" example:"45"`
	Gender         string  `json:"gender" gorm:"type:varchar(8)" example:"男"`
	Height         float64 `json:"height" example:"172"`
	Weight         float64 `json:"weight" example:"68"`
	ChiefComplaint string  `json:"chief_complaint" gorm:"type:text" example:"反复胃脘胀痛三月"`
	PresentIllness string  `json:"present_illness" gorm:"type:text"`
	PastHistory    string  `json:"past_history" gorm:"type:text"`
	FamilyHistory  string  `json:"family_history" gorm:"type:text"`

	// Inspection
	Complexion string `json:"complexion" gorm:"type:varchar(50)"`
	Spirit     string `json:"spirit" gorm:"type:varchar(50)"`
	BodyShape  string `json:"body_shape" gorm:"type:varchar(50)"`

	// Tongue
	TongueBody    string `json:"tongue_body" gorm:"type:varchar(50)"`
	TongueCoating string `json:"tongue_coating" gorm:"type:varchar(50)"`

	// Pulse
	Pulse string `json:"pulse" gorm:"type:varchar(100)"`

	// Auscultation and olfaction
	Voice  string `json:"voice" gorm:"type:varchar(100)"`
	Breath string `json:"breath" gorm:"type:varchar(100)"`

	// Inquiry
	Sleep    string `json:"sleep" gorm:"type:varchar(100)"`
	Appetite string `json:"appetite" gorm:"type:varchar(100)"`
	Bowel    string `json:"bowel" gorm:"type:varchar(100)"`
	Urine    string `json:"urine" gorm:"type:varchar(100)"`
}

// Consultation tracks one intake-to-diagnosis cycle.
type Consultation struct {
	gorm.Model
	ConsultationNumber string     `json:"consultation_number" gorm:"type:varchar(32);uniqueIndex" example:"C202501150001"`
	Status             Status     `json:"status" gorm:"type:varchar(16);not null;index" example:"pending"`
	FailureReason      string     `json:"failure_reason,omitempty" gorm:"type:text"`
	SubmittedAt        *time.Time `json:"submitted_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	IntakeRecord       `gorm:"embedded"`
}

const consultationNumberPrefix = "C"

// GenerateConsultationNumber returns the next number for the day of now,
// formatted as C + YYYYMMDD + 4-digit sequence.
func GenerateConsultationNumber(db *gorm.DB, now time.Time) (string, error) {
	prefix := consultationNumberPrefix + now.Format("20060102")

	var last Consultation
	err := db.Unscoped().
		Select("consultation_number").
		Where("consultation_number LIKE ?", prefix+"%").
		Order("consultation_number DESC").
		Take(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to look up consultation number: %w", err)
	}

	next := 1
	if last.ConsultationNumber != "" {
		seq, convErr := strconv.Atoi(strings.TrimPrefix(last.ConsultationNumber, prefix))
		if convErr == nil {
			next = seq + 1
		}
	}
	return fmt.Sprintf("%s%04d", prefix, next), nil
}
