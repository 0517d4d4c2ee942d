package model

import (
	"math"

	"gorm.io/gorm"
)

// DefaultConfidenceScore is used when the model does not state a confidence.
const DefaultConfidenceScore = 85.0

const summaryLength = 100

// Diagnosis is the clinical conclusion extracted from a model reply.
// @Description Diagnosis extracted from the model reply
type Diagnosis struct {
	gorm.Model
	ConsultationID     uint    `json:"consultation_id" gorm:"not null;uniqueIndex" example:"1"`
	SyndromeAnalysis   string  `json:"syndrome_analysis" gorm:"type:text"`
	TreatmentPrinciple string  `json:"treatment_principle" gorm:"type:text"`
	DiagnosisResult    string  `json:"diagnosis_result" gorm:"type:text"`
	Suggestions        string  `json:"suggestions" gorm:"type:text"`
	Precautions        string  `json:"precautions" gorm:"type:text"`
	Prognosis          string  `json:"prognosis" gorm:"type:text"`
	ConfidenceScore    float64 `json:"confidence_score" example:"85"`
	RawReply           string  `json:"raw_reply" gorm:"type:longtext"`
}

// ReportSection is one titled block of a diagnosis report.
type ReportSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ClampConfidence bounds a score to [0, 100].
func ClampConfidence(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(100, score))
}

// UpdateConfidenceScore clamps score and re-saves the diagnosis.
func (d *Diagnosis) UpdateConfidenceScore(db *gorm.DB, score float64) error {
	d.ConfidenceScore = ClampConfidence(score)
	return db.Model(d).Update("confidence_score", d.ConfidenceScore).Error
}

// IsEmpty reports whether none of the six text sections were filled.
func (d *Diagnosis) IsEmpty() bool {
	return d.SyndromeAnalysis == "" &&
		d.TreatmentPrinciple == "" &&
		d.DiagnosisResult == "" &&
		d.Suggestions == "" &&
		d.Precautions == "" &&
		d.Prognosis == ""
}

// Summary returns the first 100 characters of the diagnosis result, falling
// back to the syndrome analysis.
func (d *Diagnosis) Summary() string {
	text := d.DiagnosisResult
	if text == "" {
		text = d.SyndromeAnalysis
	}
	runes := []rune(text)
	if len(runes) <= summaryLength {
		return text
	}
	return string(runes[:summaryLength]) + "..."
}

// Sections lists the report blocks in display order.
func (d *Diagnosis) Sections() []ReportSection {
	return []ReportSection{
		{Title: "辩证分析", Content: d.SyndromeAnalysis},
		{Title: "治疗原则", Content: d.TreatmentPrinciple},
		{Title: "诊断结果", Content: d.DiagnosisResult},
		{Title: "医嘱建议", Content: d.Suggestions},
		{Title: "注意事项", Content: d.Precautions},
		{Title: "预后评估", Content: d.Prognosis},
	}
}
