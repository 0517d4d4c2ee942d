package model

import (
	"fmt"
	"strconv"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultPrescriptionName   = "中医处方"
	DefaultHerbUnit           = "克"
	DefaultDurationDays       = 7
	DefaultDosageInstructions = "每日一剂，水煎服，分两次温服"
	DefaultPreparationMethod  = "先煎后下，文火煎煮30分钟"
)

// Herb is one ingredient line of a prescription.
type Herb struct {
	Name   string  `json:"name" example:"柴胡"`
	Dosage float64 `json:"dosage" example:"10"`
	Unit   string  `json:"unit" example:"g"`
}

// Prescription is the herbal formula extracted from a model reply.
// @Description Prescription extracted from the model reply
type Prescription struct {
	gorm.Model
	ConsultationID     uint                      `json:"consultation_id" gorm:"not null;uniqueIndex" example:"1"`
	DiagnosisID        uint                      `json:"diagnosis_id" gorm:"index" example:"1"`
	PrescriptionName   string                    `json:"prescription_name" gorm:"type:varchar(255);not null" example:"逍遥散加减"`
	Herbs              datatypes.JSONSlice[Herb] `json:"herbs"`
	DosageInstructions string                    `json:"dosage_instructions" gorm:"type:text"`
	PreparationMethod  string                    `json:"preparation_method" gorm:"type:text"`
	DurationDays       int                       `json:"duration_days" example:"7"`
	Modifications      string                    `json:"modifications" gorm:"type:text"`
	Contraindications  string                    `json:"contraindications" gorm:"type:text"`
	Notes              string                    `json:"notes" gorm:"type:text"`
}

// NewPrescription returns a prescription carrying the free-text defaults.
func NewPrescription() Prescription {
	return Prescription{
		Herbs:              datatypes.JSONSlice[Herb]{},
		DosageInstructions: DefaultDosageInstructions,
		PreparationMethod:  DefaultPreparationMethod,
		DurationDays:       DefaultDurationDays,
	}
}

// BeforeSave keeps herbs a JSON array and the name non-empty.
func (p *Prescription) BeforeSave(tx *gorm.DB) error {
	p.ensureDefaults()
	return nil
}

// AfterFind keeps herbs non-nil for rows stored as JSON null.
func (p *Prescription) AfterFind(tx *gorm.DB) error {
	if p.Herbs == nil {
		p.Herbs = datatypes.JSONSlice[Herb]{}
	}
	return nil
}

func (p *Prescription) ensureDefaults() {
	if p.Herbs == nil {
		p.Herbs = datatypes.JSONSlice[Herb]{}
	}
	if strings.TrimSpace(p.PrescriptionName) == "" {
		p.PrescriptionName = DefaultPrescriptionName
	}
}

// TotalDosage sums the dosage of every herb.
func (p *Prescription) TotalDosage() float64 {
	var total float64
	for _, h := range p.Herbs {
		total += h.Dosage
	}
	return total
}

func (p *Prescription) HerbCount() int {
	return len(p.Herbs)
}

// AddHerb appends a herb. An empty unit falls back to DefaultHerbUnit.
func (p *Prescription) AddHerb(name string, dosage float64, unit string) {
	if unit == "" {
		unit = DefaultHerbUnit
	}
	p.Herbs = append(p.Herbs, Herb{Name: name, Dosage: dosage, Unit: unit})
}

// RemoveHerb drops every herb named name and reports whether any was removed.
func (p *Prescription) RemoveHerb(name string) bool {
	kept := make(datatypes.JSONSlice[Herb], 0, len(p.Herbs))
	for _, h := range p.Herbs {
		if h.Name != name {
			kept = append(kept, h)
		}
	}
	removed := len(kept) != len(p.Herbs)
	p.Herbs = kept
	return removed
}

// UpdateHerbDosage changes the dosage of the first herb named name.
func (p *Prescription) UpdateHerbDosage(name string, dosage float64) bool {
	for i := range p.Herbs {
		if p.Herbs[i].Name == name {
			p.Herbs[i].Dosage = dosage
			return true
		}
	}
	return false
}

// FormattedText renders the prescription for printing.
func (p *Prescription) FormattedText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "【方剂名称】%s\n\n", p.PrescriptionName)

	b.WriteString("【药物组成】\n")
	for _, h := range p.Herbs {
		unit := h.Unit
		if unit == "" {
			unit = DefaultHerbUnit
		}
		fmt.Fprintf(&b, "  %s %s%s\n", h.Name, strconv.FormatFloat(h.Dosage, 'f', -1, 64), unit)
	}

	fmt.Fprintf(&b, "\n【用法用量】%s\n", p.DosageInstructions)
	fmt.Fprintf(&b, "【煎服方法】%s\n", p.PreparationMethod)
	fmt.Fprintf(&b, "【服用天数】%d天\n", p.DurationDays)

	if p.Modifications != "" {
		fmt.Fprintf(&b, "\n【加减变化】\n%s\n", p.Modifications)
	}
	if p.Contraindications != "" {
		fmt.Fprintf(&b, "\n【禁忌事项】\n%s\n", p.Contraindications)
	}
	if p.Notes != "" {
		fmt.Fprintf(&b, "\n【备注】\n%s\n", p.Notes)
	}
	return b.String()
}
