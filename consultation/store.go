package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ariebrainware/tcm-diagnosis/model"
)

// Store is the gorm-backed Repository. Status changes are conditional
// updates on the current status so concurrent callers cannot both win.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the tables the lifecycle needs.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&model.Consultation{}, &model.Diagnosis{}, &model.Prescription{})
}

// Create numbers c and inserts it as pending.
func (s *Store) Create(ctx context.Context, c *model.Consultation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := model.GenerateConsultationNumber(tx, time.Now())
		if err != nil {
			return err
		}
		c.ConsultationNumber = number
		c.Status = model.StatusPending
		return tx.Create(c).Error
	})
}

func (s *Store) Get(ctx context.Context, id uint) (*model.Consultation, error) {
	var c model.Consultation
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// transition moves id from one status to another, applying extra columns.
// When no row matches, the error tells a missing row from a wrong status.
func (s *Store) transition(tx *gorm.DB, id uint, from, to model.Status, extra map[string]interface{}) error {
	if _, err := from.Transition(to); err != nil {
		return err
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(&model.Consultation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var c model.Consultation
		if err := tx.Select("id", "status").First(&c, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return fmt.Errorf("%w: consultation %d is %s, not %s", model.ErrIllegalTransition, id, c.Status, from)
	}
	return nil
}

// Claim moves a pending consultation to processing.
func (s *Store) Claim(ctx context.Context, id uint, at time.Time) (*model.Consultation, error) {
	err := s.transition(s.db.WithContext(ctx), id, model.StatusPending, model.StatusProcessing, map[string]interface{}{
		"submitted_at":   at,
		"failure_reason": "",
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Commit stores both records and completes the consultation in a single
// transaction. Nothing is kept if any step fails.
func (s *Store) Commit(ctx context.Context, id uint, d *model.Diagnosis, p *model.Prescription, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d.ConsultationID = id
		if err := tx.Create(d).Error; err != nil {
			return fmt.Errorf("failed to save diagnosis: %w", err)
		}
		p.ConsultationID = id
		p.DiagnosisID = d.ID
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("failed to save prescription: %w", err)
		}
		return s.transition(tx, id, model.StatusProcessing, model.StatusCompleted, map[string]interface{}{
			"completed_at": at,
		})
	})
}

// MarkFailed moves a processing consultation to failed.
func (s *Store) MarkFailed(ctx context.Context, id uint, reason string) error {
	return s.transition(s.db.WithContext(ctx), id, model.StatusProcessing, model.StatusFailed, map[string]interface{}{
		"failure_reason": reason,
	})
}

// Reset moves a failed consultation back to pending.
func (s *Store) Reset(ctx context.Context, id uint) error {
	return s.transition(s.db.WithContext(ctx), id, model.StatusFailed, model.StatusPending, nil)
}

func (s *Store) Diagnosis(ctx context.Context, consultationID uint) (*model.Diagnosis, error) {
	var d model.Diagnosis
	if err := s.db.WithContext(ctx).Where("consultation_id = ?", consultationID).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) Prescription(ctx context.Context, consultationID uint) (*model.Prescription, error) {
	var p model.Prescription
	if err := s.db.WithContext(ctx).Where("consultation_id = ?", consultationID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateConfidence(ctx context.Context, d *model.Diagnosis, score float64) error {
	return d.UpdateConfidenceScore(s.db.WithContext(ctx), score)
}

func (s *Store) SaveHerbs(ctx context.Context, p *model.Prescription) error {
	return s.db.WithContext(ctx).Model(p).Update("herbs", p.Herbs).Error
}
