// Package consultation runs the diagnosis lifecycle of a consultation:
// pending, then processing, then completed or failed.
package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ariebrainware/tcm-diagnosis/llm"
	"github.com/ariebrainware/tcm-diagnosis/model"
	"github.com/ariebrainware/tcm-diagnosis/parser"
	"github.com/ariebrainware/tcm-diagnosis/prompt"
)

var (
	ErrNotFound         = errors.New("consultation not found")
	ErrAlreadySubmitted = errors.New("consultation already submitted for diagnosis")
	ErrNotRetryable     = errors.New("only failed consultations can be retried")
	ErrNotCompleted     = errors.New("consultation has no completed diagnosis")
	ErrHerbNotFound     = errors.New("herb not found in prescription")
)

// Repository persists consultations and their results.
type Repository interface {
	Create(ctx context.Context, c *model.Consultation) error
	Get(ctx context.Context, id uint) (*model.Consultation, error)
	Claim(ctx context.Context, id uint, at time.Time) (*model.Consultation, error)
	Commit(ctx context.Context, id uint, d *model.Diagnosis, p *model.Prescription, at time.Time) error
	MarkFailed(ctx context.Context, id uint, reason string) error
	Reset(ctx context.Context, id uint) error
	Diagnosis(ctx context.Context, consultationID uint) (*model.Diagnosis, error)
	Prescription(ctx context.Context, consultationID uint) (*model.Prescription, error)
	UpdateConfidence(ctx context.Context, d *model.Diagnosis, score float64) error
	SaveHerbs(ctx context.Context, p *model.Prescription) error
}

// Diagnoser sends a formatted intake to the model.
type Diagnoser interface {
	Send(ctx context.Context, userPrompt string) (*llm.Reply, error)
}

// ReportLinker builds the report reference returned for completed
// consultations.
type ReportLinker interface {
	ReportURL(consultationID uint) (string, error)
}

// StatusView is what pollers see.
type StatusView struct {
	ID                 uint         `json:"id"`
	ConsultationNumber string       `json:"consultation_number"`
	Status             model.Status `json:"status"`
	ReportURL          string       `json:"report_url,omitempty"`
	FailureReason      string       `json:"failure_reason,omitempty"`
}

// Report is the completed diagnosis and prescription of a consultation.
type Report struct {
	Consultation     *model.Consultation   `json:"consultation"`
	Diagnosis        *model.Diagnosis      `json:"diagnosis"`
	Sections         []model.ReportSection `json:"sections"`
	Summary          string                `json:"summary"`
	Prescription     *model.Prescription   `json:"prescription"`
	PrescriptionText string                `json:"prescription_text"`
}

type Service struct {
	repo   Repository
	ai     Diagnoser
	cache  *StatusCache
	linker ReportLinker
	log    zerolog.Logger

	now   func() time.Time
	parse func(reply string) parser.Result
}

// NewService wires the lifecycle. cache and linker may be nil.
func NewService(repo Repository, ai Diagnoser, cache *StatusCache, linker ReportLinker, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		ai:     ai,
		cache:  cache,
		linker: linker,
		log:    logger.With().Str("component", "consultation").Logger(),
		now:    time.Now,
		parse:  parser.Parse,
	}
}

// Create stores a new pending consultation for intake.
func (s *Service) Create(ctx context.Context, intake model.IntakeRecord) (*model.Consultation, error) {
	c := &model.Consultation{IntakeRecord: intake}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create consultation: %w", err)
	}
	s.cacheStatus(ctx, c)
	s.log.Info().Uint("consultation_id", c.ID).Str("number", c.ConsultationNumber).Msg("consultation created")
	return c, nil
}

// StartDiagnosis runs the pipeline for a pending consultation and blocks
// until it completes or fails. A consultation in any other state is left
// alone and ErrAlreadySubmitted is returned without calling the model.
//
// A pipeline failure returns the failed status view together with the
// cause.
func (s *Service) StartDiagnosis(ctx context.Context, id uint) (StatusView, error) {
	c, err := s.repo.Claim(ctx, id, s.now())
	if err != nil {
		if errors.Is(err, model.ErrIllegalTransition) {
			return StatusView{}, fmt.Errorf("%w: %v", ErrAlreadySubmitted, err)
		}
		return StatusView{}, err
	}
	s.cacheStatus(ctx, c)
	return s.run(ctx, c)
}

// Retry re-submits a failed consultation. It is the only way out of failed.
func (s *Service) Retry(ctx context.Context, id uint) (StatusView, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	if !c.Status.CanTransitionTo(model.StatusPending) {
		return StatusView{}, fmt.Errorf("%w: consultation %d is %s", ErrNotRetryable, id, c.Status)
	}
	if err := s.repo.Reset(ctx, id); err != nil {
		if errors.Is(err, model.ErrIllegalTransition) {
			return StatusView{}, fmt.Errorf("%w: %v", ErrNotRetryable, err)
		}
		return StatusView{}, err
	}
	s.log.Info().Uint("consultation_id", id).Msg("consultation re-submitted")
	return s.StartDiagnosis(ctx, id)
}

func (s *Service) run(ctx context.Context, c *model.Consultation) (StatusView, error) {
	logger := s.log.With().Uint("consultation_id", c.ID).Logger()

	result, err := s.diagnose(ctx, c)
	if err == nil {
		err = s.repo.Commit(ctx, c.ID, &result.Diagnosis, &result.Prescription, s.now())
	}
	if err != nil {
		logger.Error().Err(err).Msg("diagnosis failed")
		// The caller's context may be what failed; the status must still land.
		if markErr := s.repo.MarkFailed(context.WithoutCancel(ctx), c.ID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark consultation failed")
			return StatusView{}, errors.Join(err, markErr)
		}
		c.Status = model.StatusFailed
		c.FailureReason = err.Error()
		s.cacheStatus(ctx, c)
		return s.view(c), err
	}

	c.Status = model.StatusCompleted
	s.cacheStatus(ctx, c)
	logger.Info().
		Str("diagnosis", result.Diagnosis.Summary()).
		Int("herbs", result.Prescription.HerbCount()).
		Msg("diagnosis completed")
	return s.view(c), nil
}

// diagnose formats, calls and parses. A panic in the parser is turned into
// an error so the consultation fails visibly.
func (s *Service) diagnose(ctx context.Context, c *model.Consultation) (res parser.Result, err error) {
	reply, err := s.ai.Send(ctx, prompt.Format(c.IntakeRecord))
	if err != nil {
		return res, fmt.Errorf("model call failed: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse model reply: %v", r)
		}
	}()
	return s.parse(reply.Content), nil
}

// Status reports the current state without blocking on the pipeline.
func (s *Service) Status(ctx context.Context, id uint) (StatusView, error) {
	if cs, ok := s.cache.Get(ctx, id); ok {
		return s.view(&model.Consultation{
			Model:              gorm.Model{ID: id},
			ConsultationNumber: cs.Number,
			Status:             cs.Status,
			FailureReason:      cs.FailureReason,
		}), nil
	}

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	s.cacheStatus(ctx, c)
	return s.view(c), nil
}

// Report returns the stored results of a completed consultation.
func (s *Service) Report(ctx context.Context, id uint) (*Report, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusCompleted {
		return nil, fmt.Errorf("%w: consultation %d is %s", ErrNotCompleted, id, c.Status)
	}
	d, err := s.repo.Diagnosis(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.Prescription(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Report{
		Consultation:     c,
		Diagnosis:        d,
		Sections:         d.Sections(),
		Summary:          d.Summary(),
		Prescription:     p,
		PrescriptionText: p.FormattedText(),
	}, nil
}

// UpdateConfidence corrects the confidence score, clamped to [0, 100].
func (s *Service) UpdateConfidence(ctx context.Context, id uint, score float64) (*model.Diagnosis, error) {
	d, err := s.repo.Diagnosis(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateConfidence(ctx, d, score); err != nil {
		return nil, fmt.Errorf("failed to update confidence: %w", err)
	}
	return d, nil
}

// HerbAction names an edit to a prescription's herb list.
type HerbAction string

const (
	HerbAdd          HerbAction = "add"
	HerbRemove       HerbAction = "remove"
	HerbUpdateDosage HerbAction = "update_dosage"
)

type HerbEdit struct {
	Action HerbAction `json:"action" binding:"required,oneof=add remove update_dosage"`
	Name   string     `json:"name" binding:"required"`
	Dosage float64    `json:"dosage"`
	Unit   string     `json:"unit"`
}

// EditHerbs applies one herb edit and saves the prescription.
func (s *Service) EditHerbs(ctx context.Context, id uint, edit HerbEdit) (*model.Prescription, error) {
	p, err := s.repo.Prescription(ctx, id)
	if err != nil {
		return nil, err
	}

	switch edit.Action {
	case HerbAdd:
		p.AddHerb(edit.Name, edit.Dosage, edit.Unit)
	case HerbRemove:
		if !p.RemoveHerb(edit.Name) {
			return nil, fmt.Errorf("%w: %s", ErrHerbNotFound, edit.Name)
		}
	case HerbUpdateDosage:
		if !p.UpdateHerbDosage(edit.Name, edit.Dosage) {
			return nil, fmt.Errorf("%w: %s", ErrHerbNotFound, edit.Name)
		}
	default:
		return nil, fmt.Errorf("unknown herb action %q", edit.Action)
	}

	if err := s.repo.SaveHerbs(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save herbs: %w", err)
	}
	return p, nil
}

func (s *Service) view(c *model.Consultation) StatusView {
	v := StatusView{ID: c.ID, ConsultationNumber: c.ConsultationNumber, Status: c.Status}
	switch c.Status {
	case model.StatusCompleted:
		if s.linker != nil {
			url, err := s.linker.ReportURL(c.ID)
			if err != nil {
				s.log.Warn().Err(err).Uint("consultation_id", c.ID).Msg("failed to build report url")
			}
			v.ReportURL = url
		}
	case model.StatusFailed:
		v.FailureReason = c.FailureReason
	}
	return v
}

func (s *Service) cacheStatus(ctx context.Context, c *model.Consultation) {
	s.cache.Set(ctx, c.ID, CachedStatus{
		Number:        c.ConsultationNumber,
		Status:        c.Status,
		FailureReason: c.FailureReason,
	})
}
