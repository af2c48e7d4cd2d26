// Package intake runs a radiologist's submission end to end: store the
// image, classify it, ask for a narrative and open the report.
package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medscan/triage/internal/domain/findings"
	"github.com/medscan/triage/internal/domain/report"
	"github.com/medscan/triage/internal/platform/apperr"
	"github.com/medscan/triage/internal/platform/blobstore"
	"github.com/medscan/triage/internal/platform/telemetry"
	"github.com/medscan/triage/internal/platform/vision"
)

const imageCategory = "xrays"

type Preprocessor interface {
	Preprocess(raw []byte) (vision.Tensor, error)
}

type Classifier interface {
	Classify(ctx context.Context, t vision.Tensor) ([]float64, error)
}

type Narrator interface {
	Generate(ctx context.Context, anomalies []findings.Anomaly) (string, error)
}

type Reports interface {
	Create(ctx context.Context, in report.CreateInput) (*report.Report, error)
}

// Observer receives pipeline outcomes. telemetry.Metrics implements it.
type Observer interface {
	ObserveAnalysis(outcome string, d time.Duration)
	ObserveNarrative(result string)
}

type Config struct {
	// NarrativeRequired fails the submission when no narrative can be
	// generated instead of storing the report without one.
	NarrativeRequired bool
	Observer          Observer
}

type Service struct {
	store      blobstore.BlobStore
	pre        Preprocessor
	classifier Classifier
	narrator   Narrator
	reports    Reports
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService wires the pipeline. narrator may be nil, in which case every
// analysis is narrative-degraded.
func NewService(store blobstore.BlobStore, pre Preprocessor, classifier Classifier, narrator Narrator,
	reports Reports, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		store:      store,
		pre:        pre,
		classifier: classifier,
		narrator:   narrator,
		reports:    reports,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit uploads the image while it is being classified. The report is
// created only after both finish, so a cancelled or failed submission never
// leaves a report behind. An uploaded image whose analysis or report fails
// is deleted again.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if err := validateSubmit(in); err != nil {
		return nil, err
	}

	key := blobstore.ImageKey(imageCategory, in.PatientID.String(),
		fmt.Sprintf("xray_%s_%d.jpg", in.PatientID, s.now().UnixMilli()))
	contentType := in.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	var (
		obj       *blobstore.Object
		anomalies []findings.Anomaly
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		obj, err = s.store.Put(gctx, key, contentType, bytes.NewReader(in.Image), int64(len(in.Image)), in.Progress)
		if err != nil {
			return fmt.Errorf("upload image: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		anomalies, err = s.classify(gctx, in.Image)
		return err
	})
	if err := g.Wait(); err != nil {
		if obj != nil {
			s.discard(key)
		}
		return nil, err
	}

	analysis, err := s.describe(ctx, anomalies)
	if err != nil {
		s.discard(key)
		return nil, err
	}

	// A cancellation that arrived during the narrative call must not open
	// a report.
	if err := ctx.Err(); err != nil {
		s.discard(key)
		return nil, err
	}

	rad := in.RadiologistID
	rep, err := s.reports.Create(ctx, report.CreateInput{
		PatientID:     in.PatientID,
		DoctorID:      in.DoctorID,
		RadiologistID: &rad,
		ImageRef:      obj.Key,
		Modality:      in.Modality,
		Anomalies:     analysis.Anomalies,
		Narrative:     analysis.Narrative,
	})
	if err != nil {
		s.discard(key)
		return nil, err
	}

	s.logger.Info().
		Str("report_id", rep.ID.String()).
		Str("image_key", obj.Key).
		Int64("bytes", obj.Size).
		Bool("narrative_degraded", analysis.NarrativeDegraded).
		Msg("study submitted")
	return &SubmitResult{Report: rep, Image: obj, NarrativeDegraded: analysis.NarrativeDegraded}, nil
}

// Analyze runs classification and the narrative step without storing
// anything.
func (s *Service) Analyze(ctx context.Context, image []byte) (*Analysis, error) {
	if len(image) == 0 {
		return nil, apperr.Required("image")
	}
	anomalies, err := s.classify(ctx, image)
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, anomalies)
}

func (s *Service) classify(ctx context.Context, image []byte) ([]findings.Anomaly, error) {
	start := time.Now()
	anomalies, err := s.runClassifier(ctx, image)
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveAnalysis(analysisOutcome(err), time.Since(start))
	}
	return anomalies, err
}

func (s *Service) runClassifier(ctx context.Context, image []byte) ([]findings.Anomaly, error) {
	t, err := s.pre.Preprocess(image)
	if err != nil {
		return nil, err
	}
	scores, err := s.classifier.Classify(ctx, t)
	if err != nil {
		return nil, err
	}
	p, err := findings.ProbabilitiesFrom(scores)
	if err != nil {
		return nil, fmt.Errorf("classifier output: %w", err)
	}
	return findings.Synthesize(p), nil
}

func (s *Service) describe(ctx context.Context, anomalies []findings.Anomaly) (*Analysis, error) {
	a := &Analysis{Anomalies: anomalies, Normal: findings.IsNormal(anomalies)}

	var (
		text string
		err  error
	)
	if s.narrator == nil {
		err = fmt.Errorf("%w: no text generator configured", findings.ErrNarrativeService)
	} else {
		text, err = s.narrator.Generate(ctx, anomalies)
	}
	if err != nil {
		if s.cfg.NarrativeRequired || !errors.Is(err, findings.ErrNarrativeService) {
			s.observeNarrative(telemetry.NarrativeFailed)
			return nil, err
		}
		s.logger.Warn().Err(err).Msg("continuing without narrative")
		s.observeNarrative(telemetry.NarrativeDegraded)
		a.NarrativeDegraded = true
		return a, nil
	}
	s.observeNarrative(telemetry.NarrativeGenerated)
	a.Narrative = &text
	return a, nil
}

func (s *Service) observeNarrative(result string) {
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveNarrative(result)
	}
}

func analysisOutcome(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeOK
	case errors.Is(err, vision.ErrDecode):
		return telemetry.OutcomeDecodeError
	case errors.Is(err, vision.ErrModelUnavailable):
		return telemetry.OutcomeModelUnavailable
	case errors.Is(err, context.Canceled):
		return telemetry.OutcomeCancelled
	}
	return telemetry.OutcomeError
}

// discard removes an uploaded image whose submission failed. It runs on a
// fresh context because the request context is often the reason for the
// failure.
func (s *Service) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Error().Err(err).Str("image_key", key).Msg("failed to remove orphaned image")
	}
}

func validateSubmit(in SubmitInput) error {
	switch {
	case in.PatientID == uuid.Nil:
		return apperr.Required("patient_id")
	case in.DoctorID == uuid.Nil:
		return apperr.Required("doctor_id")
	case in.RadiologistID == uuid.Nil:
		return apperr.Required("radiologist_id")
	case !in.Modality.Valid():
		return apperr.Invalid("modality", "must be one of xray, ct, mri, ultrasound")
	case len(in.Image) == 0:
		return apperr.Required("image")
	}
	if in.ContentType != "" && !strings.HasPrefix(in.ContentType, "image/") {
		return apperr.Invalid("image", "content type %q is not an image", in.ContentType)
	}
	return nil
}
