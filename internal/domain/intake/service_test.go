package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscan/triage/internal/domain/findings"
	"github.com/medscan/triage/internal/domain/report"
	"github.com/medscan/triage/internal/platform/apperr"
	"github.com/medscan/triage/internal/platform/blobstore"
	"github.com/medscan/triage/internal/platform/telemetry"
	"github.com/medscan/triage/internal/platform/vision"
)

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) * 2)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func scores(hits map[findings.Condition]float64) []float64 {
	out := make([]float64, findings.NumConditions)
	for c, p := range hits {
		out[c] = p
	}
	return out
}

type fakeClassifier struct {
	scores []float64
	err    error
	// before runs ahead of the result, letting a test order the
	// classifier against the upload.
	before func(ctx context.Context)
}

func (f *fakeClassifier) Classify(ctx context.Context, t vision.Tensor) ([]float64, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if f.before != nil {
		f.before(ctx)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

type fakeNarrator struct {
	text  string
	err   error
	calls int
}

func (f *fakeNarrator) Generate(_ context.Context, anomalies []findings.Anomaly) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeReports struct {
	mu      sync.Mutex
	created []report.CreateInput
	err     error
}

func (f *fakeReports) Create(_ context.Context, in report.CreateInput) (*report.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, in)
	return &report.Report{
		ID:            uuid.New(),
		PatientID:     in.PatientID,
		DoctorID:      in.DoctorID,
		RadiologistID: in.RadiologistID,
		ImageRef:      in.ImageRef,
		Modality:      in.Modality,
		Anomalies:     in.Anomalies,
		Narrative:     in.Narrative,
		Status:        report.StatusPending,
	}, nil
}

func (f *fakeReports) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fixture struct {
	svc        *Service
	store      *blobstore.InMemoryBlobStore
	classifier *fakeClassifier
	narrator   *fakeNarrator
	reports    *fakeReports
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		store:      blobstore.NewInMemoryBlobStore(),
		classifier: &fakeClassifier{scores: scores(map[findings.Condition]float64{findings.Pneumonia: 0.82})},
		narrator:   &fakeNarrator{text: "Right lower lobe consolidation suggests pneumonia."},
		reports:    &fakeReports{},
	}
	f.svc = NewService(f.store, vision.NewPreprocessor(), f.classifier, f.narrator, f.reports, cfg, zerolog.Nop())
	f.svc.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return f
}

func (f *fixture) input(t *testing.T) SubmitInput {
	return SubmitInput{
		PatientID:     uuid.New(),
		DoctorID:      uuid.New(),
		RadiologistID: uuid.New(),
		Modality:      report.ModalityXRay,
		FileName:      "chest.png",
		ContentType:   "image/png",
		Image:         testImage(t),
	}
}

// waitForUpload blocks until the store holds a blob, so a failing
// classifier returns only after the upload succeeded.
func (f *fixture) waitForUpload(ctx context.Context) {
	deadline := time.Now().Add(2 * time.Second)
	for f.store.Len() == 0 && time.Now().Before(deadline) && ctx.Err() == nil {
		time.Sleep(time.Millisecond)
	}
}

func TestSubmit_CreatesReport(t *testing.T) {
	f := newFixture(Config{})
	in := f.input(t)

	var calls int
	in.Progress = func(written, total int64) { calls++ }

	res, err := f.svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	wantKey := fmt.Sprintf("xrays/%s/xray_%s_1700000000123.jpg", in.PatientID, in.PatientID)
	if res.Report.ImageRef != wantKey {
		t.Errorf("image ref = %q, want %q", res.Report.ImageRef, wantKey)
	}
	if _, err := f.store.Stat(context.Background(), wantKey); err != nil {
		t.Errorf("stored image missing: %v", err)
	}
	if res.NarrativeDegraded || res.Report.Narrative == nil {
		t.Error("expected a narrative")
	}
	if len(res.Report.Anomalies) == 0 || res.Report.Anomalies[0].Type != findings.Pneumonia {
		t.Errorf("anomalies = %+v, want pneumonia first", res.Report.Anomalies)
	}
	if res.Report.RadiologistID == nil || *res.Report.RadiologistID != in.RadiologistID {
		t.Error("radiologist not recorded")
	}
	if calls == 0 {
		t.Error("progress callback never called")
	}
}

func TestSubmit_NarrativeFailureDegrades(t *testing.T) {
	f := newFixture(Config{})
	f.narrator.err = fmt.Errorf("%w: deadline exceeded", findings.ErrNarrativeService)

	res, err := f.svc.Submit(context.Background(), f.input(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.NarrativeDegraded {
		t.Error("expected narrative_degraded")
	}
	if res.Report.Narrative != nil {
		t.Error("degraded report must not carry a narrative")
	}
	if len(res.Report.Anomalies) == 0 {
		t.Error("anomalies must be stored without a narrative")
	}
}

func TestSubmit_NarrativeRequired(t *testing.T) {
	f := newFixture(Config{NarrativeRequired: true})
	f.narrator.err = fmt.Errorf("%w: empty response", findings.ErrNarrativeService)

	_, err := f.svc.Submit(context.Background(), f.input(t))
	if !errors.Is(err, findings.ErrNarrativeService) {
		t.Fatalf("error = %v, want ErrNarrativeService", err)
	}
	if f.reports.count() != 0 || f.store.Len() != 0 {
		t.Errorf("reports=%d blobs=%d, want none", f.reports.count(), f.store.Len())
	}
}

func TestSubmit_NoNarratorConfigured(t *testing.T) {
	f := newFixture(Config{})
	f.svc.narrator = nil

	res, err := f.svc.Submit(context.Background(), f.input(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.NarrativeDegraded {
		t.Error("expected narrative_degraded without a narrator")
	}
}

func TestSubmit_ClassifierFailureRemovesImage(t *testing.T) {
	f := newFixture(Config{})
	f.classifier.err = fmt.Errorf("%w: artifact fetch failed", vision.ErrModelUnavailable)
	f.classifier.before = f.waitForUpload

	_, err := f.svc.Submit(context.Background(), f.input(t))
	if !errors.Is(err, vision.ErrModelUnavailable) {
		t.Fatalf("error = %v, want ErrModelUnavailable", err)
	}
	if f.store.Len() != 0 {
		t.Errorf("blobs = %d, want 0", f.store.Len())
	}
	if f.reports.count() != 0 {
		t.Error("no report expected")
	}
	if f.narrator.calls != 0 {
		t.Error("narrative requested for a failed analysis")
	}
}

func TestSubmit_DecodeError(t *testing.T) {
	f := newFixture(Config{})
	in := f.input(t)
	in.Image = []byte("definitely not an image")

	_, err := f.svc.Submit(context.Background(), in)
	if !errors.Is(err, vision.ErrDecode) {
		t.Fatalf("error = %v, want ErrDecode", err)
	}
	if f.reports.count() != 0 {
		t.Error("no report expected")
	}
}

func TestSubmit_ReportFailureRemovesImage(t *testing.T) {
	f := newFixture(Config{})
	f.reports.err = apperr.Invalid("doctor_id", "does not refer to an active doctor")

	_, err := f.svc.Submit(context.Background(), f.input(t))
	if !apperr.IsValidation(err) {
		t.Fatalf("error = %v, want validation error", err)
	}
	if f.store.Len() != 0 {
		t.Errorf("blobs = %d, want 0", f.store.Len())
	}
}

func TestSubmit_CancelledBeforeStart(t *testing.T) {
	f := newFixture(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.svc.Submit(ctx, f.input(t)); err == nil {
		t.Fatal("expected error")
	}
	if f.reports.count() != 0 || f.store.Len() != 0 {
		t.Errorf("reports=%d blobs=%d, want none", f.reports.count(), f.store.Len())
	}
}

func TestSubmit_CancelledDuringNarrative(t *testing.T) {
	f := newFixture(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	f.svc.narrator = narratorFunc(func(ctx context.Context, _ []findings.Anomaly) (string, error) {
		cancel()
		return "late answer", nil
	})

	if _, err := f.svc.Submit(ctx, f.input(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if f.reports.count() != 0 || f.store.Len() != 0 {
		t.Errorf("reports=%d blobs=%d, want none", f.reports.count(), f.store.Len())
	}
}

type narratorFunc func(ctx context.Context, anomalies []findings.Anomaly) (string, error)

func (fn narratorFunc) Generate(ctx context.Context, anomalies []findings.Anomaly) (string, error) {
	return fn(ctx, anomalies)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(Config{})
	tests := []struct {
		name   string
		mutate func(*SubmitInput)
	}{
		{"no patient", func(in *SubmitInput) { in.PatientID = uuid.Nil }},
		{"no doctor", func(in *SubmitInput) { in.DoctorID = uuid.Nil }},
		{"no radiologist", func(in *SubmitInput) { in.RadiologistID = uuid.Nil }},
		{"bad modality", func(in *SubmitInput) { in.Modality = "pet" }},
		{"empty image", func(in *SubmitInput) { in.Image = nil }},
		{"not an image type", func(in *SubmitInput) { in.ContentType = "application/pdf" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.input(t)
			tt.mutate(&in)
			if _, err := f.svc.Submit(context.Background(), in); !apperr.IsValidation(err) {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}
	if f.store.Len() != 0 {
		t.Error("rejected input must not upload")
	}
}

func TestAnalyze_Normal(t *testing.T) {
	f := newFixture(Config{})
	f.classifier.scores = scores(nil)

	res, err := f.svc.Analyze(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.Normal || len(res.Anomalies) != 1 || res.Anomalies[0].Type != findings.Normal {
		t.Errorf("analysis = %+v, want a single normal finding", res)
	}
	if res.Anomalies[0].Confidence != findings.DefaultNormalConfidence {
		t.Errorf("confidence = %v", res.Anomalies[0].Confidence)
	}
	if f.store.Len() != 0 || f.reports.count() != 0 {
		t.Error("preview must not store anything")
	}
}

func TestAnalyze_BadClassifierOutput(t *testing.T) {
	f := newFixture(Config{})
	f.classifier.scores = []float64{0.5, 0.5}

	if _, err := f.svc.Analyze(context.Background(), testImage(t)); err == nil {
		t.Fatal("expected error for short output vector")
	}
}

type recordingObserver struct {
	mu         sync.Mutex
	analyses   []string
	narratives []string
}

func (o *recordingObserver) ObserveAnalysis(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.analyses = append(o.analyses, outcome)
}

func (o *recordingObserver) ObserveNarrative(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.narratives = append(o.narratives, result)
}

func TestObserver_RecordsOutcomes(t *testing.T) {
	obs := &recordingObserver{}
	f := newFixture(Config{Observer: obs})
	ctx := context.Background()

	if _, err := f.svc.Analyze(ctx, testImage(t)); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	f.svc.Analyze(ctx, []byte("garbage"))
	f.narrator.err = fmt.Errorf("%w: timeout", findings.ErrNarrativeService)
	if _, err := f.svc.Analyze(ctx, testImage(t)); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	wantAnalyses := []string{telemetry.OutcomeOK, telemetry.OutcomeDecodeError, telemetry.OutcomeOK}
	if diff := cmp.Diff(wantAnalyses, obs.analyses); diff != "" {
		t.Errorf("analyses mismatch (-want +got):\n%s", diff)
	}
	wantNarratives := []string{telemetry.NarrativeGenerated, telemetry.NarrativeDegraded}
	if diff := cmp.Diff(wantNarratives, obs.narratives); diff != "" {
		t.Errorf("narratives mismatch (-want +got):\n%s", diff)
	}
}
