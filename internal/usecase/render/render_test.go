package render

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/dto"
	"github.com/roomviz/render-engine/internal/entity"
	"github.com/roomviz/render-engine/internal/usecase"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

// --- fakes ---

type noopLogger struct{}

func (noopLogger) Debug(message interface{}, args ...interface{}) {}
func (noopLogger) Info(message string, args ...interface{})       {}
func (noopLogger) Warn(message string, args ...interface{})       {}
func (noopLogger) Error(message interface{}, args ...interface{}) {}
func (noopLogger) Fatal(message interface{}, args ...interface{}) {}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*entity.RoomSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*entity.RoomSession)}
}

func (r *fakeSessionRepo) Create(ctx context.Context, session *entity.RoomSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.RoomSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errs.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) SetCleanedKey(ctx context.Context, id uuid.UUID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errs.ErrRecordNotFound
	}
	s.CleanedRoomImageKey = &key
	return nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.RenderJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*entity.RenderJob)}
}

func (r *fakeJobRepo) Create(ctx context.Context, job *entity.RenderJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeJobRepo) Update(ctx context.Context, job *entity.RenderJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return errs.ErrRecordNotFound
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.RenderJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, errs.ErrRecordNotFound
	}
	cp := *j
	return &cp, nil
}

type fakeAssetRepo struct {
	mu     sync.Mutex
	assets map[uuid.UUID]*entity.ProductAsset
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{assets: make(map[uuid.UUID]*entity.ProductAsset)}
}

func (r *fakeAssetRepo) Create(ctx context.Context, asset *entity.ProductAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *asset
	r.assets[asset.ID] = &cp
	return nil
}

func (r *fakeAssetRepo) Update(ctx context.Context, asset *entity.ProductAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *asset
	r.assets[asset.ID] = &cp
	return nil
}

func (r *fakeAssetRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.ProductAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, errs.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAssetRepo) GetByTenantProduct(ctx context.Context, tenantID, productID string) (*entity.ProductAsset, error) {
	return nil, errs.ErrRecordNotFound
}

func (r *fakeAssetRepo) ClaimBatch(ctx context.Context, limit, maxRetries int, lease time.Duration) ([]*entity.ProductAsset, error) {
	return nil, nil
}

type fakeQuotaRepo struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeQuotaRepo() *fakeQuotaRepo {
	return &fakeQuotaRepo{counts: make(map[string]int)}
}

func quotaKey(tenantID string, category entity.QuotaCategory) string {
	return tenantID + "|" + string(category)
}

func (r *fakeQuotaRepo) Reserve(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := quotaKey(tenantID, category)
	if r.counts[k] >= limit {
		return errs.ErrQuotaExceeded
	}
	r.counts[k]++
	return nil
}

func (r *fakeQuotaRepo) Check(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[quotaKey(tenantID, category)] >= limit {
		return errs.ErrQuotaExceeded
	}
	return nil
}

func (r *fakeQuotaRepo) Commit(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[quotaKey(tenantID, category)]++
	return nil
}

func (r *fakeQuotaRepo) Get(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time) (*entity.QuotaCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &entity.QuotaCounter{Count: r.counts[quotaKey(tenantID, category)]}, nil
}

func (r *fakeQuotaRepo) used(tenantID string, category entity.QuotaCategory) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[quotaKey(tenantID, category)]
}

type fakeOutboxRepo struct {
	mu     sync.Mutex
	events []*entity.OutboxEvent
}

func (r *fakeOutboxRepo) Create(ctx context.Context, event *entity.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *fakeOutboxRepo) GetPendingEvents(ctx context.Context, maxRetries, limit int) ([]*entity.OutboxEvent, error) {
	return nil, nil
}
func (r *fakeOutboxRepo) MarkAsProcessingBatch(ctx context.Context, ids uuid.UUIDs) error    { return nil }
func (r *fakeOutboxRepo) MarkAsProcessedBatch(ctx context.Context, ids uuid.UUIDs) error     { return nil }
func (r *fakeOutboxRepo) IncrementRetryCountBatch(ctx context.Context, ids uuid.UUIDs) error { return nil }
func (r *fakeOutboxRepo) MarkMaxRetriesAsFailed(ctx context.Context, maxRetries int) error   { return nil }
func (r *fakeOutboxRepo) DeleteOldProcessedAndFailed(ctx context.Context) (int64, error)     { return 0, nil }

func (r *fakeOutboxRepo) kinds() []entity.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fakeTransactor struct{}

func (fakeTransactor) WithinTransaction(ctx context.Context, f func(ctx context.Context) error) error {
	return f(ctx)
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Download(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, errs.ErrRecordNotFound
	}
	return b, nil
}

func (s *fakeStore) SignedReadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (s *fakeStore) SignedWriteURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.example/put/" + key, nil
}

type fakeGenerator struct {
	compositeErr   error
	removeErr      error
	lastRoomRef    string
	lastProductRef string
}

func (g *fakeGenerator) RemoveBackground(ctx context.Context, image []byte) ([]byte, error) {
	return nil, errors.New("not used in render")
}

func (g *fakeGenerator) GenerateComposite(ctx context.Context, roomImageRef, productImageRef string, placement entity.Placement, instructions string) ([]byte, error) {
	g.lastRoomRef = roomImageRef
	g.lastProductRef = productImageRef
	if g.compositeErr != nil {
		return nil, g.compositeErr
	}
	return []byte("composited"), nil
}

func (g *fakeGenerator) RemoveObjects(ctx context.Context, roomImageRef string, mask []byte) ([]byte, error) {
	if g.removeErr != nil {
		return nil, g.removeErr
	}
	return []byte("cleaned-room"), nil
}

func (g *fakeGenerator) DerivePlacement(ctx context.Context, cutout []byte) (*entity.PlacementMetadata, error) {
	return nil, errors.New("not used in render")
}

// --- harness ---

type renderHarness struct {
	uc       *RenderUseCase
	sessions *fakeSessionRepo
	jobs     *fakeJobRepo
	assets   *fakeAssetRepo
	quota    *fakeQuotaRepo
	outbox   *fakeOutboxRepo
	store    *fakeStore
	gen      *fakeGenerator
}

func newRenderHarness() *renderHarness {
	h := &renderHarness{
		sessions: newFakeSessionRepo(),
		jobs:     newFakeJobRepo(),
		assets:   newFakeAssetRepo(),
		quota:    newFakeQuotaRepo(),
		outbox:   &fakeOutboxRepo{},
		store:    newFakeStore(),
		gen:      &fakeGenerator{},
	}
	h.uc = New(
		h.sessions,
		h.jobs,
		h.assets,
		h.quota,
		h.outbox,
		fakeTransactor{},
		h.store,
		h.gen,
		noopLogger{},
		usecase.QuotaLimits{Render: 2, Prep: 10, Cleanup: 1},
		time.Hour,
	)
	return h
}

func openSession(t *testing.T, h *renderHarness, tenantID string) *dto.UploadTarget {
	t.Helper()
	target, err := h.uc.CreateUploadTarget(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("CreateUploadTarget: %v", err)
	}
	return target
}

func liveAsset(t *testing.T, h *renderHarness, tenantID string) *entity.ProductAsset {
	t.Helper()
	now := time.Now()
	a := entity.NewProductAsset(tenantID, "product-1", "ref", now)
	if err := a.Claim(now); err != nil {
		t.Fatal(err)
	}
	if err := a.MarkReady("tenant/"+tenantID+"/asset/"+a.ID.String()+"/cutout", nil, now); err != nil {
		t.Fatal(err)
	}
	if err := a.Enable(now); err != nil {
		t.Fatal(err)
	}
	if err := h.assets.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func validSubmit(h *renderHarness, target *dto.UploadTarget, assetID *uuid.UUID) dto.SubmitRender {
	return dto.SubmitRender{
		TenantID:      "tenant-1",
		RoomSessionID: target.SessionID,
		AssetID:       assetID,
		Placement:     entity.Placement{X: 0.5, Y: 0.6, Scale: 0.3},
	}
}

// --- tests ---

func TestCreateUploadTargetPersistsKeyNotURL(t *testing.T) {
	h := newRenderHarness()
	target := openSession(t, h, "tenant-1")

	session, err := h.sessions.GetByID(context.Background(), target.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	if session.OriginalRoomImageKey != target.Key {
		t.Fatalf("persisted key %q != returned key %q", session.OriginalRoomImageKey, target.Key)
	}
	if strings.Contains(session.OriginalRoomImageKey, "https://") {
		t.Fatal("the persisted key must not be a URL")
	}
	if target.WriteURL == "" {
		t.Fatal("upload target must carry a signed write URL")
	}
}

func TestSubmitRenderValidation(t *testing.T) {
	h := newRenderHarness()
	target := openSession(t, h, "tenant-1")
	asset := liveAsset(t, h, "tenant-1")
	ref := "https://cdn.example.com/chair.png"

	tests := []struct {
		name string
		mod  func(cmd *dto.SubmitRender)
	}{
		{"bad placement", func(cmd *dto.SubmitRender) { cmd.Placement.Scale = 0 }},
		{"both sources", func(cmd *dto.SubmitRender) { cmd.ProductImageRef = &ref }},
		{"no source", func(cmd *dto.SubmitRender) { cmd.AssetID = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := validSubmit(h, target, &asset.ID)
			tt.mod(&cmd)

			_, err := h.uc.SubmitRender(context.Background(), cmd)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if errs.ClassOf(err) != errs.ClassInvalidInput {
				t.Fatalf("class = %q, want invalid_input", errs.ClassOf(err))
			}
		})
	}
}

func TestSubmitRenderRejectsNonLiveAsset(t *testing.T) {
	h := newRenderHarness()
	target := openSession(t, h, "tenant-1")

	now := time.Now()
	a := entity.NewProductAsset("tenant-1", "product-1", "ref", now)
	if err := h.assets.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	_, err := h.uc.SubmitRender(context.Background(), validSubmit(h, target, &a.ID))
	if err == nil {
		t.Fatal("expected rejection of non-live asset")
	}
	if errs.ClassOf(err) != errs.ClassInvalidInput {
		t.Fatalf("class = %q, want invalid_input", errs.ClassOf(err))
	}
}

func TestSubmitRenderQueuesJobWithDispatchEvent(t *testing.T) {
	h := newRenderHarness()
	target := openSession(t, h, "tenant-1")
	asset := liveAsset(t, h, "tenant-1")

	job, err := h.uc.SubmitRender(context.Background(), validSubmit(h, target, &asset.ID))
	if err != nil {
		t.Fatalf("SubmitRender: %v", err)
	}

	if job.Status != entity.JobQueued {
		t.Fatalf("job status = %q, want queued", job.Status)
	}

	kinds := h.outbox.kinds()
	if len(kinds) != 1 || kinds[0] != entity.EventRenderRequested {
		t.Fatalf("outbox kinds = %v, want [render.requested]", kinds)
	}

	// submission only admits; accounting happens on completion
	if got := h.quota.used("tenant-1", entity.QuotaRender); got != 0 {
		t.Fatalf("render quota used = %d after submit, want 0", got)
	}
}

func TestSubmitRenderQuotaExceeded(t *testing.T) {
	h := newRenderHarness()
	target := openSession(t, h, "tenant-1")
	asset := liveAsset(t, h, "tenant-1")

	// saturate the day's render counter
	for i := 0; i < 2; i++ {
		if err := h.quota.Commit(context.Background(), "tenant-1", entity.QuotaRender, time.Now(), 2); err != nil {
			t.Fatal(err)
		}
	}

	_, err := h.uc.SubmitRender(context.Background(), validSubmit(h, target, &asset.ID))
	if !errors.Is(err, errs.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}

	// rejection happens before any provider call
	if h.gen.lastRoomRef != "" {
		t.Fatal("quota rejection must not reach the provider")
	}
}

func TestExecuteRenderSuccess(t *testing.T) {
	h := newRenderHarness()
	target := openSession(t, h, "tenant-1")
	asset := liveAsset(t, h, "tenant-1")

	job, err := h.uc.SubmitRender(context.Background(), validSubmit(h, target, &asset.ID))
	if err != nil {
		t.Fatalf("SubmitRender: %v", err)
	}

	err = h.uc.ExecuteRender(context.Background(), dto.RenderDispatch{JobID: job.ID, TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("ExecuteRender: %v", err)
	}

	got, _ := h.jobs.GetByID(context.Background(), job.ID)
	if got.Status != entity.JobCompleted {
		t.Fatalf("job status = %q (err=%v), want completed", got.Status, got.Error)
	}
	if got.OutputKey == nil {
		t.Fatal("completed job must carry an output key")
	}
	if _, err := h.store.Download(context.Background(), *got.OutputKey); err != nil {
		t.Fatalf("output not stored under %q: %v", *got.OutputKey, err)
	}

	// the cutout reached the provider as a signed URL
	if !strings.HasPrefix(h.gen.lastProductRef, "https://signed.example/") {
		t.Fatalf("product ref = %q, want a signed URL", h.gen.lastProductRef)
	}

	if got := h.quota.used("tenant-1", entity.QuotaRender); got != 1 {
		t.Fatalf("render quota used = %d, want 1", got)
	}

	kinds := h.outbox.kinds()
	if len(kinds) != 2 || kinds[1] != entity.EventRenderCompleted {
		t.Fatalf("outbox kinds = %v, want [..., render.completed]", kinds)
	}

	// redelivery of a finished job is a no-op
	if err := h.uc.ExecuteRender(context.Background(), dto.RenderDispatch{JobID: job.ID, TenantID: "tenant-1"}); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := h.quota.used("tenant-1", entity.QuotaRender); got != 1 {
		t.Fatalf("redelivery must not recharge quota, used = %d", got)
	}
}

func TestExecuteRenderFailureDoesNotChargeQuota(t *testing.T) {
	h := newRenderHarness()
	target := openSession(t, h, "tenant-1")
	asset := liveAsset(t, h, "tenant-1")

	job, err := h.uc.SubmitRender(context.Background(), validSubmit(h, target, &asset.ID))
	if err != nil {
		t.Fatalf("SubmitRender: %v", err)
	}

	h.gen.compositeErr = errs.Classify(errs.ClassInvalidInput, errors.New("no image in response"))

	// failures land on the job row, not in the returned error
	if err := h.uc.ExecuteRender(context.Background(), dto.RenderDispatch{JobID: job.ID, TenantID: "tenant-1"}); err != nil {
		t.Fatalf("ExecuteRender: %v", err)
	}

	got, _ := h.jobs.GetByID(context.Background(), job.ID)
	if got.Status != entity.JobFailed {
		t.Fatalf("job status = %q, want failed", got.Status)
	}
	if got.Error == nil {
		t.Fatal("failed job must record the cause")
	}

	if used := h.quota.used("tenant-1", entity.QuotaRender); used != 0 {
		t.Fatalf("failed render charged the quota: used = %d", used)
	}

	kinds := h.outbox.kinds()
	if len(kinds) != 2 || kinds[1] != entity.EventRenderFailed {
		t.Fatalf("outbox kinds = %v, want [..., render.failed]", kinds)
	}
}

func TestExecuteRenderUnknownJobDropsDispatch(t *testing.T) {
	h := newRenderHarness()

	err := h.uc.ExecuteRender(context.Background(), dto.RenderDispatch{JobID: uuid.New(), TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("unknown job must be dropped, got %v", err)
	}
}

func TestCleanupKeepsOriginal(t *testing.T) {
	h := newRenderHarness()
	target := openSession(t, h, "tenant-1")

	// the shopper uploaded the room photo
	if err := h.store.Put(context.Background(), target.Key, []byte("original-room"), "image/png"); err != nil {
		t.Fatal(err)
	}

	if err := h.uc.Cleanup(context.Background(), target.SessionID, []byte("mask")); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	session, _ := h.sessions.GetByID(context.Background(), target.SessionID)
	if session.CleanedRoomImageKey == nil {
		t.Fatal("cleanup must record the cleaned key")
	}
	if *session.CleanedRoomImageKey == session.OriginalRoomImageKey {
		t.Fatal("cleaned key must not overwrite the original key")
	}

	original, err := h.store.Download(context.Background(), target.Key)
	if err != nil || string(original) != "original-room" {
		t.Fatalf("original object changed: %q, %v", original, err)
	}
	cleaned, err := h.store.Download(context.Background(), *session.CleanedRoomImageKey)
	if err != nil || string(cleaned) != "cleaned-room" {
		t.Fatalf("cleaned object = %q, %v", cleaned, err)
	}

	kinds := h.outbox.kinds()
	if len(kinds) != 1 || kinds[0] != entity.EventRoomCleaned {
		t.Fatalf("outbox kinds = %v, want [room.cleaned]", kinds)
	}

	if got := h.quota.used("tenant-1", entity.QuotaCleanup); got != 1 {
		t.Fatalf("cleanup quota used = %d, want 1", got)
	}
}

func TestCleanupQuotaExceeded(t *testing.T) {
	h := newRenderHarness()
	target := openSession(t, h, "tenant-1")

	if err := h.uc.Cleanup(context.Background(), target.SessionID, []byte("mask")); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	err := h.uc.Cleanup(context.Background(), target.SessionID, []byte("mask"))
	if !errors.Is(err, errs.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded (limit 1)", err)
	}
}

func TestCleanupRejectsEmptyMask(t *testing.T) {
	h := newRenderHarness()
	target := openSession(t, h, "tenant-1")

	err := h.uc.Cleanup(context.Background(), target.SessionID, nil)
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestExecuteRenderUsesCleanedRoom(t *testing.T) {
	h := newRenderHarness()
	target := openSession(t, h, "tenant-1")
	asset := liveAsset(t, h, "tenant-1")

	if err := h.uc.Cleanup(context.Background(), target.SessionID, []byte("mask")); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	job, err := h.uc.SubmitRender(context.Background(), validSubmit(h, target, &asset.ID))
	if err != nil {
		t.Fatalf("SubmitRender: %v", err)
	}
	if err := h.uc.ExecuteRender(context.Background(), dto.RenderDispatch{JobID: job.ID, TenantID: "tenant-1"}); err != nil {
		t.Fatalf("ExecuteRender: %v", err)
	}

	if !strings.Contains(h.gen.lastRoomRef, "/cleaned") {
		t.Fatalf("room ref = %q, want the cleaned variant", h.gen.lastRoomRef)
	}
}
