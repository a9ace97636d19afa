package preparation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/cache"
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
	for _, a := range r.assets {
		if a.TenantID == asset.TenantID && a.ProductID == asset.ProductID {
			return errs.ErrRecordExists
		}
	}
	cp := *asset
	r.assets[asset.ID] = &cp
	return nil
}

func (r *fakeAssetRepo) Update(ctx context.Context, asset *entity.ProductAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[asset.ID]; !ok {
		return errs.ErrRecordNotFound
	}
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
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assets {
		if a.TenantID == tenantID && a.ProductID == productID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, errs.ErrRecordNotFound
}

func (r *fakeAssetRepo) ClaimBatch(ctx context.Context, limit, maxRetries int, lease time.Duration) ([]*entity.ProductAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var claimed []*entity.ProductAsset
	for _, a := range r.assets {
		if len(claimed) == limit {
			break
		}
		claimable := a.Status == entity.AssetUnprepared ||
			(a.Status == entity.AssetPreparing && a.RetryCount < maxRetries && a.ClaimedAt == nil)
		if !claimable {
			continue
		}
		a.Status = entity.AssetPreparing
		a.ClaimedAt = &now
		cp := *a
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

type fakeQuotaRepo struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeQuotaRepo() *fakeQuotaRepo {
	return &fakeQuotaRepo{counts: make(map[string]int)}
}

func quotaKey(tenantID string, category entity.QuotaCategory, day time.Time) string {
	return tenantID + "|" + string(category) + "|" + entity.QuotaDay(day).Format("2006-01-02")
}

func (r *fakeQuotaRepo) Reserve(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := quotaKey(tenantID, category, day)
	if r.counts[k] >= limit {
		return errs.ErrQuotaExceeded
	}
	r.counts[k]++
	return nil
}

func (r *fakeQuotaRepo) Check(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[quotaKey(tenantID, category, day)] >= limit {
		return errs.ErrQuotaExceeded
	}
	return nil
}

func (r *fakeQuotaRepo) Commit(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[quotaKey(tenantID, category, day)]++
	return nil
}

func (r *fakeQuotaRepo) Get(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time) (*entity.QuotaCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &entity.QuotaCounter{
		TenantID: tenantID,
		Day:      entity.QuotaDay(day),
		Category: category,
		Count:    r.counts[quotaKey(tenantID, category, day)],
	}, nil
}

func (r *fakeQuotaRepo) used(tenantID string, category entity.QuotaCategory) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[quotaKey(tenantID, category, time.Now())]
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
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if s.putErr != nil {
		return s.putErr
	}
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

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type passthroughNormalizer struct{}

func (passthroughNormalizer) Normalize(ctx context.Context, data []byte) ([]byte, error) {
	return data, nil
}

type fakeGenerator struct {
	removeErr    error
	deriveErr    error
	derivedMeta  *entity.PlacementMetadata
	removeCalled int
}

func (g *fakeGenerator) RemoveBackground(ctx context.Context, image []byte) ([]byte, error) {
	g.removeCalled++
	if g.removeErr != nil {
		return nil, g.removeErr
	}
	return append([]byte("cutout:"), image...), nil
}

func (g *fakeGenerator) GenerateComposite(ctx context.Context, roomImageRef, productImageRef string, placement entity.Placement, instructions string) ([]byte, error) {
	return nil, errors.New("not used in preparation")
}

func (g *fakeGenerator) RemoveObjects(ctx context.Context, roomImageRef string, mask []byte) ([]byte, error) {
	return nil, errors.New("not used in preparation")
}

func (g *fakeGenerator) DerivePlacement(ctx context.Context, cutout []byte) (*entity.PlacementMetadata, error) {
	if g.deriveErr != nil {
		return nil, g.deriveErr
	}
	return g.derivedMeta, nil
}

// --- harness ---

type prepHarness struct {
	uc     *PreparationUseCase
	assets *fakeAssetRepo
	quota  *fakeQuotaRepo
	outbox *fakeOutboxRepo
	store  *fakeStore
	fetch  *fakeFetcher
	gen    *fakeGenerator
	cache  *cache.MemoryCache
}

func newPrepHarness(maxAttempts int) *prepHarness {
	h := &prepHarness{
		assets: newFakeAssetRepo(),
		quota:  newFakeQuotaRepo(),
		outbox: &fakeOutboxRepo{},
		store:  newFakeStore(),
		fetch:  &fakeFetcher{data: []byte("source-image")},
		gen:    &fakeGenerator{derivedMeta: &entity.PlacementMetadata{Role: "floor"}},
		cache:  cache.NewMemoryCache(),
	}
	h.uc = New(
		h.assets,
		h.outbox,
		h.quota,
		fakeTransactor{},
		h.store,
		h.fetch,
		passthroughNormalizer{},
		h.gen,
		h.cache,
		noopLogger{},
		usecase.QuotaLimits{Render: 10, Prep: 3, Cleanup: 10},
		maxAttempts,
		10*time.Minute,
		time.Hour,
	)
	return h
}

func submit(t *testing.T, h *prepHarness) *entity.ProductAsset {
	t.Helper()
	asset, err := h.uc.Submit(context.Background(), dto.SubmitAsset{
		TenantID:       "tenant-1",
		ProductID:      "product-1",
		SourceImageRef: "https://cdn.example.com/chair.jpg",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return asset
}

// --- tests ---

func TestSubmitIsIdempotent(t *testing.T) {
	h := newPrepHarness(3)

	first := submit(t, h)
	second := submit(t, h)

	if first.ID != second.ID {
		t.Fatalf("resubmission created a new asset: %s != %s", first.ID, second.ID)
	}
	if got := h.quota.used("tenant-1", entity.QuotaPrep); got != 1 {
		t.Fatalf("prep quota used = %d, want 1 (idempotent resubmit must not reserve)", got)
	}
}

func TestSubmitQuotaExceeded(t *testing.T) {
	h := newPrepHarness(3)

	for i := 0; i < 3; i++ {
		_, err := h.uc.Submit(context.Background(), dto.SubmitAsset{
			TenantID:       "tenant-1",
			ProductID:      fmt.Sprintf("product-%d", i),
			SourceImageRef: "https://cdn.example.com/p.jpg",
		})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	_, err := h.uc.Submit(context.Background(), dto.SubmitAsset{
		TenantID:       "tenant-1",
		ProductID:      "product-over",
		SourceImageRef: "https://cdn.example.com/p.jpg",
	})
	if !errors.Is(err, errs.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestSubmitConcurrentLastQuotaSlot(t *testing.T) {
	for _, n := range []int{2, 10, 100} {
		t.Run(fmt.Sprintf("%d submitters", n), func(t *testing.T) {
			h := newPrepHarness(3)

			// burn all but one slot of the prep limit (3)
			for i := 0; i < 2; i++ {
				_, err := h.uc.Submit(context.Background(), dto.SubmitAsset{
					TenantID:       "tenant-1",
					ProductID:      fmt.Sprintf("warmup-%d", i),
					SourceImageRef: "https://cdn.example.com/p.jpg",
				})
				if err != nil {
					t.Fatalf("Submit warmup %d: %v", i, err)
				}
			}

			results := make(chan error, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := h.uc.Submit(context.Background(), dto.SubmitAsset{
						TenantID:       "tenant-1",
						ProductID:      fmt.Sprintf("racer-%d", i),
						SourceImageRef: "https://cdn.example.com/p.jpg",
					})
					results <- err
				}(i)
			}
			wg.Wait()
			close(results)

			var ok, exceeded int
			for err := range results {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, errs.ErrQuotaExceeded):
					exceeded++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if ok != 1 || exceeded != n-1 {
				t.Fatalf("ok = %d, exceeded = %d, want exactly one winner of %d", ok, exceeded, n)
			}
			if got := h.quota.used("tenant-1", entity.QuotaPrep); got != 3 {
				t.Fatalf("prep quota used = %d, want 3", got)
			}
		})
	}
}

func TestSubmitRejectsEmptyFields(t *testing.T) {
	h := newPrepHarness(3)

	_, err := h.uc.Submit(context.Background(), dto.SubmitAsset{TenantID: "t"})
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSubmitRevivesFailedAsset(t *testing.T) {
	h := newPrepHarness(3)
	asset := submit(t, h)

	// force the asset into failed
	now := time.Now()
	stored, _ := h.assets.GetByID(context.Background(), asset.ID)
	_ = stored.Claim(now)
	_ = stored.MarkFailed("boom", now)
	_ = h.assets.Update(context.Background(), stored)

	revived, err := h.uc.Submit(context.Background(), dto.SubmitAsset{
		TenantID:       "tenant-1",
		ProductID:      "product-1",
		SourceImageRef: "https://cdn.example.com/chair-v2.jpg",
	})
	if err != nil {
		t.Fatalf("Submit(revive): %v", err)
	}

	if revived.ID != asset.ID {
		t.Fatal("revival must keep the asset identity")
	}
	if revived.Status != entity.AssetUnprepared {
		t.Fatalf("revived status = %q, want unprepared", revived.Status)
	}
	if revived.SourceImageRef != "https://cdn.example.com/chair-v2.jpg" {
		t.Fatalf("revived source ref = %q", revived.SourceImageRef)
	}
	if got := h.quota.used("tenant-1", entity.QuotaPrep); got != 2 {
		t.Fatalf("prep quota used = %d, want 2 (revival reserves again)", got)
	}
}

func TestProcessBatchSuccess(t *testing.T) {
	h := newPrepHarness(3)
	asset := submit(t, h)

	n, err := h.uc.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("claimed = %d, want 1", n)
	}

	got, _ := h.assets.GetByID(context.Background(), asset.ID)
	if got.Status != entity.AssetReady {
		t.Fatalf("status = %q, want ready (lastError=%v)", got.Status, got.LastError)
	}
	if got.Enabled {
		t.Fatal("pipeline success must not enable the asset")
	}
	if got.CutoutKey == nil {
		t.Fatal("ready asset must have a cutout key")
	}
	if _, err := h.store.Download(context.Background(), *got.CutoutKey); err != nil {
		t.Fatalf("cutout not stored under %q: %v", *got.CutoutKey, err)
	}
	if got.Placement == nil || got.Placement.Role != "floor" {
		t.Fatalf("placement = %+v, want derived metadata", got.Placement)
	}

	kinds := h.outbox.kinds()
	if len(kinds) != 1 || kinds[0] != entity.EventAssetReady {
		t.Fatalf("outbox kinds = %v, want [asset.ready]", kinds)
	}
}

func TestProcessBatchInvalidInputFailsImmediately(t *testing.T) {
	h := newPrepHarness(3)
	asset := submit(t, h)

	h.fetch.err = errs.Classify(errs.ClassInvalidInput, errors.New("source image is empty"))

	if _, err := h.uc.ProcessBatch(context.Background(), 10); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	got, _ := h.assets.GetByID(context.Background(), asset.ID)
	if got.Status != entity.AssetFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("invalid input must not consume retries, got %d", got.RetryCount)
	}

	kinds := h.outbox.kinds()
	if len(kinds) != 1 || kinds[0] != entity.EventAssetFailed {
		t.Fatalf("outbox kinds = %v, want [asset.failed]", kinds)
	}
}

func TestProcessBatchTransientErrorRetriesThenFails(t *testing.T) {
	h := newPrepHarness(2)
	asset := submit(t, h)

	h.gen.removeErr = errs.Classify(errs.ClassTransientExternal, errors.New("rate limited"))

	// attempt 1: released for retry
	if _, err := h.uc.ProcessBatch(context.Background(), 10); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	got, _ := h.assets.GetByID(context.Background(), asset.ID)
	if got.Status != entity.AssetPreparing || got.RetryCount != 1 {
		t.Fatalf("after attempt 1: status=%q retries=%d", got.Status, got.RetryCount)
	}
	if got.ClaimedAt != nil {
		t.Fatal("released asset must be reclaimable")
	}
	if len(h.outbox.kinds()) != 0 {
		t.Fatal("a retryable failure must not emit events")
	}

	// attempt 2: budget exhausted, terminal
	if _, err := h.uc.ProcessBatch(context.Background(), 10); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	got, _ = h.assets.GetByID(context.Background(), asset.ID)
	if got.Status != entity.AssetFailed {
		t.Fatalf("after attempt 2: status=%q, want failed", got.Status)
	}
	if h.gen.removeCalled != 2 {
		t.Fatalf("provider called %d times, want 2", h.gen.removeCalled)
	}
}

func TestProcessBatchPlacementFailureIsSoft(t *testing.T) {
	h := newPrepHarness(3)
	asset := submit(t, h)

	h.gen.deriveErr = errs.Classify(errs.ClassTransientExternal, errors.New("derive timeout"))

	if _, err := h.uc.ProcessBatch(context.Background(), 10); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	got, _ := h.assets.GetByID(context.Background(), asset.ID)
	if got.Status != entity.AssetReady {
		t.Fatalf("status = %q, want ready despite derive failure", got.Status)
	}
	if got.Placement != nil {
		t.Fatalf("placement = %+v, want nil", got.Placement)
	}
}

func TestEnableDisableInvalidatesLiveCache(t *testing.T) {
	h := newPrepHarness(3)
	asset := submit(t, h)

	if _, err := h.uc.ProcessBatch(context.Background(), 10); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	key := liveCacheKey("tenant-1", "product-1")
	_ = h.cache.Set(context.Background(), key, []byte("false"), time.Minute)

	if err := h.uc.Enable(context.Background(), asset.ID); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if _, err := h.cache.Get(context.Background(), key); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatal("Enable must invalidate the live cache entry")
	}

	got, _ := h.assets.GetByID(context.Background(), asset.ID)
	if !got.IsLive() {
		t.Fatal("enabled asset must be live")
	}

	if err := h.uc.Disable(context.Background(), asset.ID); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	got, _ = h.assets.GetByID(context.Background(), asset.ID)
	if got.IsLive() {
		t.Fatal("disabled asset must not be live")
	}
}

func TestEnableRejectsUnpreparedAsset(t *testing.T) {
	h := newPrepHarness(3)
	asset := submit(t, h)

	err := h.uc.Enable(context.Background(), asset.ID)
	if err == nil {
		t.Fatal("Enable before ready must fail")
	}
	if errs.ClassOf(err) != errs.ClassInvalidInput {
		t.Fatalf("class = %q, want invalid_input", errs.ClassOf(err))
	}
}

func TestGetAssetSignsCutoutURL(t *testing.T) {
	h := newPrepHarness(3)
	asset := submit(t, h)

	if _, err := h.uc.ProcessBatch(context.Background(), 10); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	view, err := h.uc.GetAsset(context.Background(), asset.ID)
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if view.CutoutURL == nil {
		t.Fatal("ready asset view must carry a signed cutout URL")
	}
}
