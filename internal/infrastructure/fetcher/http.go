package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roomviz/render-engine/pkg/types/errs"
)

const _defaultMaxBytes = 20 * 1024 * 1024

// HTTPFetcher downloads source images from merchant-supplied references.
// Zero-byte and oversized bodies are rejected up front as invalid input;
// they would only waste provider spend further down the pipeline.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

func New(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if maxBytes <= 0 {
		maxBytes = _defaultMaxBytes
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, errs.Classify(errs.ClassInvalidInput,
			fmt.Errorf("HTTPFetcher - Fetch - http.NewRequestWithContext: %w", err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errs.Classify(errs.ClassTransientExternal,
			fmt.Errorf("HTTPFetcher - Fetch - f.client.Do: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, errs.Classify(errs.ClassTransientExternal,
			fmt.Errorf("HTTPFetcher - Fetch: status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, errs.Classify(errs.ClassInvalidInput,
			fmt.Errorf("HTTPFetcher - Fetch: status %d", resp.StatusCode))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, errs.Classify(errs.ClassTransientExternal,
			fmt.Errorf("HTTPFetcher - Fetch - io.ReadAll: %w", err))
	}

	if len(b) == 0 {
		return nil, errs.Classify(errs.ClassInvalidInput, errors.New("source image is empty"))
	}
	if int64(len(b)) > f.maxBytes {
		return nil, errs.Classify(errs.ClassInvalidInput,
			fmt.Errorf("source image exceeds %d bytes", f.maxBytes))
	}

	return b, nil
}
