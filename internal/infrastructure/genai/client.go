package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/roomviz/render-engine/internal/entity"
	"github.com/roomviz/render-engine/pkg/types/errs"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	_defaultRemovalTimeout   = 30 * time.Second
	_defaultCompositeTimeout = 90 * time.Second
	_defaultDeriveTimeout    = 20 * time.Second
)

// Client adapts the Gemini image models to the ImageGenerator contract.
// Each operation is one bounded request/response call; there is no
// streaming and no provider-side job handle to poll.
type Client struct {
	client *genai.Client
	model  string
	http   *http.Client

	removalTimeout   time.Duration
	compositeTimeout time.Duration
}

func New(ctx context.Context, apiKey, model string, opts ...Option) (*Client, error) {
	gc, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("genai - New - genai.NewClient: %w", err)
	}

	c := &Client{
		client:           gc,
		model:            model,
		http:             &http.Client{Timeout: 30 * time.Second},
		removalTimeout:   _defaultRemovalTimeout,
		compositeTimeout: _defaultCompositeTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) RemoveBackground(ctx context.Context, image []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.removalTimeout)
	defer cancel()

	prompt := "Remove the background from this product photo. " +
		"Return only the product cutout on a fully transparent background, " +
		"preserving fine edges and the original resolution."

	out, err := c.generateImage(callCtx, genai.Text(prompt), genai.ImageData("png", image))
	if err != nil {
		return nil, fmt.Errorf("genai - RemoveBackground: %w", err)
	}

	return out, nil
}

func (c *Client) GenerateComposite(ctx context.Context, roomImageRef, productImageRef string, placement entity.Placement, instructions string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.compositeTimeout)
	defer cancel()

	roomBytes, err := c.fetchRef(callCtx, roomImageRef)
	if err != nil {
		return nil, fmt.Errorf("genai - GenerateComposite - c.fetchRef(room): %w", err)
	}
	productBytes, err := c.fetchRef(callCtx, productImageRef)
	if err != nil {
		return nil, fmt.Errorf("genai - GenerateComposite - c.fetchRef(product): %w", err)
	}

	prompt := fmt.Sprintf(
		"Composite the product (second image) into the room photo (first image). "+
			"Place its center at normalized coordinates x=%.3f, y=%.3f with scale %.3f "+
			"relative to the room width. Match the room's lighting, perspective and shadows "+
			"so the result looks photographic. %s",
		placement.X, placement.Y, placement.Scale, instructions)

	out, err := c.generateImage(callCtx,
		genai.Text(prompt),
		genai.ImageData("png", roomBytes),
		genai.ImageData("png", productBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("genai - GenerateComposite: %w", err)
	}

	return out, nil
}

func (c *Client) RemoveObjects(ctx context.Context, roomImageRef string, mask []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.compositeTimeout)
	defer cancel()

	roomBytes, err := c.fetchRef(callCtx, roomImageRef)
	if err != nil {
		return nil, fmt.Errorf("genai - RemoveObjects - c.fetchRef(room): %w", err)
	}

	prompt := "Remove the objects covered by the white areas of the mask (second image) " +
		"from the room photo (first image). Inpaint the removed regions so floor, walls " +
		"and lighting continue naturally. Change nothing outside the masked areas."

	out, err := c.generateImage(callCtx,
		genai.Text(prompt),
		genai.ImageData("png", roomBytes),
		genai.ImageData("png", mask),
	)
	if err != nil {
		return nil, fmt.Errorf("genai - RemoveObjects: %w", err)
	}

	return out, nil
}

// DerivePlacement asks the model to describe how the object should be
// placed. Best effort: the caller logs failures and moves on.
func (c *Client) DerivePlacement(ctx context.Context, cutout []byte) (*entity.PlacementMetadata, error) {
	callCtx, cancel := context.WithTimeout(ctx, _defaultDeriveTimeout)
	defer cancel()

	prompt := `Classify this product cutout for room placement. Respond with JSON only:
{"role": "<floor|wall|ceiling|tabletop>", "replacement_policy": "<replace_similar|add_only>",
"allow_context_synthesis": <bool>, "suggested_scale": <0..1 or null>}`

	model := c.client.GenerativeModel(c.model)
	resp, err := model.GenerateContent(callCtx, genai.Text(prompt), genai.ImageData("png", cutout))
	if err != nil {
		return nil, classify(err)
	}

	text, err := firstText(resp)
	if err != nil {
		return nil, err
	}

	var meta entity.PlacementMetadata
	if err := json.Unmarshal([]byte(text), &meta); err != nil {
		return nil, errs.Classify(errs.ClassTransientExternal,
			fmt.Errorf("genai - DerivePlacement - json.Unmarshal: %w", err))
	}

	return &meta, nil
}

func (c *Client) generateImage(ctx context.Context, parts ...genai.Part) ([]byte, error) {
	model := c.client.GenerativeModel(c.model)

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errs.Classify(errs.ClassTransientExternal, errors.New("empty response"))
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if blob, ok := part.(genai.Blob); ok {
			return blob.Data, nil
		}
	}

	// text-only answer to an image request means the input confused the
	// model, not that the provider hiccuped
	return nil, errs.Classify(errs.ClassInvalidInput, errors.New("no image in response"))
}

// fetchRef resolves a signed-URL image reference into bytes. The URL was
// minted just before the call, so expiry here indicates a real bug.
func (c *Client) fetchRef(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, errs.Classify(errs.ClassInvalidInput, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Classify(errs.ClassStorage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		class := errs.ClassStorage
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			class = errs.ClassInvalidInput
		}
		return nil, errs.Classify(class, fmt.Errorf("fetch %d", resp.StatusCode))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Classify(errs.ClassStorage, err)
	}

	return b, nil
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errs.Classify(errs.ClassTransientExternal, errors.New("empty response"))
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text), nil
		}
	}
	return "", errs.Classify(errs.ClassTransientExternal, errors.New("no text in response"))
}

// classify maps provider failures onto the retry taxonomy: timeouts, rate
// limits and 5xx are transient; 4xx means the input itself is bad.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Classify(errs.ClassTransientExternal, fmt.Errorf("timeout: %w", err))
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return errs.Classify(errs.ClassTransientExternal, fmt.Errorf("rate_limited: %w", err))
		case gerr.Code >= 400 && gerr.Code < 500:
			return errs.Classify(errs.ClassInvalidInput, err)
		}
	}

	return errs.Classify(errs.ClassTransientExternal, fmt.Errorf("provider_error: %w", err))
}
