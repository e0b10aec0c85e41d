package compute

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/envutil"
)

const (
	buildModelPath    = "/v1/venues/build_model"
	renderDepthsPath  = "/v1/venues/render_depths"
	generateImagePath = "/v1/venues/generate_image"
)

// HTTPClient is the production Client. Binary payloads (blend files, depth
// maps, images) travel base64-encoded inside JSON bodies.
type HTTPClient struct {
	baseURL string
	token   string

	buildTimeout  time.Duration
	renderTimeout time.Duration
	imageTimeout  time.Duration

	httpClient *http.Client
}

type HTTPConfig struct {
	BaseURL string
	Token   string

	BuildTimeout  time.Duration
	RenderTimeout time.Duration
	ImageTimeout  time.Duration
}

func HTTPConfigFromEnv() HTTPConfig {
	return HTTPConfig{
		BaseURL:       envutil.Get("COMPUTE_BASE_URL", ""),
		Token:         envutil.Get("COMPUTE_API_TOKEN", ""),
		BuildTimeout:  time.Duration(envutil.Int("COMPUTE_BUILD_TIMEOUT_SECONDS", 600)) * time.Second,
		RenderTimeout: time.Duration(envutil.Int("COMPUTE_RENDER_TIMEOUT_SECONDS", 600)) * time.Second,
		ImageTimeout:  time.Duration(envutil.Int("COMPUTE_IMAGE_TIMEOUT_SECONDS", 180)) * time.Second,
	}
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("compute: COMPUTE_BASE_URL required")
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	c := &HTTPClient{
		baseURL:       baseURL,
		token:         strings.TrimSpace(cfg.Token),
		buildTimeout:  cfg.BuildTimeout,
		renderTimeout: cfg.RenderTimeout,
		imageTimeout:  cfg.ImageTimeout,
		httpClient:    &http.Client{Transport: tr},
	}
	if c.buildTimeout <= 0 {
		c.buildTimeout = 10 * time.Minute
	}
	if c.renderTimeout <= 0 {
		c.renderTimeout = 10 * time.Minute
	}
	if c.imageTimeout <= 0 {
		c.imageTimeout = 3 * time.Minute
	}
	return c, nil
}

// NewHTTPClientWithTransport is intended for tests; it avoids network access
// by using a custom RoundTripper.
func NewHTTPClientWithTransport(cfg HTTPConfig, httpClient *http.Client) (*HTTPClient, error) {
	c, err := NewHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c, nil
}

type buildModelRequest struct {
	VenueID  string               `json:"venue_id"`
	Sections []domain.SectionSpec `json:"sections"`
	Surface  domain.SurfaceConfig `json:"surface"`
}

type buildModelResponse struct {
	BlendFileB64 string `json:"blend_file_b64"`
	PreviewB64   string `json:"preview_b64"`
}

func (c *HTTPClient) BuildVenueModel(ctx context.Context, venueID string, sections []domain.SectionSpec, surface domain.SurfaceConfig) (*ModelResult, error) {
	const op = "compute.build_model"
	req := buildModelRequest{VenueID: venueID, Sections: sections, Surface: surface}
	var resp buildModelResponse
	if err := c.doJSON(ctx, c.buildTimeout, buildModelPath, req, &resp, op); err != nil {
		return nil, err
	}
	blend, err := decodeB64(op, "blend_file_b64", resp.BlendFileB64)
	if err != nil {
		return nil, err
	}
	preview, err := decodeB64(op, "preview_b64", resp.PreviewB64)
	if err != nil {
		return nil, err
	}
	if len(blend) == 0 {
		return nil, errkind.New(errkind.Transient, op, "compute returned empty blend file")
	}
	return &ModelResult{BlendFile: blend, Preview: preview}, nil
}

type renderDepthsRequest struct {
	BlendFileB64 string        `json:"blend_file_b64"`
	Seats        []domain.Seat `json:"seats"`
}

type renderDepthsResponse struct {
	DepthMapsB64 map[string]string `json:"depth_maps_b64"`
}

func (c *HTTPClient) RenderDepthMaps(ctx context.Context, blend []byte, seats []domain.Seat) (map[string][]byte, error) {
	const op = "compute.render_depths"
	req := renderDepthsRequest{BlendFileB64: encodeB64(blend), Seats: seats}
	var resp renderDepthsResponse
	if err := c.doJSON(ctx, c.renderTimeout, renderDepthsPath, req, &resp, op); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(resp.DepthMapsB64))
	for seatID, b64 := range resp.DepthMapsB64 {
		data, err := decodeB64(op, "depth_maps_b64."+seatID, b64)
		if err != nil {
			return nil, err
		}
		out[seatID] = data
	}
	return out, nil
}

type generateImageRequest struct {
	SeatID            string  `json:"seat_id"`
	DepthMapB64       string  `json:"depth_map_b64"`
	Prompt            string  `json:"prompt"`
	Model             string  `json:"model"`
	Strength          float64 `json:"strength"`
	IPAdapterScale    float64 `json:"ip_adapter_scale"`
	ReferenceImageB64 string  `json:"reference_image_b64,omitempty"`
}

type generateImageResponse struct {
	ImageB64 string `json:"image_b64"`
}

func (c *HTTPClient) GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error) {
	const op = "compute.generate_image"
	body := generateImageRequest{
		SeatID:            req.SeatID,
		DepthMapB64:       encodeB64(req.DepthMap),
		Prompt:            req.Prompt,
		Model:             req.Model,
		Strength:          req.Strength,
		IPAdapterScale:    req.IPAdapterScale,
		ReferenceImageB64: encodeB64(req.ReferenceImage),
	}
	var resp generateImageResponse
	if err := c.doJSON(ctx, c.imageTimeout, generateImagePath, body, &resp, op); err != nil {
		return nil, err
	}
	img, err := decodeB64(op, "image_b64", resp.ImageB64)
	if err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, errkind.New(errkind.Transient, op, "compute returned empty image for seat %s", req.SeatID)
	}
	return img, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, timeout time.Duration, path string, body any, out any, op string) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return errkind.Wrap(errkind.NonRetryable, op, err)
	}

	ctx2 := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx2, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx2, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return errkind.Wrap(errkind.NonRetryable, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errkind.Wrap(errkind.Cancelled, op, ctx.Err())
		}
		return errkind.Wrap(errkind.Transient, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return classifyStatus(op, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errkind.Wrap(errkind.Transient, op, err)
	}
	return nil
}

// classifyStatus maps compute service responses onto retry semantics:
// 429 is rate limiting, 400 is a config error, 401/403 is auth, anything
// else (5xx, odd codes) is transient.
func classifyStatus(op string, status int, body string) error {
	msg := strings.TrimSpace(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return errkind.New(errkind.RateLimited, op, "compute rate limited (429): %s", msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errkind.New(errkind.NonRetryable, op, "compute auth rejected (%d): %s", status, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return errkind.New(errkind.NonRetryable, op, "compute rejected request (%d): %s", status, msg)
	case status == http.StatusNotFound:
		return errkind.New(errkind.NotFound, op, "compute endpoint missing (404): %s", msg)
	default:
		return errkind.New(errkind.Transient, op, "compute error (%d): %s", status, msg)
	}
}

func encodeB64(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func decodeB64(op, field, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, op, fmt.Errorf("decode %s: %w", field, err))
	}
	return data, nil
}
