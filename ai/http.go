package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"imagededup/types"
)

// Config holds configuration for the HTTP model server client.
type Config struct {
	BaseURL           string // e.g. "http://localhost:8000"
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables rate limiting
	ProbeTTL          time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "http://localhost:8000",
		Timeout:  30 * time.Second,
		ProbeTTL: 30 * time.Second,
	}
}

// HTTPProvider talks to a model server exposing /health, /embed and /detect.
// It implements both Embedder and Detector.
type HTTPProvider struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	probes     *cache.Cache
}

// NewHTTPProvider creates a new model server client.
func NewHTTPProvider(config Config) *HTTPProvider {
	limit := rate.Inf
	burst := 0
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
		burst = max(1, int(config.RequestsPerSecond))
	}
	ttl := config.ProbeTTL
	if ttl <= 0 {
		ttl = DefaultConfig().ProbeTTL
	}
	return &HTTPProvider{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		probes:     cache.New(ttl, 2*ttl),
	}
}

type availability struct {
	ok     bool
	reason string
}

type healthResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Available probes GET /health. Results are cached for ProbeTTL.
func (c *HTTPProvider) Available(ctx context.Context) (bool, string) {
	if v, found := c.probes.Get("health"); found {
		a := v.(availability)
		return a.ok, a.reason
	}

	a := c.probe(ctx)
	c.probes.Set("health", a, cache.DefaultExpiration)
	if !a.ok {
		log.Warn("model server unavailable", "url", c.config.BaseURL, "reason", a.reason)
	}
	return a.ok, a.reason
}

func (c *HTTPProvider) probe(ctx context.Context) availability {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return availability{reason: fmt.Sprintf("invalid endpoint: %v", err)}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return availability{reason: fmt.Sprintf("%v: %v", ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	var health healthResponse
	_ = json.NewDecoder(resp.Body).Decode(&health)
	if resp.StatusCode != http.StatusOK {
		reason := health.Reason
		if reason == "" {
			reason = fmt.Sprintf("health check returned status %d", resp.StatusCode)
		}
		return availability{reason: reason}
	}
	return availability{ok: true}
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed posts the image to /embed and returns the embedding vector.
func (c *HTTPProvider) Embed(ctx context.Context, path, device string) ([]float32, error) {
	query := url.Values{"device": {device}}
	var resp embedResponse
	if err := c.postImage(ctx, "/embed", query, path, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding for %s", path)
	}
	return resp.Embedding, nil
}

type apiDetection struct {
	Label string            `json:"label"`
	Score float64           `json:"score"`
	Box   types.BoundingBox `json:"bbox"`
}

type detectResponse struct {
	Faces   []apiDetection `json:"faces"`
	Objects []apiDetection `json:"objects"`
}

// Detect posts the image to /detect and returns the requested detections.
func (c *HTTPProvider) Detect(ctx context.Context, path string, req DetectRequest, device string) (DetectResult, error) {
	query := url.Values{
		"device":  {device},
		"faces":   {strconv.FormatBool(req.Faces)},
		"objects": {strconv.FormatBool(req.Objects)},
	}
	var resp detectResponse
	if err := c.postImage(ctx, "/detect", query, path, &resp); err != nil {
		return DetectResult{}, err
	}

	var result DetectResult
	if req.Faces {
		result.Faces = convertDetections(resp.Faces)
	}
	if req.Objects {
		result.Objects = convertDetections(resp.Objects)
	}
	return result, nil
}

func convertDetections(in []apiDetection) []types.Detection {
	out := make([]types.Detection, 0, len(in))
	for _, d := range in {
		out = append(out, types.Detection{Label: d.Label, Confidence: d.Score, Box: d.Box})
	}
	return out
}

func (c *HTTPProvider) postImage(ctx context.Context, endpoint string, query url.Values, path string, out any) error {
	imageData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint+"?"+query.Encode(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call model server: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server error (status %d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
