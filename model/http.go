// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pixmint/pixmint/log"
	"github.com/pixmint/pixmint/metrics"
	"github.com/pixmint/pixmint/pix"
)

var logger = log.WithContext("pkg", "model")

var meterCalls = metrics.LazyLoad(func() metrics.HistogramVecMeter {
	return metrics.HistogramVec("model_call_duration_ms", []string{"operation", "outcome"}, metrics.BucketModelCalls)
})

const defaultCallTimeout = 2 * time.Minute

// HTTPClient talks to an inference endpoint over JSON. Reference images
// travel base64-encoded in the request body.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient builds a client for the inference endpoint. timeout <= 0
// selects the default.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type inferenceRequest struct {
	Operation     string   `json:"operation"`
	Prompt        string   `json:"prompt"`
	AspectRatio   string   `json:"aspectRatio,omitempty"`
	Reference     string   `json:"reference,omitempty"`
	ReferenceKind string   `json:"referenceKind,omitempty"`
	Target        string   `json:"target,omitempty"`
	References    []string `json:"references,omitempty"`
}

type inferenceResponse struct {
	Image    string            `json:"image"`
	MimeType string            `json:"mimeType"`
	Meta     map[string]string `json:"meta"`
	Error    string            `json:"error"`
}

func (c *HTTPClient) TextToImage(ctx context.Context, prompt string, opts Options) (*Result, error) {
	return c.call(ctx, &inferenceRequest{
		Operation:   "text_to_image",
		Prompt:      prompt,
		AspectRatio: string(opts.AspectRatio),
	})
}

func (c *HTTPClient) ImageToImage(ctx context.Context, prompt string, reference []byte, kind ReferenceKind, opts Options) (*Result, error) {
	return c.call(ctx, &inferenceRequest{
		Operation:     "image_to_image",
		Prompt:        prompt,
		AspectRatio:   string(opts.AspectRatio),
		Reference:     base64.StdEncoding.EncodeToString(reference),
		ReferenceKind: string(kind),
	})
}

func (c *HTTPClient) MultiReferenceToImage(ctx context.Context, prompt string, target []byte, references [][]byte, opts Options) (*Result, error) {
	if len(references) < 1 || len(references) > pix.MaxReferenceImages {
		return nil, Permanent(nil, "reference image count out of range")
	}
	refs := make([]string, len(references))
	for i, r := range references {
		refs[i] = base64.StdEncoding.EncodeToString(r)
	}
	return c.call(ctx, &inferenceRequest{
		Operation:   "multi_reference_to_image",
		Prompt:      prompt,
		AspectRatio: string(opts.AspectRatio),
		Target:      base64.StdEncoding.EncodeToString(target),
		References:  refs,
	})
}

func (c *HTTPClient) call(ctx context.Context, req *inferenceRequest) (*Result, error) {
	start := time.Now()
	result, err := c.doCall(ctx, req)

	outcome := "ok"
	switch {
	case IsRetryable(err):
		outcome = "retryable"
	case err != nil:
		outcome = "permanent"
	}
	meterCalls().ObserveWithLabels(time.Since(start).Milliseconds(), map[string]string{
		"operation": req.Operation,
		"outcome":   outcome,
	})
	return result, err
}

func (c *HTTPClient) doCall(ctx context.Context, req *inferenceRequest) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, Permanent(err, "encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, Retryable(err, "model endpoint unreachable")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, Retryable(err, "read model response")
	}

	if resp.StatusCode != http.StatusOK {
		msg := shortError(respBody)
		logger.Warn("model call failed", "operation", req.Operation, "status", resp.StatusCode, "msg", msg)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, Retryable(nil, "model returned %d: %s", resp.StatusCode, msg)
		}
		return nil, Permanent(nil, "model rejected request: %s", msg)
	}

	var ir inferenceResponse
	if err := json.Unmarshal(respBody, &ir); err != nil {
		return nil, Retryable(err, "decode model response")
	}
	data, err := base64.StdEncoding.DecodeString(ir.Image)
	if err != nil {
		return nil, Permanent(err, "model returned undecodable image")
	}
	if len(data) == 0 {
		return nil, Permanent(nil, "model returned empty image")
	}
	if !pix.ValidImageMime(ir.MimeType) {
		return nil, Permanent(nil, "model returned unsupported mime type %q", ir.MimeType)
	}

	return &Result{Bytes: data, MimeType: ir.MimeType, Meta: ir.Meta}, nil
}

func shortError(body []byte) string {
	var ir inferenceResponse
	if err := json.Unmarshal(body, &ir); err == nil && ir.Error != "" {
		return ir.Error
	}
	const max = 200
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}

var _ Client = (*HTTPClient)(nil)
