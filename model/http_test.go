// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package model

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixmint/pixmint/pix"
)

func respondImage(w http.ResponseWriter, data []byte, mime string) {
	json.NewEncoder(w).Encode(inferenceResponse{
		Image:    base64.StdEncoding.EncodeToString(data),
		MimeType: mime,
		Meta:     map[string]string{"model": "test-v1"},
	})
}

func TestTextToImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req inferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text_to_image", req.Operation)
		assert.Equal(t, "a sunset", req.Prompt)
		assert.Equal(t, "16:9", req.AspectRatio)
		respondImage(w, []byte("png-bytes"), "image/png")
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", 0)
	res, err := c.TextToImage(context.Background(), "a sunset", Options{AspectRatio: pix.RatioWide})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), res.Bytes)
	assert.Equal(t, "image/png", res.MimeType)
	assert.Equal(t, "test-v1", res.Meta["model"])
}

func TestImageToImageCarriesReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req inferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image_to_image", req.Operation)
		assert.Equal(t, "face", req.ReferenceKind)
		ref, err := base64.StdEncoding.DecodeString(req.Reference)
		require.NoError(t, err)
		assert.Equal(t, []byte("ref-bytes"), ref)
		respondImage(w, []byte("out"), "image/jpeg")
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 0)
	_, err := c.ImageToImage(context.Background(), "same person, older", []byte("ref-bytes"), RefFace, Options{})
	require.NoError(t, err)
}

func TestMultiReferenceCount(t *testing.T) {
	c := NewHTTPClient("http://unused.test", "", 0)

	_, err := c.MultiReferenceToImage(context.Background(), "p", []byte("t"), nil, Options{})
	assert.True(t, IsPermanent(err))

	refs := make([][]byte, pix.MaxReferenceImages+1)
	for i := range refs {
		refs[i] = []byte("r")
	}
	_, err = c.MultiReferenceToImage(context.Background(), "p", []byte("t"), refs, Options{})
	assert.True(t, IsPermanent(err))
}

func TestStatusMapping(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(inferenceResponse{Error: "nope"})
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "", 0)

	status = http.StatusTooManyRequests
	_, err := c.TextToImage(context.Background(), "p", Options{})
	assert.True(t, IsRetryable(err))

	status = http.StatusServiceUnavailable
	_, err = c.TextToImage(context.Background(), "p", Options{})
	assert.True(t, IsRetryable(err))

	status = http.StatusBadRequest
	_, err = c.TextToImage(context.Background(), "p", Options{})
	assert.True(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "nope")
}

func TestDegenerateResponses(t *testing.T) {
	payload := inferenceResponse{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "", 0)

	// empty image
	payload = inferenceResponse{Image: "", MimeType: "image/png"}
	_, err := c.TextToImage(context.Background(), "p", Options{})
	assert.True(t, IsPermanent(err))

	// unsupported mime
	payload = inferenceResponse{Image: base64.StdEncoding.EncodeToString([]byte("x")), MimeType: "application/pdf"}
	_, err = c.TextToImage(context.Background(), "p", Options{})
	assert.True(t, IsPermanent(err))
}

func TestUnreachableEndpointIsRetryable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "", 0)
	_, err := c.TextToImage(context.Background(), "p", Options{})
	assert.True(t, IsRetryable(err))
}
