package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/config"
	"docqa/internal/index"
	"docqa/internal/models"
	"docqa/internal/rag"
)

type hashEmbedder struct{ dim int }

func (e hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (e hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e hashEmbedder) Model() string { return "hash-embed-test" }

type cannedGenerator struct{ reply string }

func (g cannedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.reply, nil
}
func (g cannedGenerator) Reachable(ctx context.Context) bool { return true }
func (g cannedGenerator) Model() string                      { return "canned-test" }

type txtExtractor struct{}

func (txtExtractor) Extract(filename string, data []byte) ([]models.Page, error) {
	return []models.Page{{Number: 1, Text: string(data)}}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := index.NewChromemMemoryStore("test", 0)
	require.NoError(t, err)
	p, err := rag.New(config.RAGConfig{ChunkSize: 1000, ChunkOverlap: 200, TopK: 4},
		txtExtractor{}, hashEmbedder{dim: 64}, store, cannedGenerator{reply: "a canned answer"})
	require.NoError(t, err)
	return New(p, config.ServerConfig{Addr: ":0"})
}

func uploadRequest(t *testing.T, field, filename, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload-pdf", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func doJSON(t *testing.T, s *Server, req *http.Request) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestUploadThenChat(t *testing.T) {
	s := newTestServer(t)

	code, body := doJSON(t, s, uploadRequest(t, "file", "facts.txt", "the capital of France is Paris"))
	require.Equal(t, http.StatusOK, code, "upload response: %v", body)
	assert.Equal(t, "success", body["status"])
	details := body["details"].(map[string]any)
	assert.Equal(t, float64(1), details["chunks_created"])

	chat := bytes.NewBufferString(`{"question": "what is the capital of France"}`)
	req := httptest.NewRequest(http.MethodPost, "/chat", chat)
	req.Header.Set("Content-Type", "application/json")
	code, body = doJSON(t, s, req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a canned answer", body["answer"])
	assert.Equal(t, false, body["used_fallback"])
	assert.NotEmpty(t, body["sources"])
}

func TestChatWithoutDocuments(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{"question": "anything"}`))
	req.Header.Set("Content-Type", "application/json")
	code, body := doJSON(t, s, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, fmt.Sprint(body["message"]), "No documents loaded")
}

func TestChatRejectsMissingQuestion(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	code, _ := doJSON(t, s, req)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	s := newTestServer(t)
	code, body := doJSON(t, s, uploadRequest(t, "file", "image.png", "binary"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", body["status"])
}

func TestStatusAndClear(t *testing.T) {
	s := newTestServer(t)

	code, body := doJSON(t, s, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "no_documents", body["status"])

	code, _ = doJSON(t, s, uploadRequest(t, "file", "doc.txt", "indexed content"))
	require.Equal(t, http.StatusOK, code)

	code, body = doJSON(t, s, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
	details := body["details"].(map[string]any)
	assert.Equal(t, float64(1), details["entry_count"])
	assert.Equal(t, "hash-embed-test", details["embedding_model"])

	code, body = doJSON(t, s, httptest.NewRequest(http.MethodDelete, "/clear", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	code, body = doJSON(t, s, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "no_documents", body["status"])
}
