package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-backend/internal/documents"
	"docchat-backend/internal/shared/auth"
	"docchat-backend/internal/shared/config"
)

func devConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:                 "dev",
		ObjectStoreType:     "local",
		LocalStoreDir:       t.TempDir(),
		VisibilityTimeout:   time.Minute,
		WorkerConcurrency:   2,
		ShutdownTimeout:     time.Second,
		AcceptedSuffixes:    []string{".txt", ".md"},
		LLMProvider:         "local",
		EmbeddingDimensions: 64,
		FetchTimeout:        5 * time.Second,
		EmbedTimeout:        5 * time.Second,
		GenerateTimeout:     5 * time.Second,
		RetryAttempts:       2,
		RetrievalTopK:       4,
		ContextBudgetChars:  4000,
		HistoryTurns:        10,
		ChunkSize:           200,
		ChunkOverlap:        20,
		WSAllowedOrigins:    []string{"localhost:*"},
	}
}

func TestBuildDevUsesInMemoryBackends(t *testing.T) {
	app, err := Build(devConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	assert.Nil(t, app.DB)
	assert.NotNil(t, app.DevQueue)
	assert.Nil(t, app.UploadsRunner())
	assert.NotNil(t, app.Router)
	assert.True(t, app.Health.Status(context.Background()).OK)
}

func TestBuildFailsWithoutDatabaseOutsideDev(t *testing.T) {
	cfg := devConfig(t)
	cfg.Env = "staging"
	cfg.DatabaseURL = ""
	_, err := Build(cfg)
	require.Error(t, err)
}

func TestUploadIsIndexedByInProcessWorker(t *testing.T) {
	app, err := Build(devConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.JobsRunner().Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	token, err := app.Verifier.Sign(auth.Claims{Sub: "u1"})
	require.NoError(t, err)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("The quarterly revenue grew by twelve percent. Churn stayed flat."))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var created documents.DocumentResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+created.DocumentID, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp := httptest.NewRecorder()
		app.Router.ServeHTTP(resp, req)
		var doc documents.DocumentResponse
		if resp.Code != http.StatusOK || json.Unmarshal(resp.Body.Bytes(), &doc) != nil {
			return false
		}
		return doc.Status == documents.StatusReady
	}, 5*time.Second, 20*time.Millisecond)

	n, err := app.Chunks.Count(context.Background(), created.DocumentID)
	require.NoError(t, err)
	assert.Positive(t, n)
}
