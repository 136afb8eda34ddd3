package uploads

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"

	"docchat-backend/internal/documents"
	"docchat-backend/internal/ingestion"
	"docchat-backend/internal/queue"
	localstore "docchat-backend/internal/shared/storage/object/local"
)

func TestPresignSignedHeadersExcludeContentLength(t *testing.T) {
	cfg := aws.Config{
		Region:      "us-east-1",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider("AKID", "SECRET", "")),
	}
	client := s3.NewFromConfig(cfg)
	presigner := s3.NewPresignClient(client)

	input := presignInput("bucket", "uploads/u1/report.pdf")
	out, err := presigner.PresignPutObject(context.Background(), input)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}

	parsed, err := url.Parse(out.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}

	signed := parsed.Query().Get("X-Amz-SignedHeaders")
	if signed == "" {
		t.Fatalf("expected X-Amz-SignedHeaders")
	}
	if strings.Contains(signed, "content-length") {
		t.Fatalf("unexpected content-length in signed headers: %s", signed)
	}
	if !strings.Contains(signed, "host") {
		t.Fatalf("expected host in signed headers: %s", signed)
	}
}

type fixture struct {
	router *gin.Engine
	docs   *documents.MemoryRepo
	jobs   *queue.MemoryQueue
}

func newFixture(t *testing.T, presign Presigner) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	docs := documents.NewMemoryRepo()
	jobs := queue.NewMemoryQueue(time.Minute)
	t.Cleanup(jobs.Close)
	machine := &ingestion.Machine{Documents: docs, Jobs: jobs, Accept: []string{".pdf", ".txt"}}

	h := NewHandler(localstore.New(t.TempDir()), machine, presign, "bucket", "/uploads/")
	r := gin.New()
	api := r.Group("/api/v1", func(c *gin.Context) { c.Set("userId", c.GetHeader("X-Test-User")) })
	h.RegisterRoutes(api)
	return &fixture{router: r, docs: docs, jobs: jobs}
}

func (f *fixture) upload(t *testing.T, user, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(formFileField, filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Test-User", user)
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func TestUploadIsIdempotentPerOwnerAndKey(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.upload(t, "u1", "doc1.txt", "hello world")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var doc documents.DocumentResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != documents.StatusUploaded || doc.ByteSize != int64(len("hello world")) {
		t.Fatalf("unexpected document: %+v", doc)
	}

	// Same file again: same document.
	resp = f.upload(t, "u1", "doc1.txt", "hello world")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", resp.Code)
	}
	docs, _ := f.docs.List(context.Background(), "u1")
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].ArtifactKey != "u1/doc1.txt" {
		t.Fatalf("unexpected artifact key %q", docs[0].ArtifactKey)
	}
	// The first upload's job was sent, so the duplicate does not queue another.
	if f.jobs.Len() != 1 {
		t.Fatalf("expected 1 queued job, got %d", f.jobs.Len())
	}
	if docs[0].EnqueuedAt.IsZero() {
		t.Fatalf("expected enqueue time to be recorded")
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.upload(t, "u1", "photo.png", "\x89PNG")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if f.jobs.Len() != 0 {
		t.Fatalf("no job expected")
	}
}

func TestPresignRouteOnlyWithPresigner(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/presign", strings.NewReader(`{"fileName":"a.pdf","sizeBytes":10}`))
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without presigner, got %d", resp.Code)
	}
}

var _ Presigner = (*s3.PresignClient)(nil)

type recordingPresigner struct {
	key string
}

func (p *recordingPresigner) PresignPutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	p.key = aws.ToString(in.Key)
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + p.key, Method: http.MethodPut}, nil
}

func TestPresignUsesOwnerKeyLayout(t *testing.T) {
	p := &recordingPresigner{}
	f := newFixture(t, p)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/presign", strings.NewReader(`{"fileName":"Q3 report.pdf","sizeBytes":1024}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", "u1")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out presignResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.S3Key != "uploads/u1/Q3 report.pdf" || p.key != out.S3Key {
		t.Fatalf("unexpected key %q (presigned %q)", out.S3Key, p.key)
	}
	if out.ExpiresInSeconds != int64(presignExpires.Seconds()) {
		t.Fatalf("unexpected expiry %d", out.ExpiresInSeconds)
	}

	for _, body := range []string{`{"fileName":"x.exe","sizeBytes":10}`, `{"fileName":"a.pdf","sizeBytes":0}`, `{"fileName":"../a.pdf","sizeBytes":10}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/presign", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-User", "u1")
		resp := httptest.NewRecorder()
		f.router.ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, resp.Code)
		}
	}
}
