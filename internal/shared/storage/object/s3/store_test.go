package s3

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"docchat-backend/internal/documents"
	"docchat-backend/internal/shared/storage/object"
)

// fakeS3 keeps objects in a map. Listings return pageSize keys and use
// the last returned key as the continuation token.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]string
	puts     []*s3.PutObjectInput
	batches  int
	pageSize int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]string), pageSize: 2}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = string(body)
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	after := aws.ToString(in.ContinuationToken)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > after {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	out := &s3.ListObjectsV2Output{}
	page := keys[:min(f.pageSize, len(keys))]
	for _, k := range page {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if len(keys) > len(page) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(page[len(page)-1])
	}
	return out, nil
}

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "u1/doc1.pdf", want: "u1/doc1.pdf"},
		{name: "uploads prefix", prefix: "uploads", key: "u1/doc1.pdf", want: "uploads/u1/doc1.pdf"},
		{name: "prefix trailing slash", prefix: "uploads/", key: "u1/doc1.pdf", want: "uploads/u1/doc1.pdf"},
		{name: "derived text key", prefix: "/uploads/", key: "/u1/doc1.pdf.extracted.txt", want: "uploads/u1/doc1.pdf.extracted.txt"},
		{name: "owner folder only", prefix: "tenant/uploads", key: "", want: "tenant/uploads"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

func TestSaveEncryptsWithKMSWhenConfigured(t *testing.T) {
	api := newFakeS3()
	store := NewWithClient(api, "docs", "/uploads/", "alias/docchat")

	key, size, _, err := store.Save(context.Background(), "u1", "doc1.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if key != "u1/doc1.txt" || size != 5 {
		t.Fatalf("unexpected key=%q size=%d", key, size)
	}
	put := api.puts[0]
	if aws.ToString(put.Key) != "uploads/u1/doc1.txt" {
		t.Fatalf("expected prefixed object key, got %q", aws.ToString(put.Key))
	}
	if put.ServerSideEncryption != s3types.ServerSideEncryptionAwsKms || aws.ToString(put.SSEKMSKeyId) != "alias/docchat" {
		t.Fatalf("expected SSE-KMS with the configured key, got %q %q", put.ServerSideEncryption, aws.ToString(put.SSEKMSKeyId))
	}
}

func TestSaveDefaultsToAES256(t *testing.T) {
	api := newFakeS3()
	store := NewWithClient(api, "docs", "", " ")

	derived := documents.DerivedTextKey("u1/doc1.pdf")
	if _, err := store.SaveWithKey(context.Background(), derived, "text/plain; charset=utf-8", strings.NewReader("page one")); err != nil {
		t.Fatalf("save: %v", err)
	}
	put := api.puts[0]
	if put.ServerSideEncryption != s3types.ServerSideEncryptionAes256 || put.SSEKMSKeyId != nil {
		t.Fatalf("expected AES256 without a KMS key, got %q", put.ServerSideEncryption)
	}
	if aws.ToString(put.ContentType) != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", aws.ToString(put.ContentType))
	}
}

func TestOpenMissingArtifactIsNotFound(t *testing.T) {
	store := NewWithClient(newFakeS3(), "docs", "uploads", "")

	_, err := object.ReadAll(context.Background(), store, "u1/gone.pdf")
	if !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected object.ErrNotFound, got %v", err)
	}
}

func TestDeletePrefixRemovesOnlyTheOwnersArtifacts(t *testing.T) {
	api := newFakeS3()
	store := NewWithClient(api, "docs", "uploads", "")
	ctx := context.Background()

	for _, key := range []string{"u1/a.pdf", "u1/a.pdf.extracted.txt", "u1/b.txt", "u2/a.pdf"} {
		if _, err := store.SaveWithKey(ctx, key, "application/octet-stream", strings.NewReader("x")); err != nil {
			t.Fatalf("save %s: %v", key, err)
		}
	}

	removed, err := store.DeletePrefix(ctx, "u1/")
	if err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	if api.batches != 2 {
		t.Fatalf("expected one delete batch per listed page, got %d", api.batches)
	}
	if _, ok := api.objects["uploads/u2/a.pdf"]; !ok || len(api.objects) != 1 {
		t.Fatalf("unexpected remaining objects %v", api.objects)
	}
}
