// Package uploads accepts document uploads: presigned S3 PUT URLs for
// browsers and a direct multipart upload that stores the artifact and
// notifies ingestion in-process.
package uploads

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"

	"docchat-backend/internal/documents"
	"docchat-backend/internal/ingestion"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
	"docchat-backend/internal/shared/storage/object"
	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/shared/util"
)

const (
	defaultMaxUploadBytes = 20 << 20
	presignExpires        = 15 * time.Minute
	formFileField         = "file"
)

// Ingestor turns a stored artifact into a document.
type Ingestor interface {
	Accepts(key string) bool
	HandleUpload(ctx context.Context, n ingestion.Notification) (ingestion.UploadResult, error)
}

// Presigner is the subset of s3.PresignClient the handler uses.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Handler serves upload routes.
type Handler struct {
	Store  object.ObjectStore
	Ingest Ingestor
	// Presign is nil when uploads go to the local store only.
	Presign  Presigner
	Bucket   string
	Prefix   string
	MaxBytes int64
}

// NewHandler constructs a Handler. presign may be nil.
func NewHandler(store object.ObjectStore, ingest Ingestor, presign Presigner, bucket, prefix string) *Handler {
	return &Handler{
		Store:    store,
		Ingest:   ingest,
		Presign:  presign,
		Bucket:   bucket,
		Prefix:   strings.Trim(strings.TrimSpace(prefix), "/"),
		MaxBytes: defaultMaxUploadBytes,
	}
}

// RegisterRoutes attaches upload routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.upload)
	if h.Presign != nil {
		rg.POST("/uploads/presign", h.presign)
	}
}

type presignRequest struct {
	FileName  string `json:"fileName"`
	SizeBytes int64  `json:"sizeBytes"`
}

type presignResponse struct {
	UploadURL        string `json:"uploadUrl"`
	S3Key            string `json:"s3Key"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
}

func (h *Handler) presign(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	userID := middleware.UserIDFromContext(c)
	artifactKey, err := util.ArtifactKey(userID, req.FileName)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid fileName", nil)
		return
	}
	if !h.Ingest.Accepts(artifactKey) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file type is not supported", nil)
		return
	}
	if req.SizeBytes <= 0 || req.SizeBytes > h.maxBytes() {
		respond.Error(c, http.StatusBadRequest, "validation_error", "sizeBytes exceeds limit", nil)
		return
	}

	key := h.objectKey(artifactKey)
	out, err := h.Presign.PresignPutObject(c.Request.Context(), presignInput(h.Bucket, key), func(opts *s3.PresignOptions) {
		opts.Expires = presignExpires
	})
	if err != nil {
		telemetry.Error("uploads.presign.failed", map[string]any{
			"error":      err.Error(),
			"bucket":     h.Bucket,
			"key":        key,
			"size_bytes": req.SizeBytes,
			"request_id": c.GetString("requestId"),
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to generate upload url", nil)
		return
	}

	respond.OK(c, presignResponse{
		UploadURL:        out.URL,
		S3Key:            key,
		ExpiresInSeconds: int64(presignExpires.Seconds()),
	})
}

func (h *Handler) upload(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes()+1<<20)

	fh, err := c.FormFile(formFileField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "validation_error", "file exceeds size limit", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	if fh.Size > h.maxBytes() {
		respond.Error(c, http.StatusRequestEntityTooLarge, "validation_error", "file exceeds size limit", nil)
		return
	}

	filename := path.Base(strings.ReplaceAll(fh.Filename, "\\", "/"))
	artifactKey, err := util.ArtifactKey(userID, filename)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid file name", nil)
		return
	}
	if !h.Ingest.Accepts(artifactKey) {
		metrics.IncUpload("filtered")
		respond.Error(c, http.StatusBadRequest, "validation_error", "file type is not supported", nil)
		return
	}

	f, err := fh.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unreadable file", nil)
		return
	}
	defer f.Close()

	key, size, _, err := h.Store.Save(c.Request.Context(), userID, filename, f)
	if err != nil {
		telemetry.Error("uploads.store.failed", map[string]any{
			"user_id":    userID,
			"filename":   filename,
			"error":      err.Error(),
			"request_id": c.GetString("requestId"),
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to store file", nil)
		return
	}

	res, err := h.Ingest.HandleUpload(c.Request.Context(), ingestion.Notification{
		ArtifactKey: key,
		OwnerID:     userID,
		Filename:    filename,
		ByteSize:    size,
	})
	if err != nil {
		respond.Error(c, http.StatusServiceUnavailable, "upload_failed", "document could not be registered, retry the upload", nil)
		return
	}

	respond.Idempotent(c, res.Created, documents.ToResponse(res.Document))
}

func (h *Handler) maxBytes() int64 {
	if h.MaxBytes > 0 {
		return h.MaxBytes
	}
	return defaultMaxUploadBytes
}

// objectKey is the bucket key S3 notifications will report for artifactKey.
func (h *Handler) objectKey(artifactKey string) string {
	if h.Prefix == "" {
		return artifactKey
	}
	return h.Prefix + "/" + artifactKey
}

func presignInput(bucket, key string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
}
