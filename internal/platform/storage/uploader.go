package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/idpfunnel/api/internal/platform/config"
)

const (
	defaultPublicBaseURL = "https://storage.googleapis.com"
	defaultUploadTimeout = 60 * time.Second
	documentCacheControl = "private, max-age=0"
)

var (
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	// ErrContentTypeDenied is returned when an upload's content type is not allow-listed.
	ErrContentTypeDenied = errors.New("storage: content type not allowed")
	// ErrObjectTooLarge is returned when an upload exceeds the configured size limit.
	ErrObjectTooLarge = errors.New("storage: object exceeds maximum size")
)

// ObjectWriter receives object bytes; Close commits the upload.
type ObjectWriter interface {
	io.Writer
	Close() error
}

// WriterFactory opens a writer for a new object.
type WriterFactory func(ctx context.Context, bucket, object, contentType string) ObjectWriter

// UploadRequest describes one object upload.
type UploadRequest struct {
	Object              string
	ContentType         string
	Body                io.Reader
	AllowedContentTypes []string
}

// UploadResult reports where the object landed.
type UploadResult struct {
	Bucket    string
	Object    string
	Size      int64
	PublicURL string
}

// Uploader writes objects into a single Cloud Storage bucket.
type Uploader struct {
	bucket        string
	publicBaseURL string
	maxBytes      int64
	timeout       time.Duration
	newWriter     WriterFactory
	client        *gcs.Client
}

// UploaderOption customises uploader behaviour.
type UploaderOption func(*Uploader)

// WithWriterFactory replaces the Cloud Storage writer, mostly for tests.
func WithWriterFactory(factory WriterFactory) UploaderOption {
	return func(u *Uploader) {
		if factory != nil {
			u.newWriter = factory
		}
	}
}

// WithUploadTimeout bounds a single upload.
func WithUploadTimeout(timeout time.Duration) UploaderOption {
	return func(u *Uploader) {
		if timeout > 0 {
			u.timeout = timeout
		}
	}
}

// NewUploader constructs an uploader for cfg.DocumentsBucket. A Cloud Storage client is only
// created when no writer factory is supplied.
func NewUploader(ctx context.Context, cfg config.StorageConfig, clientOpts []option.ClientOption, opts ...UploaderOption) (*Uploader, error) {
	bucket := strings.TrimSpace(cfg.DocumentsBucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base == "" {
		base = defaultPublicBaseURL + "/" + bucket
	}
	uploader := &Uploader{
		bucket:        bucket,
		publicBaseURL: base,
		maxBytes:      cfg.MaxUploadBytes,
		timeout:       defaultUploadTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(uploader)
		}
	}
	if uploader.newWriter == nil {
		client, err := gcs.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("storage: create client: %w", err)
		}
		uploader.client = client
		uploader.newWriter = gcsWriterFactory(client)
	}
	return uploader, nil
}

func gcsWriterFactory(client *gcs.Client) WriterFactory {
	return func(ctx context.Context, bucket, object, contentType string) ObjectWriter {
		handle := client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
		writer := handle.NewWriter(ctx)
		writer.ContentType = contentType
		writer.CacheControl = documentCacheControl
		return writer
	}
}

// Bucket returns the target bucket name.
func (u *Uploader) Bucket() string {
	return u.bucket
}

// Upload streams req.Body into the bucket. Bodies larger than the configured limit are rejected
// and the partial object is discarded.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if u == nil {
		return UploadResult{}, errInvalidBucket
	}
	object := strings.TrimLeft(strings.TrimSpace(req.Object), "/")
	if object == "" {
		return UploadResult{}, errInvalidObject
	}
	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		return UploadResult{}, errContentTypeMissing
	}
	if len(req.AllowedContentTypes) > 0 && !ContentTypeAllowed(contentType, req.AllowedContentTypes) {
		return UploadResult{}, ErrContentTypeDenied
	}
	if req.Body == nil {
		return UploadResult{}, errors.New("storage: body is required")
	}

	uploadCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	body := req.Body
	if u.maxBytes > 0 {
		body = io.LimitReader(req.Body, u.maxBytes+1)
	}
	writer := u.newWriter(uploadCtx, u.bucket, object, contentType)
	written, err := io.Copy(writer, body)
	if err == nil && u.maxBytes > 0 && written > u.maxBytes {
		err = ErrObjectTooLarge
	}
	if err != nil {
		// Cancelling before Close aborts the upload without committing the object.
		cancel()
		_ = writer.Close()
		return UploadResult{}, err
	}
	if err := writer.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("storage: upload %s: %w", object, err)
	}

	return UploadResult{
		Bucket:    u.bucket,
		Object:    object,
		Size:      written,
		PublicURL: u.PublicURL(object),
	}, nil
}

// PublicURL returns the URL an object is served from.
func (u *Uploader) PublicURL(object string) string {
	segments := strings.Split(strings.TrimLeft(object, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return u.publicBaseURL + "/" + strings.Join(segments, "/")
}

// Close releases the Cloud Storage client when one was created.
func (u *Uploader) Close() error {
	if u == nil || u.client == nil {
		return nil
	}
	return u.client.Close()
}

// ContentTypeAllowed matches contentType against exact types and "type/*" wildcards.
func ContentTypeAllowed(contentType string, allowed []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(normalized, ";"); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" {
			continue
		}
		if candidate == "*" {
			return true
		}
		if strings.HasSuffix(candidate, "/*") {
			if strings.HasPrefix(normalized, strings.TrimSuffix(candidate, "*")) {
				return true
			}
			continue
		}
		if normalized == candidate {
			return true
		}
	}
	return false
}
