package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
	"github.com/ruteri/storage-gateway/interfaces"
)

const (
	// tempPrefix namespaces archives materialized for external URLs.
	tempPrefix = "temp/"

	metaFileName    = "file-name"
	metaContentType = "content-type"

	defaultURLExpiry = time.Hour
)

// S3Options configures the object store client. These settings are fixed for
// the life of the process; the bucket and URL expiry come from the
// ConfigProvider on every operation.
type S3Options struct {
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
	MaxRetries     int
}

// S3Backend implements a storage backend using Amazon S3 or compatible services.
// Every logical bucket is a key prefix inside the single configured S3 bucket.
type S3Backend struct {
	client   s3iface.S3API
	uploader *s3manager.Uploader
	cfg      interfaces.ConfigProvider
	log      *slog.Logger
}

// NewS3Backend creates a new S3 storage backend.
// Without an access key the default AWS credential chain is used.
func NewS3Backend(opts S3Options, cfg interfaces.ConfigProvider, log *slog.Logger) (*S3Backend, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg := aws.Config{
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(opts.ForcePathStyle),
		MaxRetries:       aws.Int(opts.MaxRetries),
	}
	if opts.Endpoint != "" {
		awsCfg.Endpoint = aws.String(opts.Endpoint)
	}
	if opts.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	} else {
		log.Debug("No S3 access key provided, using the default credential chain")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return newS3BackendWithClient(s3.New(sess), cfg, log), nil
}

func newS3BackendWithClient(client s3iface.S3API, cfg interfaces.ConfigProvider, log *slog.Logger) *S3Backend {
	return &S3Backend{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		cfg:      cfg,
		log:      log,
	}
}

// Get fetches the object at bucket[/subs]/fileID. The original file name and
// MIME type are restored from object metadata.
func (b *S3Backend) Get(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (*interfaces.StorageItem, error) {
	start := time.Now()
	s3Bucket := b.cfg.StorageConfig().S3Bucket
	key := objectKey(bucket, fileID, subdirs)

	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			b.log.WarnContext(ctx, "Key does not exist",
				slog.String("bucket", s3Bucket),
				slog.String("key", key),
				slog.Duration("duration", time.Since(start)))
			return nil, nil
		}

		b.log.ErrorContext(ctx, "Failed to get object from S3",
			slog.String("bucket", s3Bucket),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, interfaces.NewAppError(interfaces.CodeS3Get, "Failed to get the requested file", err)
	}

	b.log.DebugContext(ctx, "Fetched object from S3",
		slog.String("bucket", s3Bucket),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))

	return &interfaces.StorageItem{
		Body:     out.Body,
		MimeType: objectMimeType(out),
		Name:     objectFileName(out, key),
	}, nil
}

// IsDirectory lists keys under the address. A single key equal to the full
// key is a file; any other non-empty listing is a directory.
func (b *S3Backend) IsDirectory(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (bool, error) {
	s3Bucket := b.cfg.StorageConfig().S3Bucket
	key := objectKey(bucket, fileID, subdirs)

	keys, err := b.listKeys(ctx, s3Bucket, key)
	if err != nil {
		b.log.ErrorContext(ctx, "Failed to list objects",
			slog.String("bucket", s3Bucket),
			slog.String("prefix", key),
			"err", err)
		return false, interfaces.NewAppError(interfaces.CodeS3List, "Failed to list the requested files", err)
	}

	switch {
	case len(keys) == 0:
		return false, nil
	case len(keys) == 1 && keys[0] == key:
		return false, nil
	default:
		return true, nil
	}
}

// ZipDirectory fetches every object under the address into one archive. Entry
// names are the stored file names with the MIME-derived extension appended.
func (b *S3Backend) ZipDirectory(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories, name string) (*interfaces.StorageItem, error) {
	s3Bucket := b.cfg.StorageConfig().S3Bucket
	prefix := objectKey(bucket, fileID, subdirs)

	keys, err := b.listKeys(ctx, s3Bucket, prefix)
	if err != nil {
		b.log.ErrorContext(ctx, "Failed to zip the requested files",
			slog.String("bucket", s3Bucket),
			slog.String("prefix", prefix),
			"err", err)
		return nil, interfaces.NewAppError(interfaces.CodeS3Zip, "Failed to zip the requested files", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	sources := make([]archiveSource, 0, len(keys))
	for _, key := range keys {
		sources = append(sources, func() (string, io.ReadCloser, error) {
			out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s3Bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return "", nil, fmt.Errorf("failed to get %s: %w", key, err)
			}
			return objectFileName(out, key) + ExtensionForMime(objectMimeType(out)), out.Body, nil
		})
	}

	buf, err := buildArchive(sources)
	if err != nil {
		b.log.ErrorContext(ctx, "Failed to zip the requested files",
			slog.String("bucket", s3Bucket),
			slog.String("prefix", prefix),
			"err", err)
		return nil, interfaces.NewAppError(interfaces.CodeS3Zip, "Failed to zip the requested files", err)
	}

	b.log.DebugContext(ctx, "Zipped objects",
		slog.String("bucket", s3Bucket),
		slog.String("prefix", prefix),
		slog.Int("objects", len(keys)),
		slog.Int("size", buf.Len()))

	return archiveItem(buf, name), nil
}

// ExternalURL returns a presigned URL. A directory is zipped, uploaded under
// temp/ and the URL points at that archive. A missing object yields nil.
func (b *S3Backend) ExternalURL(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (*interfaces.ExternalURL, error) {
	isDir, err := b.IsDirectory(ctx, bucket, fileID, subdirs)
	if err != nil {
		return nil, err
	}

	cfg := b.cfg.StorageConfig()

	if isDir {
		archiveID := uuid.NewString()
		item, err := b.ZipDirectory(ctx, bucket, fileID, subdirs, archiveID+".zip")
		if err != nil || item == nil {
			return nil, err
		}

		tempKey := tempPrefix + objectKey(bucket, archiveID, nil)
		if err := b.putObject(ctx, cfg.S3Bucket, tempKey, item); err != nil {
			b.log.ErrorContext(ctx, "Failed to upload temporary archive",
				slog.String("bucket", cfg.S3Bucket),
				slog.String("key", tempKey),
				"err", err)
			return nil, interfaces.NewAppError(interfaces.CodeS3ExternalURL, "Failed to generate external url", err)
		}

		url, err := b.presign(ctx, cfg, tempKey)
		if err != nil {
			return nil, err
		}
		return &interfaces.ExternalURL{ExternalReference: url}, nil
	}

	key := objectKey(bucket, fileID, subdirs)
	exists, err := b.exists(ctx, cfg.S3Bucket, key)
	if err != nil || !exists {
		return nil, err
	}

	url, err := b.presign(ctx, cfg, key)
	if err != nil {
		return nil, err
	}
	return &interfaces.ExternalURL{ExternalReference: url}, nil
}

// Delete removes the object after confirming it exists, since S3 reports
// success for deleting a missing key.
func (b *S3Backend) Delete(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (bool, error) {
	s3Bucket := b.cfg.StorageConfig().S3Bucket
	key := objectKey(bucket, fileID, subdirs)

	exists, err := b.exists(ctx, s3Bucket, key)
	if err != nil || !exists {
		return false, err
	}

	_, err = b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		b.log.ErrorContext(ctx, "Failed to delete the requested file",
			slog.String("bucket", s3Bucket),
			slog.String("key", key),
			"err", err)
		return false, interfaces.NewAppError(interfaces.CodeS3Delete, "Failed to delete the requested file", err)
	}

	b.log.DebugContext(ctx, "Deleted object", slog.String("bucket", s3Bucket), slog.String("key", key))
	return true, nil
}

// Save uploads the item under a new id with its name and MIME type kept as
// object metadata, and returns a presigned URL as the external reference.
func (b *S3Backend) Save(ctx context.Context, bucket string, item *interfaces.StorageItem, subdirs interfaces.Subdirectories) (*interfaces.SaveResult, error) {
	if item == nil || item.Body == nil {
		return nil, interfaces.NewAppError(interfaces.CodeS3Save, "No content to save", nil)
	}
	defer item.Close()

	cfg := b.cfg.StorageConfig()
	fileID := uuid.NewString()
	key := objectKey(bucket, fileID, subdirs)

	if err := b.putObject(ctx, cfg.S3Bucket, key, item); err != nil {
		b.log.ErrorContext(ctx, "Failed to save the requested file",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("key", key),
			"err", err)
		return nil, interfaces.NewAppError(interfaces.CodeS3Save, "Failed to save the requested file", err)
	}

	url, err := b.presign(ctx, cfg, key)
	if err != nil {
		return nil, interfaces.NewAppError(interfaces.CodeS3Save, "Failed to save the requested file", err)
	}

	result := &interfaces.SaveResult{
		Bucket:            bucket,
		FileID:            fileID,
		Reference:         reference(bucket, fileID, subdirs),
		ExternalReference: url,
	}
	if subdirs != nil {
		result.Subdirectory = subdirs.String()
	}

	b.log.DebugContext(ctx, "Stored object in S3",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("key", key))

	return result, nil
}

func (b *S3Backend) putObject(ctx context.Context, s3Bucket, key string, item *interfaces.StorageItem) error {
	_, err := b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s3Bucket),
		Key:         aws.String(key),
		Body:        item.Body,
		ContentType: aws.String(item.MimeType),
		Metadata: map[string]*string{
			metaFileName:    aws.String(item.Name),
			metaContentType: aws.String(item.MimeType),
		},
	})
	return err
}

func (b *S3Backend) presign(ctx context.Context, cfg interfaces.StorageConfig, key string) (string, error) {
	expiry := cfg.S3URLExpiry
	if expiry <= 0 {
		expiry = defaultURLExpiry
	}

	req, _ := b.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(cfg.S3Bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(expiry)
	if err != nil {
		b.log.WarnContext(ctx, "Failed to generate external url",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("key", key),
			"err", err)
		return "", interfaces.NewAppError(interfaces.CodeS3ExternalURL, "Failed to generate external url", err)
	}
	return url, nil
}

func (b *S3Backend) exists(ctx context.Context, s3Bucket, key string) (bool, error) {
	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		b.log.ErrorContext(ctx, "Failed to check if key exists",
			slog.String("bucket", s3Bucket),
			slog.String("key", key),
			"err", err)
		return false, interfaces.NewAppError(interfaces.CodeS3Exists, "Failed to check if key exists", err)
	}
	return true, nil
}

func (b *S3Backend) listKeys(ctx context.Context, s3Bucket, prefix string) ([]string, error) {
	var keys []string
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s3Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	return keys, err
}

// isNotFound reports whether err means the key does not exist. GET reports
// NoSuchKey; HEAD has no body and surfaces as NotFound.
func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}

func objectMimeType(out *s3.GetObjectOutput) string {
	if v := metadataValue(out.Metadata, metaContentType); v != "" {
		return v
	}
	if ct := aws.StringValue(out.ContentType); ct != "" {
		return ct
	}
	return defaultMimeType
}

func objectFileName(out *s3.GetObjectOutput, key string) string {
	if v := metadataValue(out.Metadata, metaFileName); v != "" {
		return v
	}
	return path.Base(key)
}

// metadataValue looks a metadata key up case-insensitively; the SDK
// canonicalizes header-derived keys.
func metadataValue(md map[string]*string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) {
			return aws.StringValue(v)
		}
	}
	return ""
}
