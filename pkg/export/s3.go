// Package export writes session bundles to object storage.
package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/glytch-labs/ucp/core/pkg/ledger"
)

// Bundle is the exported representation of a session and its hop chain.
// The content hash covers the serialized bundle so a download can be
// checked against the key it was stored under.
type Bundle struct {
	Session       *ledger.Session `json:"session"`
	Hops          []*ledger.Hop   `json:"hops"`
	ChainVerified bool            `json:"chain_verified"`
	ChainDetail   string          `json:"chain_detail"`
	ExportedAt    time.Time       `json:"exported_at"`
	ExportedBy    string          `json:"exported_by"`
}

// ObjectPutter is the slice of the S3 API the exporter needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter uploads session bundles to an S3 bucket.
type S3Exporter struct {
	client ObjectPutter
	bucket string
	prefix string
	clock  func() time.Time
}

// S3ExporterConfig holds configuration for S3Exporter.
type S3ExporterConfig struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix
}

// NewS3Exporter creates an exporter backed by AWS S3.
func NewS3Exporter(ctx context.Context, cfg S3ExporterConfig) (*S3Exporter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3Exporter{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		clock:  time.Now,
	}, nil
}

// NewS3ExporterWithClient wires an existing client, used in tests.
func NewS3ExporterWithClient(client ObjectPutter, bucket, prefix string) *S3Exporter {
	return &S3Exporter{client: client, bucket: bucket, prefix: prefix, clock: time.Now}
}

// Result describes a completed export.
type Result struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	ContentHash string `json:"content_hash"`
	SizeBytes   int    `json:"size_bytes"`
}

// Export serializes the session bundle and uploads it under
// <prefix>sessions/<session-id>/<sha256>.json.
func (e *S3Exporter) Export(ctx context.Context, actorID string, sess *ledger.Session, hops []*ledger.Hop) (*Result, error) {
	if sess == nil {
		return nil, fmt.Errorf("export: nil session")
	}

	verified, detail := ledger.VerifyChain(hops, sess.ChainHash)
	bundle := Bundle{
		Session:       sess,
		Hops:          hops,
		ChainVerified: verified,
		ChainDetail:   detail,
		ExportedAt:    e.clock().UTC(),
		ExportedBy:    actorID,
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("export: marshal bundle: %w", err)
	}

	sum := sha256.Sum256(data)
	hashStr := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("%ssessions/%s/%s.json", e.prefix, sess.ID, hashStr)

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("export: s3 put failed: %w", err)
	}

	return &Result{
		Bucket:      e.bucket,
		Key:         key,
		ContentHash: "sha256:" + hashStr,
		SizeBytes:   len(data),
	}, nil
}
