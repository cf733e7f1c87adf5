package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-media-upload/uploaderr"
	"github.com/bitrise-io/go-utils/v2/log"
)

// S3API is the part of the S3 client used for multipart uploads.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Options configures the S3 client of S3Store.
type S3Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client. Static keys are used when both are set,
// otherwise the default credential chain applies.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
		// Block retries are driven by the uploader.
		config.WithRetryMaxAttempts(1),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Store writes s3://bucket/key destinations as multipart uploads, one part per block.
// S3 rejects parts below 5 MiB except the last one at completion time.
type S3Store struct {
	client S3API
	logger log.Logger
}

// NewS3Store creates a multipart backed store.
func NewS3Store(client S3API, logger log.Logger) *S3Store {
	return &S3Store{client: client, logger: logger}
}

// Open implements Store by starting a multipart upload.
func (s *S3Store) Open(ctx context.Context, destination string, blockCount int) (Target, error) {
	bucket, key, err := parseS3Destination(destination)
	if err != nil {
		return nil, err
	}

	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return nil, classifyS3("create multipart upload", err, uploaderr.KindUnexpectedStatus)
	}
	s.logger.Debugf("Multipart upload %s started for %s", aws.ToString(out.UploadId), destination)

	return &s3Target{
		store:    s,
		bucket:   bucket,
		key:      key,
		uploadID: aws.ToString(out.UploadId),
		etags:    make([]string, blockCount),
	}, nil
}

type s3Target struct {
	store    *S3Store
	bucket   string
	key      string
	uploadID string
	// etags is index addressed; each block task writes only its own slot.
	etags []string
}

func (t *s3Target) PutBlock(ctx context.Context, block BlockDescriptor, body []byte) error {
	if block.Index < 0 || block.Index >= len(t.etags) {
		return fmt.Errorf("block %d is outside the planned %d blocks", block.Index, len(t.etags))
	}

	out, err := t.store.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(t.key),
		UploadId:      aws.String(t.uploadID),
		PartNumber:    aws.Int32(int32(block.Index + 1)),
		ContentLength: aws.Int64(int64(len(body))),
		Body:          bytes.NewReader(body),
	})
	op := fmt.Sprintf("upload part %d", block.Index+1)
	if err != nil {
		return classifyS3(op, err, uploaderr.KindUnexpectedStatus)
	}
	if aws.ToString(out.ETag) == "" {
		return uploaderr.New(uploaderr.KindUnexpectedStatus, op, errors.New("no ETag in response"))
	}

	t.etags[block.Index] = aws.ToString(out.ETag)
	return nil
}

func (t *s3Target) Commit(ctx context.Context, manifest Manifest) error {
	parts := make([]types.CompletedPart, 0, len(manifest.Entries))
	for _, e := range manifest.Entries {
		if e.Index >= len(t.etags) || t.etags[e.Index] == "" {
			return uploaderr.New(uploaderr.KindCommitRejected, "complete multipart upload",
				fmt.Errorf("part %d was never uploaded", e.Index+1))
		}
		parts = append(parts, types.CompletedPart{
			ETag:       aws.String(t.etags[e.Index]),
			PartNumber: aws.Int32(int32(e.Index + 1)),
		})
	}

	_, err := t.store.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(t.bucket),
		Key:             aws.String(t.key),
		UploadId:        aws.String(t.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return classifyS3("complete multipart upload", err, uploaderr.KindCommitRejected)
	}
	return nil
}

func (t *s3Target) Abort(ctx context.Context) error {
	_, err := t.store.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(t.bucket),
		Key:      aws.String(t.key),
		UploadId: aws.String(t.uploadID),
	})
	if err != nil {
		return classifyS3("abort multipart upload", err, uploaderr.KindUnexpectedStatus)
	}
	return nil
}

func (t *s3Target) Location() string {
	return fmt.Sprintf("s3://%s/%s", t.bucket, t.key)
}

func parseS3Destination(destination string) (string, string, error) {
	u, err := url.Parse(destination)
	if err != nil {
		return "", "", fmt.Errorf("parse destination: %w", err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 destination: %s", StripToken(destination))
	}
	return u.Host, key, nil
}

// classifyS3 maps service answers to rejection and everything else through the transport classifier.
func classifyS3(op string, err error, rejection uploaderr.Kind) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return uploaderr.New(rejection, op, fmt.Errorf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()))
	}
	return uploaderr.Classify(op, err)
}
