package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/kenneth/arkive/internal/config"
)

// ErrUpload indicates the storage backend rejected the request or the
// network failed.
var ErrUpload = errors.New("upload failed")

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// classify maps backend API errors onto the package sentinels.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return ErrNotFound
		}
	}
	return ErrUpload
}

// SSEKMS instructs the backend to apply its own server-side encryption
// layer bound to the given KMS master key. The encryption context is an
// arbitrary key/value map the KMS authenticates on every subsequent
// decrypt; the pipeline places the wrapped data key there so the stored
// object is bound to both encryption layers.
type SSEKMS struct {
	KeyID             string
	EncryptionContext map[string]string
}

// Client is the object-storage backend client interface.
type Client interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, metadata map[string]string, sse *SSEKMS) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, map[string]string, error)
	HeadObject(ctx context.Context, bucket, key string) (map[string]string, error)
}

// s3Client implements the Client interface using AWS SDK v2.
type s3Client struct {
	client *s3.Client
	config *config.BackendConfig
}

// NewClient creates a new S3 backend client.
func NewClient(ctx context.Context, cfg *config.BackendConfig) (Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Options := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &s3Client{
		client: s3.NewFromConfig(awsCfg, s3Options...),
		config: cfg,
	}, nil
}

// PutObject uploads an object, optionally requesting server-side SSE-KMS
// re-encryption by the backend.
func (c *s3Client) PutObject(ctx context.Context, bucket, key string, reader io.Reader, metadata map[string]string, sse *SSEKMS) error {
	body, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("%w: failed to read object data: %v", ErrUpload, err)
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(body),
		Metadata: metadata,
	}

	if sse != nil {
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(sse.KeyID)
		if len(sse.EncryptionContext) > 0 {
			encoded, err := encodeEncryptionContext(sse.EncryptionContext)
			if err != nil {
				return fmt.Errorf("%w: failed to encode encryption context: %v", ErrUpload, err)
			}
			input.SSEKMSEncryptionContext = aws.String(encoded)
		}
	}

	if _, err := c.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: put object %s/%s: %v", ErrUpload, bucket, key, err)
	}

	return nil
}

// GetObject retrieves an object and its user metadata.
func (c *s3Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, map[string]string, error) {
	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: get object %s/%s: %v", classify(err), bucket, key, err)
	}

	return result.Body, result.Metadata, nil
}

// HeadObject retrieves object metadata without the body.
func (c *s3Client) HeadObject(ctx context.Context, bucket, key string) (map[string]string, error) {
	result, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: head object %s/%s: %v", classify(err), bucket, key, err)
	}

	metadata := result.Metadata
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return metadata, nil
}

// encodeEncryptionContext serializes an SSE-KMS encryption context the way
// the S3 API expects it: base64-encoded JSON.
func encodeEncryptionContext(ec map[string]string) (string, error) {
	data, err := json.Marshal(ec)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
