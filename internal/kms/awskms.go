package kms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/kenneth/arkive/internal/config"
)

// awsWrapper implements the Wrapper interface using AWS KMS.
type awsWrapper struct {
	client *awskms.Client
}

// NewAWSWrapper creates a KMS wrapper backed by AWS KMS.
func NewAWSWrapper(ctx context.Context, cfg *config.KMSConfig) (Wrapper, error) {
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

	kmsOptions := []func(*awskms.Options){}
	if cfg.Endpoint != "" {
		kmsOptions = append(kmsOptions, func(o *awskms.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &awsWrapper{client: awskms.NewFromConfig(awsCfg, kmsOptions...)}, nil
}

// Provider returns the provider identifier.
func (w *awsWrapper) Provider() string {
	return "aws-kms"
}

// Wrap encrypts the plaintext data key under the named master key. The
// plaintext travels to the KMS over the SDK's authenticated TLS channel and
// only the ciphertext blob comes back.
func (w *awsWrapper) Wrap(ctx context.Context, plaintext []byte, keyID string) (*WrappedKey, error) {
	result, err := w.client.Encrypt(ctx, &awskms.EncryptInput{
		KeyId:     aws.String(keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: kms encrypt with key %s: %v", ErrKeyWrap, keyID, err)
	}
	if len(result.CiphertextBlob) == 0 {
		return nil, fmt.Errorf("%w: kms returned empty ciphertext for key %s", ErrKeyWrap, keyID)
	}

	return &WrappedKey{
		KeyID:      keyID,
		Provider:   w.Provider(),
		Ciphertext: result.CiphertextBlob,
	}, nil
}

// Unwrap decrypts the wrapped data key. AWS KMS identifies the master key
// from the ciphertext blob itself; the envelope's KeyID is only checked
// against the response.
func (w *awsWrapper) Unwrap(ctx context.Context, wrapped *WrappedKey) ([]byte, error) {
	result, err := w.client.Decrypt(ctx, &awskms.DecryptInput{
		CiphertextBlob: wrapped.Ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: kms decrypt: %v", ErrKeyWrap, err)
	}
	if len(result.Plaintext) == 0 {
		return nil, fmt.Errorf("%w: kms returned empty plaintext", ErrKeyWrap)
	}

	return result.Plaintext, nil
}

// Close releases resources. The AWS SDK client holds none beyond pooled
// HTTP connections.
func (w *awsWrapper) Close(ctx context.Context) error {
	return nil
}
