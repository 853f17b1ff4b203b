package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/kenneth/arkive/internal/audit"
	"github.com/kenneth/arkive/internal/config"
	"github.com/kenneth/arkive/internal/crypto"
	"github.com/kenneth/arkive/internal/kms"
	"github.com/kenneth/arkive/internal/metrics"
	"github.com/kenneth/arkive/internal/s3"
	"github.com/kenneth/arkive/internal/tracing"
)

// Object metadata keys attached to uploaded artifacts. The AWS SDK
// prefixes them with x-amz-meta- on the wire.
const (
	MetaAlgorithm    = "arkive-algorithm"
	MetaKeySalt      = "arkive-key-salt"
	MetaIV           = "arkive-iv"
	MetaIterations   = "arkive-pbkdf2-iterations"
	MetaWrappedKey   = "arkive-wrapped-key"
	MetaKMSKeyID     = "arkive-kms-key-id"
	MetaOriginalSize = "arkive-original-size"
)

// encryptionContextKey is the key under which the wrapped data key is
// placed in the SSE-KMS encryption context, binding the server-side layer
// to the client-side envelope.
const encryptionContextKey = "wrapped-data-key"

// State is the coordinator's position in the pipeline state machine.
type State string

const (
	StateStart     State = "start"
	StateDerived   State = "derived"
	StateEncrypted State = "encrypted"
	StateWrapped   State = "wrapped"
	StateUploaded  State = "uploaded"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Destination names the bucket and object an upload targets.
type Destination struct {
	Bucket string
	Object string
}

// Result is returned by a successful upload run. Location plus WrappedKey
// is all that is needed to later retrieve and decrypt the file without the
// password.
type Result struct {
	Location     string
	Bucket       string
	Object       string
	ArtifactPath string
	WrappedKey   *kms.WrappedKey
}

// Coordinator drives the pipeline end to end: derive, encrypt, wrap,
// upload. It holds no per-run state, so independent runs may execute
// concurrently on the same Coordinator.
type Coordinator struct {
	cfg     *config.Config
	storage s3.Client
	wrapper kms.Wrapper
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
	audit   audit.Recorder
}

// NewCoordinator creates a pipeline coordinator. Metrics and audit may be
// nil to disable them.
func NewCoordinator(cfg *config.Config, storage s3.Client, wrapper kms.Wrapper, logger logrus.FieldLogger, m *metrics.Metrics, rec audit.Recorder) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		storage: storage,
		wrapper: wrapper,
		logger:  logger,
		metrics: m,
		audit:   rec,
	}
}

// Run executes one upload pipeline for a single file:
// Start → Derived → Encrypted → Wrapped → Uploaded → Done.
//
// Any stage failure aborts the run without attempting the next stage and
// surfaces as a *StageError. A retry is a whole new run with fresh salt
// and nonce; old randomness is never reused. The caller owns the password
// and must wipe it after use.
func (c *Coordinator) Run(ctx context.Context, filePath string, password []byte, masterKeyID string, dest Destination) (*Result, error) {
	if dest.Bucket == "" || dest.Object == "" {
		return nil, &StageError{Stage: StageUpload, Err: fmt.Errorf("%w: destination bucket and object are required", config.ErrInvalid)}
	}
	if masterKeyID == "" {
		return nil, &StageError{Stage: StageWrap, Err: fmt.Errorf("%w: kms master key id is required", config.ErrInvalid)}
	}

	state := StateStart
	log := c.logger.WithFields(logrus.Fields{
		"file":   filePath,
		"bucket": dest.Bucket,
		"object": dest.Object,
	})

	fail := func(stage Stage, err error) (*Result, error) {
		state = StateFailed
		log.WithError(err).WithField("stage", stage).Error("Pipeline run failed")
		if c.metrics != nil {
			c.metrics.RecordRun("upload", "error")
		}
		return nil, &StageError{Stage: stage, Err: err}
	}

	// Start → Derived
	var salt, key []byte
	iterations := c.cfg.Encryption.PBKDF2Iterations
	err := c.observe(ctx, StageDerive, func(ctx context.Context) error {
		var err error
		if salt, err = crypto.GenerateSalt(); err != nil {
			return err
		}
		key, err = crypto.DeriveKey(password, salt, iterations)
		return err
	})
	c.record(audit.EventTypeDerive, filePath, dest, masterKeyID, err)
	if err != nil {
		return fail(StageDerive, err)
	}
	defer crypto.Wipe(key)
	state = StateDerived

	// Derived → Encrypted
	var payload *crypto.Payload
	var artifact []byte
	artifactPath := filePath + c.cfg.Encryption.ArtifactSuffix
	var originalSize int
	err = c.observe(ctx, StageEncrypt, func(ctx context.Context) error {
		plaintext, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("%w: failed to read %s: %v", crypto.ErrEncryption, filePath, err)
		}
		originalSize = len(plaintext)

		if payload, err = crypto.Seal(c.cfg.Encryption.Algorithm, key, plaintext, salt, iterations); err != nil {
			return err
		}
		artifact = payload.Encode()

		// Owner-only permissions; the artifact is useless without the
		// key but there is no reason to share it.
		if err := os.WriteFile(artifactPath, artifact, 0o600); err != nil {
			return fmt.Errorf("%w: failed to write artifact %s: %v", crypto.ErrEncryption, artifactPath, err)
		}
		return nil
	})
	c.record(audit.EventTypeEncrypt, filePath, dest, masterKeyID, err)
	if err != nil {
		return fail(StageEncrypt, err)
	}
	if c.metrics != nil {
		c.metrics.RecordEncryptedBytes(originalSize)
	}
	state = StateEncrypted
	log.WithField("artifact", artifactPath).Debug("Encrypted artifact written")

	// Encrypted → Wrapped
	var wrapped *kms.WrappedKey
	err = c.observe(ctx, StageWrap, func(ctx context.Context) error {
		var err error
		wrapped, err = c.wrapper.Wrap(ctx, key, masterKeyID)
		return err
	})
	if c.metrics != nil {
		c.metrics.RecordKMSOperation("wrap", err)
	}
	c.record(audit.EventTypeWrap, filePath, dest, masterKeyID, err)
	if err != nil {
		return fail(StageWrap, err)
	}
	// Only the wrapped form is retained from here on.
	crypto.Wipe(key)
	state = StateWrapped

	// Wrapped → Uploaded
	wrappedB64 := base64.StdEncoding.EncodeToString(wrapped.Ciphertext)
	err = c.observe(ctx, StageUpload, func(ctx context.Context) error {
		metadata := map[string]string{
			MetaAlgorithm:    payload.Algorithm,
			MetaKeySalt:      base64.StdEncoding.EncodeToString(payload.Salt),
			MetaIV:           base64.StdEncoding.EncodeToString(payload.Nonce),
			MetaIterations:   strconv.FormatUint(uint64(payload.Iterations), 10),
			MetaWrappedKey:   wrappedB64,
			MetaKMSKeyID:     masterKeyID,
			MetaOriginalSize: strconv.Itoa(originalSize),
		}
		sse := &s3.SSEKMS{
			KeyID:             masterKeyID,
			EncryptionContext: map[string]string{encryptionContextKey: wrappedB64},
		}
		return c.storage.PutObject(ctx, dest.Bucket, dest.Object, bytes.NewReader(artifact), metadata, sse)
	})
	c.record(audit.EventTypeUpload, filePath, dest, masterKeyID, err)
	if err != nil {
		return fail(StageUpload, err)
	}
	if c.metrics != nil {
		c.metrics.RecordUploadedBytes(len(artifact))
	}
	state = StateUploaded

	// Uploaded → Done
	state = StateDone
	if c.metrics != nil {
		c.metrics.RecordRun("upload", "success")
	}
	log.WithField("state", state).Info("File encrypted and uploaded")

	return &Result{
		Location:     fmt.Sprintf("s3://%s/%s", dest.Bucket, dest.Object),
		Bucket:       dest.Bucket,
		Object:       dest.Object,
		ArtifactPath: artifactPath,
		WrappedKey:   wrapped,
	}, nil
}

// Fetch retrieves an uploaded object, unwraps its data key via the KMS and
// decrypts the payload. No password is needed; the wrapped key stored in
// the object metadata is sufficient.
func (c *Coordinator) Fetch(ctx context.Context, dest Destination) ([]byte, error) {
	if dest.Bucket == "" || dest.Object == "" {
		return nil, &StageError{Stage: StageFetch, Err: fmt.Errorf("%w: bucket and object are required", config.ErrInvalid)}
	}

	log := c.logger.WithFields(logrus.Fields{
		"bucket": dest.Bucket,
		"object": dest.Object,
	})

	fail := func(stage Stage, err error) ([]byte, error) {
		log.WithError(err).WithField("stage", stage).Error("Fetch failed")
		if c.metrics != nil {
			c.metrics.RecordRun("fetch", "error")
		}
		return nil, &StageError{Stage: stage, Err: err}
	}

	var body []byte
	var metadata map[string]string
	err := c.observe(ctx, StageFetch, func(ctx context.Context) error {
		reader, meta, err := c.storage.GetObject(ctx, dest.Bucket, dest.Object)
		if err != nil {
			return err
		}
		defer reader.Close()
		metadata = meta
		body, err = io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("%w: failed to read object body: %v", s3.ErrUpload, err)
		}
		return nil
	})
	c.record(audit.EventTypeFetch, "", dest, "", err)
	if err != nil {
		return fail(StageFetch, err)
	}

	wrappedB64 := metadata[MetaWrappedKey]
	if wrappedB64 == "" {
		return fail(StageUnwrap, fmt.Errorf("%w: object has no wrapped key metadata", kms.ErrKeyWrap))
	}
	ciphertext, err := base64.StdEncoding.DecodeString(wrappedB64)
	if err != nil {
		return fail(StageUnwrap, fmt.Errorf("%w: malformed wrapped key metadata: %v", kms.ErrKeyWrap, err))
	}

	var key []byte
	err = c.observe(ctx, StageUnwrap, func(ctx context.Context) error {
		unwrapped, err := c.wrapper.Unwrap(ctx, &kms.WrappedKey{
			KeyID:      metadata[MetaKMSKeyID],
			Ciphertext: ciphertext,
		})
		if err != nil {
			return err
		}
		key = unwrapped
		return nil
	})
	if c.metrics != nil {
		c.metrics.RecordKMSOperation("unwrap", err)
	}
	if err != nil {
		return fail(StageUnwrap, err)
	}
	defer crypto.Wipe(key)

	var plaintext []byte
	err = c.observe(ctx, StageDecrypt, func(ctx context.Context) error {
		payload, err := crypto.ParsePayload(body)
		if err != nil {
			return err
		}
		if alg := metadata[MetaAlgorithm]; alg != "" {
			if !crypto.IsAlgorithmSupported(alg) {
				return fmt.Errorf("%w: unsupported algorithm %s", crypto.ErrIntegrity, alg)
			}
			payload.Algorithm = alg
		}
		plaintext, err = payload.Open(key)
		return err
	})
	if err != nil {
		return fail(StageDecrypt, err)
	}

	if c.metrics != nil {
		c.metrics.RecordRun("fetch", "success")
	}
	log.Info("Object fetched and decrypted")
	return plaintext, nil
}

// DecryptFile decrypts a local artifact offline by re-deriving the data
// key from the password and the parameters in the artifact header. No KMS
// or storage access is involved.
func DecryptFile(path string, password []byte, algorithm string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	payload, err := crypto.ParsePayload(data)
	if err != nil {
		return nil, err
	}
	if algorithm != "" {
		payload.Algorithm = algorithm
	}

	key, err := crypto.DeriveKey(password, payload.Salt, int(payload.Iterations))
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	return payload.Open(key)
}

// observe runs a stage under a span and records its duration.
func (c *Coordinator) observe(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := tracing.StartStage(ctx, "pipeline."+string(stage))
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	if c.metrics != nil {
		c.metrics.RecordStage(string(stage), time.Since(start).Seconds(), err)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

// record emits an audit event if auditing is enabled.
func (c *Coordinator) record(eventType audit.EventType, file string, dest Destination, kmsKeyID string, err error) {
	if c.audit == nil {
		return
	}
	c.audit.Record(audit.Stage(eventType, file, dest.Bucket, dest.Object, c.cfg.Encryption.Algorithm, kmsKeyID, err, 0))
}
