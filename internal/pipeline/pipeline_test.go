package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/arkive/internal/audit"
	"github.com/kenneth/arkive/internal/config"
	"github.com/kenneth/arkive/internal/crypto"
	"github.com/kenneth/arkive/internal/kms"
	"github.com/kenneth/arkive/internal/s3"
)

// fakeWrapper is a recording KMS double. Wrap is reversible so Unwrap can
// round-trip without a real KMS.
type fakeWrapper struct {
	failWrap    bool
	failUnwrap  bool
	wrapCalls   int
	unwrapCalls int
	lastKeyID   string
}

var wrapMarker = []byte("wrapped:")

func (f *fakeWrapper) Provider() string { return "fake-kms" }

func (f *fakeWrapper) Wrap(_ context.Context, plaintext []byte, keyID string) (*kms.WrappedKey, error) {
	f.wrapCalls++
	f.lastKeyID = keyID
	if f.failWrap {
		return nil, fmt.Errorf("%w: simulated kms outage", kms.ErrKeyWrap)
	}
	ct := make([]byte, 0, len(wrapMarker)+len(plaintext))
	ct = append(ct, wrapMarker...)
	ct = append(ct, plaintext...)
	return &kms.WrappedKey{KeyID: keyID, Provider: f.Provider(), Ciphertext: ct}, nil
}

func (f *fakeWrapper) Unwrap(_ context.Context, wrapped *kms.WrappedKey) ([]byte, error) {
	f.unwrapCalls++
	if f.failUnwrap {
		return nil, fmt.Errorf("%w: simulated kms outage", kms.ErrKeyWrap)
	}
	if !bytes.HasPrefix(wrapped.Ciphertext, wrapMarker) {
		return nil, fmt.Errorf("%w: unrecognized ciphertext", kms.ErrKeyWrap)
	}
	key := make([]byte, len(wrapped.Ciphertext)-len(wrapMarker))
	copy(key, wrapped.Ciphertext[len(wrapMarker):])
	return key, nil
}

func (f *fakeWrapper) Close(context.Context) error { return nil }

type putCall struct {
	bucket   string
	object   string
	body     []byte
	metadata map[string]string
	sse      *s3.SSEKMS
}

// fakeStorage records every PutObject call and serves stored objects back
// through GetObject.
type fakeStorage struct {
	failPut bool
	puts    []putCall
}

func (f *fakeStorage) PutObject(_ context.Context, bucket, key string, reader io.Reader, metadata map[string]string, sse *s3.SSEKMS) error {
	if f.failPut {
		return fmt.Errorf("%w: simulated backend outage", s3.ErrUpload)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.puts = append(f.puts, putCall{bucket: bucket, object: key, body: body, metadata: metadata, sse: sse})
	return nil
}

func (f *fakeStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, map[string]string, error) {
	for i := len(f.puts) - 1; i >= 0; i-- {
		p := f.puts[i]
		if p.bucket == bucket && p.object == key {
			return io.NopCloser(bytes.NewReader(p.body)), p.metadata, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: no such object %s/%s", s3.ErrUpload, bucket, key)
}

func (f *fakeStorage) HeadObject(_ context.Context, bucket, key string) (map[string]string, error) {
	for i := len(f.puts) - 1; i >= 0; i-- {
		p := f.puts[i]
		if p.bucket == bucket && p.object == key {
			return p.metadata, nil
		}
	}
	return nil, fmt.Errorf("%w: no such object %s/%s", s3.ErrUpload, bucket, key)
}

func testConfig() *config.Config {
	return &config.Config{
		LogLevel: "error",
		Encryption: config.EncryptionConfig{
			Algorithm:        crypto.AlgorithmAES256GCM,
			PBKDF2Iterations: crypto.DefaultIterations,
			ArtifactSuffix:   ".enc",
		},
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestRun_EndToEnd(t *testing.T) {
	plaintext := []byte("hello world")
	password := []byte("correct horse")

	filePath := writeTempFile(t, plaintext)
	storage := &fakeStorage{}
	wrapper := &fakeWrapper{}
	rec := audit.NewRecorder(100, nil)
	coord := NewCoordinator(testConfig(), storage, wrapper, testLogger(), nil, rec)

	result, err := coord.Run(context.Background(), filePath, password, "master-key-1", Destination{Bucket: "backups", Object: "report.txt.enc"})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "s3://backups/report.txt.enc", result.Location)
	assert.Equal(t, filePath+".enc", result.ArtifactPath)
	require.NotNil(t, result.WrappedKey)
	assert.Equal(t, "master-key-1", result.WrappedKey.KeyID)

	// Artifact exists with owner-only permissions.
	info, err := os.Stat(result.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	artifact, err := os.ReadFile(result.ArtifactPath)
	require.NoError(t, err)

	require.Len(t, storage.puts, 1)
	put := storage.puts[0]
	assert.Equal(t, "backups", put.bucket)
	assert.Equal(t, "report.txt.enc", put.object)
	assert.Equal(t, artifact, put.body)

	// First 16 bytes of the artifact are the salt recorded in the metadata.
	salt, err := base64.StdEncoding.DecodeString(put.metadata[MetaKeySalt])
	require.NoError(t, err)
	require.Len(t, salt, crypto.SaltSize)
	assert.Equal(t, salt, artifact[:crypto.SaltSize])

	assert.Equal(t, crypto.AlgorithmAES256GCM, put.metadata[MetaAlgorithm])
	assert.Equal(t, "100000", put.metadata[MetaIterations])
	assert.Equal(t, "master-key-1", put.metadata[MetaKMSKeyID])
	assert.Equal(t, "11", put.metadata[MetaOriginalSize])
	assert.NotEmpty(t, put.metadata[MetaIV])

	// Server-side encryption is bound to the same master key, and the
	// encryption context carries the wrapped data key.
	require.NotNil(t, put.sse)
	assert.Equal(t, "master-key-1", put.sse.KeyID)
	wrappedB64 := base64.StdEncoding.EncodeToString(result.WrappedKey.Ciphertext)
	assert.Equal(t, wrappedB64, put.sse.EncryptionContext["wrapped-data-key"])
	assert.Equal(t, wrappedB64, put.metadata[MetaWrappedKey])

	// The artifact decrypts offline with the original password.
	recovered, err := DecryptFile(result.ArtifactPath, password, "")
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)

	// A wrong password must fail authentication, not return garbage.
	_, err = DecryptFile(result.ArtifactPath, []byte("incorrect zebra"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, crypto.ErrIntegrity)

	events := rec.Events()
	require.Len(t, events, 4)
	assert.Equal(t, audit.EventTypeDerive, events[0].EventType)
	assert.Equal(t, audit.EventTypeUpload, events[3].EventType)
	for _, e := range events {
		assert.True(t, e.Success)
	}
}

func TestRun_ChaCha20Poly1305(t *testing.T) {
	plaintext := []byte("alternate suite payload")
	password := []byte("correct horse")

	cfg := testConfig()
	cfg.Encryption.Algorithm = crypto.AlgorithmChaCha20Poly1305

	filePath := writeTempFile(t, plaintext)
	storage := &fakeStorage{}
	coord := NewCoordinator(cfg, storage, &fakeWrapper{}, testLogger(), nil, nil)

	result, err := coord.Run(context.Background(), filePath, password, "master-key-1", Destination{Bucket: "backups", Object: "alt.enc"})
	require.NoError(t, err)

	require.Len(t, storage.puts, 1)
	assert.Equal(t, crypto.AlgorithmChaCha20Poly1305, storage.puts[0].metadata[MetaAlgorithm])

	recovered, err := DecryptFile(result.ArtifactPath, password, crypto.AlgorithmChaCha20Poly1305)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestRun_WrapFailureAbortsBeforeUpload(t *testing.T) {
	filePath := writeTempFile(t, []byte("hello world"))
	storage := &fakeStorage{}
	wrapper := &fakeWrapper{failWrap: true}
	coord := NewCoordinator(testConfig(), storage, wrapper, testLogger(), nil, nil)

	_, err := coord.Run(context.Background(), filePath, []byte("correct horse"), "master-key-1", Destination{Bucket: "backups", Object: "x.enc"})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageWrap, stageErr.Stage)
	assert.ErrorIs(t, err, kms.ErrKeyWrap)

	// The raw key must never reach the backend: no put call at all.
	assert.Equal(t, 1, wrapper.wrapCalls)
	assert.Empty(t, storage.puts)
}

func TestRun_UploadFailure(t *testing.T) {
	filePath := writeTempFile(t, []byte("hello world"))
	storage := &fakeStorage{failPut: true}
	coord := NewCoordinator(testConfig(), storage, &fakeWrapper{}, testLogger(), nil, nil)

	_, err := coord.Run(context.Background(), filePath, []byte("correct horse"), "master-key-1", Destination{Bucket: "backups", Object: "x.enc"})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageUpload, stageErr.Stage)
	assert.ErrorIs(t, err, s3.ErrUpload)
}

func TestRun_MissingFile(t *testing.T) {
	storage := &fakeStorage{}
	wrapper := &fakeWrapper{}
	coord := NewCoordinator(testConfig(), storage, wrapper, testLogger(), nil, nil)

	_, err := coord.Run(context.Background(), filepath.Join(t.TempDir(), "absent.txt"), []byte("correct horse"), "master-key-1", Destination{Bucket: "backups", Object: "x.enc"})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageEncrypt, stageErr.Stage)
	assert.ErrorIs(t, err, crypto.ErrEncryption)
	assert.Equal(t, 0, wrapper.wrapCalls)
	assert.Empty(t, storage.puts)
}

func TestRun_InvalidArguments(t *testing.T) {
	coord := NewCoordinator(testConfig(), &fakeStorage{}, &fakeWrapper{}, testLogger(), nil, nil)

	_, err := coord.Run(context.Background(), "f.txt", []byte("pw"), "master-key-1", Destination{Bucket: "", Object: "x"})
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = coord.Run(context.Background(), "f.txt", []byte("pw"), "", Destination{Bucket: "b", Object: "x"})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRun_EmptyPassword(t *testing.T) {
	filePath := writeTempFile(t, []byte("hello world"))
	coord := NewCoordinator(testConfig(), &fakeStorage{}, &fakeWrapper{}, testLogger(), nil, nil)

	_, err := coord.Run(context.Background(), filePath, nil, "master-key-1", Destination{Bucket: "backups", Object: "x.enc"})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageDerive, stageErr.Stage)
	assert.ErrorIs(t, err, crypto.ErrKeyDerivation)
}

func TestRun_FreshSaltAndNoncePerRun(t *testing.T) {
	filePath := writeTempFile(t, []byte("hello world"))
	storage := &fakeStorage{}
	coord := NewCoordinator(testConfig(), storage, &fakeWrapper{}, testLogger(), nil, nil)

	for i := 0; i < 2; i++ {
		_, err := coord.Run(context.Background(), filePath, []byte("correct horse"), "master-key-1", Destination{Bucket: "backups", Object: "x.enc"})
		require.NoError(t, err)
	}

	require.Len(t, storage.puts, 2)
	assert.NotEqual(t, storage.puts[0].metadata[MetaKeySalt], storage.puts[1].metadata[MetaKeySalt])
	assert.NotEqual(t, storage.puts[0].metadata[MetaIV], storage.puts[1].metadata[MetaIV])
}

func TestFetch_RoundTrip(t *testing.T) {
	plaintext := []byte("hello world")
	filePath := writeTempFile(t, plaintext)
	storage := &fakeStorage{}
	wrapper := &fakeWrapper{}
	coord := NewCoordinator(testConfig(), storage, wrapper, testLogger(), nil, nil)

	dest := Destination{Bucket: "backups", Object: "report.txt.enc"}
	_, err := coord.Run(context.Background(), filePath, []byte("correct horse"), "master-key-1", dest)
	require.NoError(t, err)

	// No password: the wrapped key in the object metadata is enough.
	recovered, err := coord.Fetch(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
	assert.Equal(t, 1, wrapper.unwrapCalls)
}

func TestFetch_MissingObject(t *testing.T) {
	coord := NewCoordinator(testConfig(), &fakeStorage{}, &fakeWrapper{}, testLogger(), nil, nil)

	_, err := coord.Fetch(context.Background(), Destination{Bucket: "backups", Object: "absent"})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageFetch, stageErr.Stage)
}

func TestFetch_MissingWrappedKeyMetadata(t *testing.T) {
	storage := &fakeStorage{}
	require.NoError(t, storage.PutObject(context.Background(), "backups", "bare", bytes.NewReader([]byte("not an artifact, just bytes....")), map[string]string{}, nil))

	coord := NewCoordinator(testConfig(), storage, &fakeWrapper{}, testLogger(), nil, nil)

	_, err := coord.Fetch(context.Background(), Destination{Bucket: "backups", Object: "bare"})
	require.Error(t, err)
	assert.ErrorIs(t, err, kms.ErrKeyWrap)
}

func TestFetch_UnwrapFailure(t *testing.T) {
	filePath := writeTempFile(t, []byte("hello world"))
	storage := &fakeStorage{}
	wrapper := &fakeWrapper{}
	coord := NewCoordinator(testConfig(), storage, wrapper, testLogger(), nil, nil)

	dest := Destination{Bucket: "backups", Object: "x.enc"}
	_, err := coord.Run(context.Background(), filePath, []byte("correct horse"), "master-key-1", dest)
	require.NoError(t, err)

	wrapper.failUnwrap = true
	_, err = coord.Fetch(context.Background(), dest)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageUnwrap, stageErr.Stage)
	assert.ErrorIs(t, err, kms.ErrKeyWrap)
}

func TestFetch_TamperedBody(t *testing.T) {
	filePath := writeTempFile(t, []byte("hello world"))
	storage := &fakeStorage{}
	coord := NewCoordinator(testConfig(), storage, &fakeWrapper{}, testLogger(), nil, nil)

	dest := Destination{Bucket: "backups", Object: "x.enc"}
	_, err := coord.Run(context.Background(), filePath, []byte("correct horse"), "master-key-1", dest)
	require.NoError(t, err)

	// Flip one ciphertext bit in the stored object.
	require.Len(t, storage.puts, 1)
	storage.puts[0].body[len(storage.puts[0].body)-1] ^= 0x01

	_, err = coord.Fetch(context.Background(), dest)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageDecrypt, stageErr.Stage)
	assert.ErrorIs(t, err, crypto.ErrIntegrity)
}

func TestDecryptFile_MissingArtifact(t *testing.T) {
	_, err := DecryptFile(filepath.Join(t.TempDir(), "absent.enc"), []byte("pw"), "")
	require.Error(t, err)
	var stageErr *StageError
	assert.False(t, errors.As(err, &stageErr))
}
