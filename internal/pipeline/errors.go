package pipeline

import "fmt"

// Stage identifies the pipeline stage where a failure originated.
type Stage string

const (
	// StageDerive is the key derivation stage.
	StageDerive Stage = "derive"
	// StageEncrypt is the envelope encryption stage.
	StageEncrypt Stage = "encrypt"
	// StageWrap is the KMS key wrap stage.
	StageWrap Stage = "wrap"
	// StageUpload is the storage upload stage.
	StageUpload Stage = "upload"
	// StageFetch is the retrieve stage of the fetch path.
	StageFetch Stage = "fetch"
	// StageUnwrap is the KMS key unwrap stage of the fetch path.
	StageUnwrap Stage = "unwrap"
	// StageDecrypt is the envelope decryption stage of the fetch path.
	StageDecrypt Stage = "decrypt"
)

// StageError is the terminal failure of a pipeline run: the stage that
// failed and the underlying cause. No later stage is attempted after it.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline failed at stage %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause, so callers can classify failures
// with errors.Is against the package sentinels (crypto.ErrKeyDerivation,
// crypto.ErrIntegrity, kms.ErrKeyWrap, s3.ErrUpload, ...).
func (e *StageError) Unwrap() error {
	return e.Err
}
