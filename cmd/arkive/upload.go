package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/arkive/internal/crypto"
	"github.com/kenneth/arkive/internal/pipeline"
)

var (
	uploadBucket   string
	uploadObject   string
	uploadKMSKeyID string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Encrypt a file and upload it to object storage",
	Long: `Derives a data key from the password, encrypts the file, wraps the
data key under the configured KMS master key and uploads the encrypted
artifact. A failed KMS wrap aborts the run before anything is uploaded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			rt.close(shutdownCtx)
		}()

		if uploadKMSKeyID == "" {
			uploadKMSKeyID = rt.cfg.KMS.KeyID
		}
		if uploadKMSKeyID == "" {
			return fmt.Errorf("a KMS master key id is required (--kms-key-id or kms.key_id)")
		}

		filePath := args[0]
		object := uploadObject
		if object == "" {
			object = filepath.Base(filePath) + rt.cfg.Encryption.ArtifactSuffix
		}

		password, err := readPassword("Encryption password: ")
		if err != nil {
			return err
		}
		defer crypto.Wipe(password)

		coord, wrapper, err := rt.coordinator(ctx)
		if err != nil {
			return err
		}
		defer wrapper.Close(ctx)

		result, err := coord.Run(ctx, filePath, password, uploadKMSKeyID, pipeline.Destination{
			Bucket: uploadBucket,
			Object: object,
		})
		if err != nil {
			return err
		}

		rt.logger.WithFields(logrus.Fields{
			"location": result.Location,
			"artifact": result.ArtifactPath,
		}).Info("Upload complete")
		fmt.Println(result.Location)
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadBucket, "bucket", "b", "", "destination bucket (required)")
	uploadCmd.Flags().StringVarP(&uploadObject, "object", "o", "", "destination object key (default <file>.enc)")
	uploadCmd.Flags().StringVar(&uploadKMSKeyID, "kms-key-id", "", "KMS master key id (default kms.key_id from config)")
	_ = uploadCmd.MarkFlagRequired("bucket")
}
