package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/arkive/internal/crypto"
	"github.com/kenneth/arkive/internal/pipeline"
)

var (
	fetchBucket string
	fetchOutput string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <object>",
	Short: "Download an uploaded object and decrypt it via the KMS",
	Long: `Retrieves the encrypted object, unwraps the data key stored in its
metadata through the KMS and decrypts the payload. No password is needed.`,
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

		coord, wrapper, err := rt.coordinator(ctx)
		if err != nil {
			return err
		}
		defer wrapper.Close(ctx)

		plaintext, err := coord.Fetch(ctx, pipeline.Destination{
			Bucket: fetchBucket,
			Object: args[0],
		})
		if err != nil {
			return err
		}
		defer crypto.Wipe(plaintext)

		if fetchOutput == "" || fetchOutput == "-" {
			_, err = os.Stdout.Write(plaintext)
			return err
		}
		if err := os.WriteFile(fetchOutput, plaintext, 0o600); err != nil {
			return err
		}
		rt.logger.WithFields(logrus.Fields{
			"output": fetchOutput,
			"bytes":  len(plaintext),
		}).Info("Fetch complete")
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchBucket, "bucket", "b", "", "source bucket (required)")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "output file (default stdout)")
	_ = fetchCmd.MarkFlagRequired("bucket")
}
