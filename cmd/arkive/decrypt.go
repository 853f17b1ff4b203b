package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kenneth/arkive/internal/crypto"
	"github.com/kenneth/arkive/internal/pipeline"
)

var (
	decryptOutput    string
	decryptAlgorithm string
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt <artifact>",
	Short: "Decrypt a local encrypted artifact with the password",
	Long: `Decrypts an artifact offline by re-deriving the data key from the
password and the salt and iteration count stored in the artifact header.
No KMS or storage access is involved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Encryption password: ")
		if err != nil {
			return err
		}
		defer crypto.Wipe(password)

		plaintext, err := pipeline.DecryptFile(args[0], password, decryptAlgorithm)
		if err != nil {
			return err
		}
		defer crypto.Wipe(plaintext)

		output := decryptOutput
		if output == "" {
			output = strings.TrimSuffix(args[0], ".enc")
			if output == args[0] {
				output = args[0] + ".out"
			}
		}
		if output == "-" {
			_, err = os.Stdout.Write(plaintext)
			return err
		}
		return os.WriteFile(output, plaintext, 0o600)
	},
}

func init() {
	decryptCmd.Flags().StringVarP(&decryptOutput, "output", "o", "", "output file (default artifact path without .enc, - for stdout)")
	decryptCmd.Flags().StringVar(&decryptAlgorithm, "algorithm", "", "override the AEAD algorithm recorded out-of-band")
}
