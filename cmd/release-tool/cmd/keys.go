package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/app-updater/internal/fsutil"
	"github.com/oshokin/app-updater/internal/logger"
	"github.com/oshokin/app-updater/internal/signing"
)

const (
	publicKeyFileMode  = 0o644
	privateKeyFileMode = 0o600
)

var errKeyExists = errors.New("key file already exists, use --force to overwrite")

var (
	keygenOutDir string
	keygenName   string
	keygenForce  bool

	signKeyFile string

	keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 key pair for signing executables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv, err := signing.GenerateKey()
			if err != nil {
				return err
			}

			publicPath := filepath.Join(keygenOutDir, keygenName+".pub.pem")
			privatePath := filepath.Join(keygenOutDir, keygenName+".key.pem")

			for _, path := range []string{publicPath, privatePath} {
				if _, statErr := os.Stat(path); statErr == nil && !keygenForce {
					return fmt.Errorf("%s: %w", path, errKeyExists)
				}
			}

			if err = fsutil.WriteFileAtomic(privatePath, signing.EncodePrivateKey(priv), privateKeyFileMode); err != nil {
				return fmt.Errorf("write private key: %w", err)
			}

			if err = fsutil.WriteFileAtomic(publicPath, signing.EncodePublicKey(pub), publicKeyFileMode); err != nil {
				return fmt.Errorf("write public key: %w", err)
			}

			logger.InfoKV(cmd.Context(), "Signing key generated",
				"public_key", publicPath, "private_key", privatePath)

			_, err = fmt.Fprintln(cmd.OutOrStdout(), signing.Thumbprint(pub))

			return err
		},
	}

	signCmd = &cobra.Command{
		Use:   "sign <file>...",
		Short: "Write detached <file>.sig signatures",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := signing.LoadPrivateKey(signKeyFile)
			if err != nil {
				return err
			}

			now := time.Now()

			for _, path := range args {
				sig, signErr := signing.SignFile(priv, path, now)
				if signErr != nil {
					return signErr
				}

				logger.InfoKV(cmd.Context(), "File signed",
					"file", path, "signature", path+signing.FileSuffix, "key_id", sig.KeyID)
			}

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	keygenCmd.Flags().StringVar(&keygenOutDir, "out-dir", ".", "directory for the key files")
	keygenCmd.Flags().StringVar(&keygenName, "name", "update-signing", "base name of the key files")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "overwrite existing key files")

	signCmd.Flags().StringVar(&signKeyFile, "key", "", "PEM private key")
	_ = signCmd.MarkFlagRequired("key")
}
