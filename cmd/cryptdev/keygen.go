package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/absfs/cryptdev"
	"github.com/spf13/cobra"
)

func newKeygenCommand(a *app) *cobra.Command {
	var (
		cipherSpec    string
		bits          int
		passphraseEnv string
		kdfName       string
		saltHex       string
		iterations    uint32
		device        string
		ivOffset      uint64
		blockOffset   uint64
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key or a complete parameter string",
		Long: `Keygen prints a random hex key, or a key derived from the passphrase held
in the environment variable named by --passphrase-env. With --device it prints
a complete parameter string instead.

Derived keys depend on the salt; keep the printed salt to derive the same key
again.`,
		Args: cobra.NoArgs,
		// Keygen needs no configured target
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := cryptdev.ParseAlgorithm(strings.SplitN(cipherSpec, "-", 2)[0])
			if err != nil {
				return fmt.Errorf("invalid --cipher %q: %w", cipherSpec, err)
			}

			var key []byte
			if passphraseEnv == "" {
				key, err = cryptdev.GenerateKey(alg, bits)
			} else {
				key, err = deriveFromEnv(cmd, alg, bits, passphraseEnv, kdfName, saltHex, iterations)
			}
			if err != nil {
				return err
			}
			defer clear(key)

			w := cmd.OutOrStdout()
			if device == "" {
				fmt.Fprintln(w, hex.EncodeToString(key))
				return nil
			}
			fmt.Fprintln(w, cryptdev.FormatParams(cipherSpec, key, ivOffset, device, blockOffset))
			return nil
		},
	}

	cmd.Flags().StringVar(&cipherSpec, "cipher", "aes-cbc-essiv:sha256", "cipher specification")
	cmd.Flags().IntVar(&bits, "bits", 256, "key length in bits")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "", "environment variable holding the passphrase")
	cmd.Flags().StringVar(&kdfName, "kdf", "argon2id", "key derivation function (argon2id, pbkdf2-sha256, pbkdf2-sha512)")
	cmd.Flags().StringVar(&saltHex, "salt", "", "hex salt for key derivation (random if empty)")
	cmd.Flags().Uint32Var(&iterations, "iterations", 0, "KDF iterations (0 uses the default)")
	cmd.Flags().StringVar(&device, "device", "", "device path; prints a full parameter string")
	cmd.Flags().Uint64Var(&ivOffset, "iv-offset", 0, "iv offset for the parameter string")
	cmd.Flags().Uint64Var(&blockOffset, "block-offset", 0, "block offset for the parameter string")
	return cmd
}

func deriveFromEnv(cmd *cobra.Command, alg cryptdev.Algorithm, bits int, env, kdfName, saltHex string, iterations uint32) ([]byte, error) {
	passphrase := os.Getenv(env)
	if passphrase == "" {
		return nil, fmt.Errorf("environment variable %s not set", env)
	}

	kdf, err := cryptdev.ParseKDF(kdfName)
	if err != nil {
		return nil, err
	}
	params, err := cryptdev.DefaultKDFParams()
	if err != nil {
		return nil, err
	}
	params.KDF = kdf
	params.Iterations = iterations
	if saltHex != "" {
		if params.Salt, err = hex.DecodeString(saltHex); err != nil {
			return nil, fmt.Errorf("invalid --salt: %w", err)
		}
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "salt: %s\n", hex.EncodeToString(params.Salt))
	}

	return cryptdev.DeriveKey(alg, bits, []byte(passphrase), params)
}
