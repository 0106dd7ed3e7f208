package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/avap-run/avapd/internal/secrets"
	"github.com/spf13/cobra"
)

func keygenCmd() *cobra.Command {
	var size int
	var kind string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an HMAC signing key or a secrets master key",
		Long:  "Generate a random key for --hmac-key / AVAP_HMAC_KEY (shared between avapd and the Definition Engine), or with --kind secrets a 256-bit AES-GCM master key for --master-key / AVAP_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind == "secrets" {
				key, err := secrets.GenerateKey()
				if err != nil {
					return fmt.Errorf("generate secrets master key: %w", err)
				}
				fmt.Println(key)
				return nil
			}
			buf := make([]byte, size)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Println(hex.EncodeToString(buf))
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "size", 32, "Key size in bytes (hmac kind only)")
	cmd.Flags().StringVar(&kind, "kind", "hmac", "Key kind: hmac or secrets")
	return cmd
}
