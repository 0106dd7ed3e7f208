package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/avap-run/avapd/internal/compiler"
	"github.com/avap-run/avapd/internal/output"
	"github.com/avap-run/avapd/internal/parser"
	"github.com/spf13/cobra"
)

func compileCmd() *cobra.Command {
	var (
		hmacKey   string
		formatStr string
		showBytes bool
	)

	cmd := &cobra.Command{
		Use:   "compile <script-file>",
		Short: "Compile a script file to signed bytecode without starting the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hmacKey == "" {
				hmacKey = os.Getenv("AVAP_HMAC_KEY")
			}
			if hmacKey == "" {
				return fmt.Errorf("hmac key is required (set --hmac-key or AVAP_HMAC_KEY)")
			}

			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}

			nodes, err := parser.New().Parse(string(src))
			if err != nil {
				return fmt.Errorf("parse script: %w", err)
			}

			comp := compiler.New([]byte(hmacKey))
			result, err := comp.Compile(nodes)
			if err != nil {
				return fmt.Errorf("compile script: %w", err)
			}

			printer := output.NewPrinter(output.ParseFormat(formatStr))
			cr := output.CompileResult{
				ScriptHash:    result.SourceHash,
				NodeCount:     len(nodes),
				BytecodeBytes: len(result.Bytecode),
			}
			if showBytes {
				cr.Bytecode = base64.StdEncoding.EncodeToString(result.Bytecode)
			}
			return printer.PrintCompileResult(cr)
		},
	}

	cmd.Flags().StringVar(&hmacKey, "hmac-key", "", "HMAC bytecode signing key")
	cmd.Flags().StringVar(&formatStr, "output", "table", "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&showBytes, "show-bytecode", false, "Include base64 bytecode in output")

	return cmd
}
