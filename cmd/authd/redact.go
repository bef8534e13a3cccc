// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"bufio"
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/authd/authd/internal/redact"
)

// maxLineSize bounds a single input line.
const maxLineSize = 1 << 20

// NewRedactCmd creates the redact subcommand.
func NewRedactCmd() *cobra.Command {
	var (
		fields    []string
		separator string
	)
	cmd := &cobra.Command{
		Use:   "redact",
		Short: "Mask PII fields in log lines read from stdin",
		Long: `Read key=value log lines from stdin and write them to stdout with
the values of the named fields replaced by ` + redact.Redaction + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := redact.New(fields, redact.Redaction, separator)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
			out := cmd.OutOrStdout()
			for scanner.Scan() {
				if _, err := fmt.Fprintln(out, r.Redact(scanner.Text())); err != nil {
					return oops.Code("REDACT_WRITE_FAILED").Wrap(err)
				}
			}
			if err := scanner.Err(); err != nil {
				return oops.Code("REDACT_READ_FAILED").Wrap(err)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", redact.PIIFields, "fields whose values are masked")
	cmd.Flags().StringVar(&separator, "separator", redact.Separator, "separator between key=value pairs")
	return cmd
}
