package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmgilman/objgit/auth"
	"github.com/jmgilman/objgit/errors"
)

func newHashPasswordCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:     "hash-password",
		Short:   "Print a bcrypt hash for a user's passwordHash field",
		Long:    `Read a password from the first line of standard input and print its bcrypt hash.`,
		Example: `  printf '%s\n' "$PASSWORD" | objgit hash-password`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.Wrap(err, errors.CodeInvalidInput, "no password on standard input")
			}

			hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
