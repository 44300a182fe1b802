package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmgilman/objgit/git"
	"github.com/jmgilman/objgit/repoid"
)

func newRepoCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage repositories in the object store",
	}
	cmd.AddCommand(newRepoCreateCmd(a), newRepoDeleteCmd(a))
	return cmd
}

func newRepoCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create OWNER-ID NAME",
		Short: "Create an empty repository",
		Long: `Create an empty bare repository with HEAD pointing at refs/heads/main.

Whitespace in NAME becomes "-" and the name is lowercased, so "My Project"
is stored as my-project.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, store, err := a.setup(cmd)
			if err != nil {
				return err
			}

			name, err := repoid.NormalizeNewName(args[1])
			if err != nil {
				return err
			}
			id, err := repoid.New(args[0], name)
			if err != nil {
				return err
			}

			if err := git.Create(cmd.Context(), store, id); err != nil {
				return err
			}
			logger.Info("created repository", "repository", id.String(), "prefix", id.Prefix())
			fmt.Fprintln(cmd.OutOrStdout(), id.String())
			return nil
		},
	}
}

func newRepoDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete OWNER-ID NAME",
		Short: "Delete a repository and every object under its prefix",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, store, err := a.setup(cmd)
			if err != nil {
				return err
			}

			id, err := repoid.New(args[0], args[1])
			if err != nil {
				return err
			}

			n, err := git.Delete(cmd.Context(), store, id)
			if err != nil {
				return err
			}
			logger.Info("deleted repository", "repository", id.String(), "objects", n)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%d objects)\n", id, n)
			return nil
		},
	}
}
