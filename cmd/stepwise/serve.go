package main

import (
	"github.com/spf13/cobra"
)

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the step protocol as MCP tools over stdio",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := c.openApp()
			if err != nil {
				return err
			}
			defer application.Close()
			return application.Serve(cmd.Context(), c.stdin, c.stdout)
		},
	}
}
