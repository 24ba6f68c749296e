package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roushou/stepwise/internal/domain/workflow"
)

func (c *cli) newWorkflowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"workflow", "wf"},
		Short:   "Manage saved workflow definitions",
	}
	cmd.AddCommand(
		c.newWorkflowsListCmd(),
		c.newWorkflowsShowCmd(),
		c.newWorkflowsSaveCmd(),
		c.newWorkflowsDeleteCmd(),
	)
	return cmd
}

func (c *cli) newWorkflowsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved workflows",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := c.openApp()
			if err != nil {
				return err
			}
			defer application.Close()

			defs, err := application.Definitions().List(cmd.Context())
			if err != nil {
				return err
			}
			return c.render(map[string]any{"workflows": defs}, func() string {
				return renderDefinitionsText(defs)
			})
		},
	}
}

func (c *cli) newWorkflowsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one workflow",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := c.openApp()
			if err != nil {
				return err
			}
			defer application.Close()

			def, err := application.Definitions().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.render(def, func() string {
				return renderDefinitionsText([]workflow.Definition{def})
			})
		},
	}
}

func (c *cli) newWorkflowsSaveCmd() *cobra.Command {
	var def workflow.Definition
	cmd := &cobra.Command{
		Use:   "save <id>",
		Short: "Create or replace a workflow",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := c.openApp()
			if err != nil {
				return err
			}
			defer application.Close()

			def.ID = args[0]
			if err := application.Definitions().Save(cmd.Context(), def); err != nil {
				return err
			}
			return c.render(def, func() string {
				return styles.ok.Render(fmt.Sprintf("Saved workflow %s.", def.ID))
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&def.Query, "query", "", "item source query (required)")
	flags.StringVar(&def.DisplayName, "name", "", "display name")
	flags.StringVar(&def.Description, "description", "", "description")
	flags.BoolVar(&def.SkipMarksHandled, "skip-marks-handled", false, "mark items handled when skipped")
	return cmd
}

func (c *cli) newWorkflowsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a workflow. Running sessions are unaffected",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := c.openApp()
			if err != nil {
				return err
			}
			defer application.Close()

			deleted, err := application.Definitions().Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.render(map[string]any{"id": args[0], "deleted": deleted}, func() string {
				if !deleted {
					return styles.muted.Render(fmt.Sprintf("Workflow %s did not exist.", args[0]))
				}
				return styles.ok.Render(fmt.Sprintf("Deleted workflow %s.", args[0]))
			})
		},
	}
}
