package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roushou/stepwise/internal/domain/workflow"
	"github.com/roushou/stepwise/internal/usecase"
)

func (c *cli) newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <workflow-id>",
		Short: "Start a session for a saved workflow",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := c.openApp()
			if err != nil {
				return err
			}
			defer application.Close()

			resp, err := application.Steps().Start(cmd.Context(), args[0])
			return c.reportStep(resp, err)
		},
	}
}

func (c *cli) newContinueCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "continue <token> <action>",
		Short: "Apply an action (view, reply, archive, skip, quit) to the current item",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := c.openApp()
			if err != nil {
				return err
			}
			defer application.Close()

			req := workflow.ActionRequest{Kind: workflow.ActionKind(args[1])}
			if cmd.Flags().Changed("body") {
				req.Payload = map[string]any{"body": body}
			}
			resp, err := application.Steps().Continue(cmd.Context(), args[0], req)
			return c.reportStep(resp, err)
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "reply text (required for reply)")
	return cmd
}

func (c *cli) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <token>",
		Short: "Discard a session",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := c.openApp()
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.Steps().Delete(cmd.Context(), args[0]); err != nil {
				return c.reportStep(workflow.StepResponse{}, err)
			}
			return c.render(map[string]any{"success": true, "message": "Session deleted."}, func() string {
				return styles.ok.Render("Session deleted.")
			})
		},
	}
}

func (c *cli) newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired and unreadable sessions",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := c.openApp()
			if err != nil {
				return err
			}
			defer application.Close()

			removed, err := application.Steps().Cleanup(cmd.Context())
			if err != nil {
				return c.reportStep(workflow.StepResponse{}, err)
			}
			return c.render(map[string]any{"success": true, "removed": removed}, func() string {
				return styles.ok.Render(fmt.Sprintf("Removed %d session(s).", removed))
			})
		},
	}
}

// reportStep prints the response, or the failure rendered as a response.
func (c *cli) reportStep(resp workflow.StepResponse, err error) error {
	if err != nil {
		failure := usecase.FailureResponse(err)
		if renderErr := c.render(failure, func() string { return renderStepText(failure) }); renderErr != nil {
			return renderErr
		}
		return reportedError{err}
	}
	return c.render(resp, func() string { return renderStepText(resp) })
}
