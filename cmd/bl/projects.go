package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bidline/internal/app"
	"bidline/internal/domain"
	"bidline/internal/engine"
	"bidline/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Post and inspect projects"}
	prj.AddCommand(projectPostCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectOffersCmd())
	return prj
}

func projectPostCmd() *cobra.Command {
	var url string
	var price uint64
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a project as the acting owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := actorID()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.PostProject(ctx, owner, url, price)
				if err != nil {
					return err
				}
				return printJSONOrTable(p.Snapshot())
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "project descriptor URL")
	cmd.Flags().Uint64Var(&price, "price", 0, "asking price")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				snaps := make([]domain.ProjectSnapshot, 0, len(items))
				for _, p := range items {
					snaps = append(snaps, p.Snapshot())
				}
				if viper.GetBool("json") {
					return printJSON(snaps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Owner", "Price", "State", "Assignee", "Escrowed", "URL"})
				for _, s := range snaps {
					tw.AppendRow(table.Row{s.ID, s.Owner, s.Price, s.State, deref(s.Assignee), deref(s.EscrowedAmount), s.DescriptorURL})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Owner, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.State, "state", "", "state filter (open, assigned, solution_submitted, completed)")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.Project(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p.Snapshot())
			})
		},
	}
}

func projectOffersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offers <project-id>",
		Short: "List offers on a project in placement order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				offers, err := ws.Engine.ListOffers(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(offers)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Offerer", "Price", "URL", "Placed"})
				for i, o := range offers {
					tw.AppendRow(table.Row{i + 1, o.Offerer, o.Price, o.OfferURL, o.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func offerCmd() *cobra.Command {
	off := &cobra.Command{Use: "offer", Short: "Bid on projects"}
	var url string
	var price uint64
	place := &cobra.Command{
		Use:   "place <project-id>",
		Short: "Place an offer as the acting account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			offerer, err := actorID()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				o, err := ws.Engine.PlaceOffer(ctx, args[0], offerer, url, price)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	place.Flags().StringVar(&url, "url", "", "offer descriptor URL")
	place.Flags().Uint64Var(&price, "price", 0, "offered price")
	_ = place.MarkFlagRequired("url")
	_ = place.MarkFlagRequired("price")
	off.AddCommand(place)
	return off
}

func assignCmd() *cobra.Command {
	var offerer string
	cmd := &cobra.Command{
		Use:   "assign <project-id>",
		Short: "Escrow an offer's price and assign the project (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Project, error) {
				return e.AssignProject(ctx, args[0], actor, offerer)
			})
		},
	}
	cmd.Flags().StringVar(&offerer, "offerer", "", "account whose offer is selected")
	_ = cmd.MarkFlagRequired("offerer")
	return cmd
}

func solutionCmd() *cobra.Command {
	sol := &cobra.Command{
		Use:   "solution",
		Short: "Submit and review solutions",
		Long:  "The assignee submits once per assignment. Accepting pays the assignee from custody; rejecting refunds the owner and reopens the project with its offers intact.",
	}

	var url string
	submit := &cobra.Command{
		Use:   "submit <project-id>",
		Short: "Submit a solution (assignee only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Project, error) {
				return e.SubmitSolution(ctx, args[0], actor, url)
			})
		},
	}
	submit.Flags().StringVar(&url, "url", "", "solution URL")
	_ = submit.MarkFlagRequired("url")

	accept := &cobra.Command{
		Use:   "accept <project-id>",
		Short: "Accept the solution (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Project, error) {
				return e.AcceptSolution(ctx, args[0], actor)
			})
		},
	}

	var remarks string
	reject := &cobra.Command{
		Use:   "reject <project-id>",
		Short: "Reject the solution (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Project, error) {
				return e.RejectSolution(ctx, args[0], actor, remarks)
			})
		},
	}
	reject.Flags().StringVar(&remarks, "remarks", "", "why the solution was rejected")

	sol.AddCommand(submit, accept, reject)
	return sol
}

func runLifecycle(cmd *cobra.Command, fn func(context.Context, engine.Engine, string) (domain.Project, error)) error {
	actor, err := actorID()
	if err != nil {
		return err
	}
	return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
		p, err := fn(ctx, ws.Engine, actor)
		if err != nil {
			return err
		}
		return printJSONOrTable(p.Snapshot())
	})
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show project counts per state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				counts, err := ws.Engine.Summary(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"custody_account": ws.Engine.Custody(), "projects": counts})
				}
				fmt.Printf("Custody account: %s\n", ws.Engine.Custody())
				fmt.Println("Projects:")
				for _, s := range []domain.State{domain.StateOpen, domain.StateAssigned, domain.StateSolutionSubmitted, domain.StateCompleted} {
					fmt.Printf("  %s: %d\n", s, counts[string(s)])
				}
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every successful registry operation appends exactly one event.",
	}
	var n int
	var evtType, projectID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				events, err := ws.Engine.Events(ctx, engine.EventFilter{ProjectID: projectID, Type: evtType, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Project", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ProjectID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&projectID, "project", "", "project id filter")
	log.AddCommand(tail)
	return log
}
