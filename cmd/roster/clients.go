package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func (a *app) clientsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "clients",
		Aliases: []string{"client"},
		Short:   "List, match and register clients",
	}
	cmd.AddCommand(
		a.clientsListCommand(),
		a.clientsMatchCommand(),
		a.clientsAddCommand(),
		a.clientsShowCommand(),
	)
	return cmd
}

func (a *app) clientsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.openRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			clients, err := rt.registry.List(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(clients)
			}
			if len(clients) == 0 {
				a.printf("No clients registered\n")
				return nil
			}
			for _, c := range clients {
				a.printf("%4d  %s\n", c.ID, c.Name)
			}
			return nil
		},
	}
}

func (a *app) clientsMatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "match <name>",
		Short: "Show the existing client that best matches a name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.openRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			best, err := rt.registry.FindBestMatch(cmd.Context(), joinArgs(args))
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(best)
			}
			if best == nil {
				a.printf("No client matches above %.2f\n", rt.registry.SuggestFloor())
				return nil
			}
			a.printf("%d  %s  (%.0f%%)\n", best.ClientID, best.ClientName, best.Confidence*100)
			return nil
		},
	}
}

func (a *app) clientsAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Register a client, or return the existing one with the same name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.openRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			c, created, err := rt.registry.FindOrCreate(cmd.Context(), joinArgs(args))
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]interface{}{"client": c, "created": created})
			}
			if created {
				a.printf("Created client %d: %s\n", c.ID, c.Name)
			} else {
				a.printf("Client already exists %d: %s\n", c.ID, c.Name)
			}
			return nil
		},
	}
}

func (a *app) clientsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a client with its contacts and notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid client id %q", args[0])
			}
			rt, err := a.openRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			c, err := rt.registry.Get(ctx, id)
			if err != nil {
				return err
			}
			list, err := rt.store.ListContacts(ctx, id)
			if err != nil {
				return err
			}
			recs, err := rt.store.ListRecords(ctx, recordsFor(id))
			if err != nil {
				return err
			}
			schedules, err := rt.store.ListSchedules(ctx, &id)
			if err != nil {
				return err
			}

			if a.jsonOut {
				return a.printJSON(map[string]interface{}{
					"client":    c,
					"contacts":  list,
					"records":   recs,
					"schedules": schedules,
				})
			}

			a.printf("%s (id %d)\n", c.Name, c.ID)
			if c.Industry != "" {
				a.printf("  Industry: %s\n", c.Industry)
			}
			if c.Address != "" {
				a.printf("  Address:  %s\n", c.Address)
			}
			a.printf("\nContacts (%d):\n", len(list))
			for _, ct := range list {
				a.printf("  %s\n", formatContact(ct))
			}
			a.printf("\nNotes (%d):\n", len(recs))
			for _, r := range recs {
				a.printf("  #%d  %s  %s\n", r.ID, r.CreatedAt.Format("2006-01-02"), snippet(r.Body, 60))
			}
			if len(schedules) > 0 {
				a.printf("\nSchedules (%d):\n", len(schedules))
				for _, s := range schedules {
					a.printf("  %s %s  %s\n", s.Date, s.Time, s.Title)
				}
			}
			return nil
		},
	}
}
