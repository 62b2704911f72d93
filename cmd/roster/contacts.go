package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/roster/internal/store"
)

func (a *app) contactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Show client contact people",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <client-id>",
		Short: "List a client's contacts, primary first",
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

			if _, err := rt.registry.Get(cmd.Context(), id); err != nil {
				return err
			}
			list, err := rt.store.ListContacts(cmd.Context(), id)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(list)
			}
			if len(list) == 0 {
				a.printf("No contacts\n")
				return nil
			}
			for _, c := range list {
				a.printf("%s\n", formatContact(c))
			}
			return nil
		},
	})
	return cmd
}

func formatContact(c *store.Contact) string {
	parts := []string{c.Name}
	if c.Role != "" {
		parts = append(parts, c.Role)
	}
	if c.Phone != "" {
		parts = append(parts, c.Phone)
	}
	if c.Email != "" {
		parts = append(parts, c.Email)
	}
	line := strings.Join(parts, "  ")
	if c.IsPrimary {
		line = "* " + line
	} else {
		line = "  " + line
	}
	return line
}
