package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicebartender/keepalive-server/agentclient"
)

func newRoomsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List the rooms an agent can join",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c := agentclient.NewClient(opts.server, nil, opts.logger())
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer c.Close()

			rooms, err := c.Rooms(ctx)
			if err != nil {
				return err
			}
			if len(rooms) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No rooms configured")
				return nil
			}

			cyan := color.New(color.FgCyan)
			yellow := color.New(color.FgYellow)
			for _, r := range rooms {
				lock := ""
				if r.HasPassword {
					lock = yellow.Sprint(" (password)")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s%s\n", cyan.Sprint(r.ID), r.Name, lock)
			}
			return nil
		},
	}
}
