package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <text>",
		Short: "Run a twin query and print every result as a JSON line",
		Example: `  twinquery query "SELECT * FROM devices WHERE tags.site = 'north'"
  twinquery query "SELECT COUNT() AS total FROM devices.modules"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			defer c.Close()

			text := strings.Join(args, " ")
			stream := c.Query(text)
			out := json.NewEncoder(cmd.OutOrStdout())
			for stream.Next(cmd.Context()) {
				doc := stream.Value()
				var err error
				if len(doc.Raw) > 0 {
					err = out.Encode(doc.Raw)
				} else {
					err = out.Encode(doc)
				}
				if err != nil {
					return fmt.Errorf("write result: %w", err)
				}
			}
			if err := stream.Err(); err != nil {
				return err
			}

			p := message.NewPrinter(language.English)
			p.Fprintf(os.Stderr, "%d results in %d pages\n", stream.Count(), stream.Pages())
			return nil
		},
	}
}
