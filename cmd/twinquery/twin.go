package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Belphemur/TwinQuery/internal/models"
)

func newTwinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "twin",
		Short: "Read or update a single device or module twin",
	}
	cmd.AddCommand(newTwinGetCmd(), newTwinTagCmd())
	return cmd
}

func newTwinGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <deviceId> [moduleId]",
		Short: "Print a twin as JSON",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			defer c.Close()

			twin, err := c.GetTwin(cmd.Context(), twinIDFromArgs(args))
			if err != nil {
				return err
			}
			return printTwin(cmd, twin)
		},
	}
}

func newTwinTagCmd() *cobra.Command {
	var etag string
	cmd := &cobra.Command{
		Use:   "tag <deviceId> [moduleId] key=value...",
		Short: "Merge tags into a twin",
		Long: `Merge tags into a twin. Values are parsed as JSON when possible, so numbers and
booleans keep their type and key=null removes the tag. Other values are sent as strings.`,
		Example: `  twinquery twin tag sensor-1 site=north floor=3
  twinquery twin tag sensor-1 edge-agent retired=null --etag AAAAAAAAAAE=`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idArgs, tags, err := splitTagArgs(args)
			if err != nil {
				return err
			}

			c := newClient()
			defer c.Close()

			twin, err := c.UpdateTwinTags(cmd.Context(), twinIDFromArgs(idArgs), tags, etag)
			if err != nil {
				return err
			}
			return printTwin(cmd, twin)
		},
	}
	cmd.Flags().StringVar(&etag, "etag", "", "only update when the twin still has this etag")
	return cmd
}

func twinIDFromArgs(args []string) models.TwinID {
	id := models.TwinID{DeviceID: args[0]}
	if len(args) > 1 {
		id.ModuleID = args[1]
	}
	return id
}

// splitTagArgs separates the twin id arguments from the key=value pairs that follow.
func splitTagArgs(args []string) ([]string, map[string]any, error) {
	var idArgs []string
	tags := make(map[string]any)
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			if len(tags) > 0 {
				return nil, nil, fmt.Errorf("expected key=value, got %q", arg)
			}
			idArgs = append(idArgs, arg)
			continue
		}
		if key == "" {
			return nil, nil, fmt.Errorf("empty tag name in %q", arg)
		}
		tags[key] = parseTagValue(value)
	}
	switch {
	case len(idArgs) == 0 || len(idArgs) > 2:
		return nil, nil, fmt.Errorf("expected <deviceId> [moduleId] before the tags")
	case len(tags) == 0:
		return nil, nil, fmt.Errorf("no tags given")
	}
	return idArgs, tags, nil
}

func parseTagValue(value string) any {
	var v any
	if err := json.Unmarshal([]byte(value), &v); err == nil {
		return v
	}
	return value
}

func printTwin(cmd *cobra.Command, twin *models.TwinDocument) error {
	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")
	if len(twin.Raw) > 0 {
		var v any
		if err := json.Unmarshal(twin.Raw, &v); err == nil {
			return out.Encode(v)
		}
	}
	return out.Encode(twin)
}
