package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ac484/Xuanwu-sub001/internal/capability"
)

type capabilityRow struct {
	Key   string   `json:"key"`
	Label string   `json:"label"`
	Group string   `json:"group"`
	Modes []string `json:"modes"`
	When  string   `json:"when,omitempty"`
}

// NewCapabilitiesCommand lists the built-in capability registry.
func NewCapabilitiesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List registered capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := capability.Default()
			if err != nil {
				return fmt.Errorf("build registry: %w", err)
			}
			return writeCapabilities(cmd.OutOrStdout(), rootOpts.Format, registry.Descriptors())
		},
	}
}

func writeCapabilities(w io.Writer, format string, descriptors []capability.Descriptor) error {
	rows := make([]capabilityRow, 0, len(descriptors))
	for _, d := range descriptors {
		row := capabilityRow{Key: d.Key, Label: d.Label, Group: d.Group, When: d.When}
		for _, mode := range d.Modes() {
			row.Modes = append(row.Modes, string(mode))
		}
		rows = append(rows, row)
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tGROUP\tMODES\tWHEN")
	for _, row := range rows {
		when := row.When
		if when == "" {
			when = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Key, row.Group, strings.Join(row.Modes, ","), when)
	}
	return tw.Flush()
}
