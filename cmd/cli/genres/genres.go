package genres

import (
	"fmt"

	"github.com/myrjola/storyweaver/internal/prompt"
	"github.com/spf13/cobra"
)

var Group = &cobra.Group{
	ID:    "catalogue",
	Title: "Catalogue",
}

var List = &cobra.Command{
	Use:     "genres",
	GroupID: "catalogue",
	Short:   "List story genres",
	Long:    `Lists the genres new stories are randomly drawn from.`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for i, genre := range prompt.Genres {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, genre); err != nil {
				return err //nolint:wrapcheck // cobra prints the error as is.
			}
		}
		return nil
	},
}
