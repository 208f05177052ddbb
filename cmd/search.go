package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/l0p7/recipectl/internal/recipe"
)

type searchOptions struct {
	diet     string
	health   string
	cuisine  string
	mealType string
	asJSON   bool
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search recipes once and print the results",
		Long: "Search recipes through the cache and rate limiter. Use the sqlite or redis " +
			"storage backend to keep cached results and limiter state between runs.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, root, opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&opts.diet, "diet", "", "diet filter (e.g. balanced, high-protein)")
	cmd.Flags().StringVar(&opts.health, "health", "", "health filter (e.g. vegan, gluten-free)")
	cmd.Flags().StringVar(&opts.cuisine, "cuisine", "", "cuisine filter (e.g. italian)")
	cmd.Flags().StringVar(&opts.mealType, "meal-type", "", "meal type filter (e.g. dinner)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print raw hits as JSON")
	return cmd
}

func runSearch(cmd *cobra.Command, root *rootOptions, opts *searchOptions, query string) error {
	return withApp(cmd, root, func(a *app) error {
		filters := recipe.FilterSet{
			Diet:     opts.diet,
			Health:   opts.health,
			Cuisine:  opts.cuisine,
			MealType: opts.mealType,
		}
		result, err := a.governor.Search(cmd.Context(), query, filters)
		if err != nil {
			panel, renderErr := a.notices.ForError(err)
			if renderErr != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", panel.Title, panel.Detail)
			for _, tip := range panel.Tips {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", tip)
			}
			return err
		}
		if result.FromCache {
			result.Remaining = a.governor.Status().Remaining
		}

		out := cmd.OutOrStdout()
		if opts.asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(result.Hits)
		}

		notice, err := a.notices.Success(query, result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, notice)
		if !filters.IsZero() {
			fmt.Fprintf(out, "Filters: %s\n", describeFilters(filters))
		}
		printRecipes(out, recipe.Recipes(result.Hits))
		return nil
	})
}

// describeFilters renders applied filters as "diet: balanced, health: vegan".
func describeFilters(filters recipe.FilterSet) string {
	active := filters.Active()
	parts := make([]string, 0, len(active))
	for _, pair := range active {
		parts = append(parts, pair[0]+": "+pair[1])
	}
	return strings.Join(parts, ", ")
}

func printRecipes(out io.Writer, recipes []recipe.Recipe) {
	for i, r := range recipes {
		line := fmt.Sprintf("%3d. %s", i+1, r.Label)
		if kcal := r.CaloriesPerServing(); kcal > 0 {
			line += fmt.Sprintf(" (%d kcal/serving)", kcal)
		}
		fmt.Fprintln(out, line)
		fmt.Fprintf(out, "     %s\n", r.URI)
	}
}
