package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/l0p7/recipectl/internal/recipe"
)

func newFavoritesCmd(root *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "Manage a user's saved recipes",
	}
	cmd.PersistentFlags().StringVarP(&user, "user", "u", "", "user identifier (required)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved recipes in insertion order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, root, func(a *app) error {
				userID, err := userOrError(user)
				if err != nil {
					return err
				}
				recipes, err := a.favorites.List(cmd.Context(), userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d saved %s\n", len(recipes), pluralize(len(recipes), "recipe", "recipes"))
				printRecipes(cmd.OutOrStdout(), recipes)
				return nil
			})
		},
	}

	count := &cobra.Command{
		Use:   "count",
		Short: "Print how many recipes are saved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, root, func(a *app) error {
				userID, err := userOrError(user)
				if err != nil {
					return err
				}
				n, err := a.favorites.Count(cmd.Context(), userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d saved %s\n", n, pluralize(n, "recipe", "recipes"))
				return nil
			})
		},
	}

	var file string
	toggle := &cobra.Command{
		Use:   "toggle",
		Short: "Save a recipe, or remove it if already saved",
		Long:  "Reads one recipe JSON object from --file, or from stdin when --file is omitted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, root, func(a *app) error {
				userID, err := userOrError(user)
				if err != nil {
					return err
				}
				r, err := readRecipe(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				action, err := a.favorites.Toggle(cmd.Context(), userID, r)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", action, r.URI)
				return nil
			})
		},
	}
	toggle.Flags().StringVarP(&file, "file", "f", "", "recipe JSON file")

	remove := &cobra.Command{
		Use:   "remove <uri>",
		Short: "Remove a saved recipe by URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				userID, err := userOrError(user)
				if err != nil {
					return err
				}
				removed, err := a.favorites.Remove(cmd.Context(), userID, args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("%s is not saved", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, count, toggle, remove)
	return cmd
}

// withApp builds the object graph with logs on stderr and tears it down
// after fn returns.
func withApp(cmd *cobra.Command, root *rootOptions, fn func(*app) error) error {
	_, cfg, err := loadConfig(cmd.Context(), root)
	if err != nil {
		return err
	}
	a, err := buildApp(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func readRecipe(stdin io.Reader, path string) (recipe.Recipe, error) {
	in := stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return recipe.Recipe{}, err
		}
		defer f.Close()
		in = f
	}
	var r recipe.Recipe
	if err := json.NewDecoder(io.LimitReader(in, 1<<20)).Decode(&r); err != nil {
		return recipe.Recipe{}, fmt.Errorf("decode recipe: %w", err)
	}
	return r, nil
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
