package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/wsgi-image/internal/recipe"
)

// NewRenderCommand creates the "render" command.
func NewRenderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Print the Dockerfile rendered from the recipe",
		Long: `Print the Dockerfile rendered from the recipe. Rendering is deterministic:
the same recipe always yields byte-identical output.

Examples:
  wsgi-image render
  wsgi-image render -f deploy/wsgi-image.yaml > Dockerfile`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd)
		},
	}
}

func runRender(cmd *cobra.Command) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	if err := recipe.ValidateOrError(s.recipe); err != nil {
		return err
	}

	dockerfile, err := recipe.RenderRecipe(s.recipe)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if IsJSONOutput() {
		digest, err := recipe.Digest(s.recipe)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{
			"recipe":     s.recipe.Name,
			"source":     s.recipeSource(),
			"digest":     digest,
			"dockerfile": string(dockerfile),
		})
	}

	_, err = io.WriteString(out, string(dockerfile))
	if err != nil {
		return fmt.Errorf("failed to write Dockerfile: %w", err)
	}
	return nil
}
