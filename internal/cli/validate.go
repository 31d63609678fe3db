package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/wsgi-image/internal/recipe"
)

// NewValidateCommand creates the "validate" command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the recipe without building",
		Long: `Check the recipe without contacting the Docker daemon. Every problem is
reported at once. The command exits with code 4 when the recipe is invalid.

Only syntax is checked: whether the settings module imports or the entry
point resolves is decided by the build and the supervisor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd)
		},
	}
}

func runValidate(cmd *cobra.Command) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}

	problems := recipe.Validate(s.recipe)
	out := cmd.OutOrStdout()

	if IsJSONOutput() {
		if problems == nil {
			problems = []recipe.ValidationError{}
		}
		if err := printJSON(out, map[string]any{
			"recipe": s.recipe.Name,
			"source": s.recipeSource(),
			"valid":  len(problems) == 0,
			"errors": problems,
		}); err != nil {
			return err
		}
	} else if len(problems) == 0 {
		fmt.Fprintf(out, "Recipe %q (%s) is valid.\n", s.recipe.Name, s.recipeSource())
	}

	// The error carries the exit code; in text mode it also lists the problems.
	return recipe.ValidateOrError(s.recipe)
}
