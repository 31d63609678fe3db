package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/distribution/reference"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/wsgi-image/internal/config"
	"github.com/mmr-tortoise/wsgi-image/internal/docker"
	"github.com/mmr-tortoise/wsgi-image/internal/model"
	"github.com/mmr-tortoise/wsgi-image/internal/recipe"
)

// session is the resolved configuration and recipe for one command.
type session struct {
	cfg *config.Config

	recipe *model.Recipe

	// recipePath is the file the recipe was loaded from, or "" for the
	// built-in default.
	recipePath string
}

// loadSession resolves configuration for cmd and loads the recipe. An
// explicit --recipe must exist; otherwise the context directory is
// searched and the built-in recipe is the fallback.
func loadSession(cmd *cobra.Command) (*session, error) {
	cfg, cfgFile, err := config.Load(config.LoadOptions{
		ConfigFilePath: configPath,
		Flags:          cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		VerboseLog("using config file %s", cfgFile)
	}

	s := &session{cfg: cfg}

	path := cfg.Recipe
	if path == "" {
		path, err = recipe.FindRecipe(cfg.Context)
		if err != nil {
			var cliErr *model.CLIError
			if !errors.As(err, &cliErr) || cliErr.Code != model.ExitRecipeNotFound {
				return nil, err
			}
			VerboseLog("no recipe file in %s, using the built-in recipe", cfg.Context)
			s.recipe = recipe.DefaultRecipe()
			return s, nil
		}
	}

	r, err := recipe.LoadRecipe(path)
	if err != nil {
		return nil, err
	}
	VerboseLog("loaded recipe %q from %s", r.Name, path)

	s.recipe = r
	s.recipePath = path
	return s, nil
}

// recipeSource describes where the recipe came from, for output.
func (s *session) recipeSource() string {
	if s.recipePath == "" {
		return "built-in"
	}
	return s.recipePath
}

// newDockerClient creates the client commands talk to. Tests replace it
// to run commands against an in-memory daemon.
var newDockerClient = docker.NewClient

// connectDocker creates a Docker client and checks that the daemon answers.
// The caller must Close the client.
func connectDocker(ctx context.Context) (*docker.Client, error) {
	cli, err := newDockerClient()
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, err
	}
	return cli, nil
}

// resolveTag returns the tag to apply to a build of r: the configured tag,
// or "<recipe name>:latest". The result is normalized the way the Docker
// CLI does, so "app" becomes "docker.io/library/app:latest".
func resolveTag(configured string, r *model.Recipe) (string, error) {
	tag := configured
	if tag == "" {
		tag = r.Name
	}

	named, err := reference.ParseNormalizedNamed(tag)
	if err != nil {
		return "", model.WrapCLIError(model.ExitGeneralError, fmt.Sprintf("invalid image tag %q", tag), err)
	}
	if _, ok := named.(reference.Digested); ok {
		return "", model.NewCLIError(model.ExitGeneralError, fmt.Sprintf("image tag %q must not contain a digest", tag))
	}
	return reference.TagNameOnly(named).String(), nil
}
