package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/wsgi-image/internal/docker"
	"github.com/mmr-tortoise/wsgi-image/internal/model"
	"github.com/mmr-tortoise/wsgi-image/internal/recipe"
	"github.com/mmr-tortoise/wsgi-image/internal/source"
)

// buildOutput is the result of a successful build.
type buildOutput struct {
	ImageID      string `json:"imageId"`
	Tag          string `json:"tag"`
	Recipe       string `json:"recipe"`
	RecipeDigest string `json:"recipeDigest"`
	Revision     string `json:"revision,omitempty"`
	Duration     string `json:"duration"`
}

// NewBuildCommand creates the "build" command.
func NewBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the application image",
		Long: `Validate the recipe, render the Dockerfile, and build the image from the
context directory. The build stops at the first failing step.

The image is built untagged. Only after the settings and entry-point
variables are confirmed in the image config is the tag applied, so a failed
build never produces or moves a tag.

Examples:
  wsgi-image build
  wsgi-image build -t registry.example.org/seed/identity-store:1.4.0
  wsgi-image build -C ../seed-identity-store --no-cache --pull`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringP("tag", "t", "", "Image tag (default: <recipe name>:latest)")
	cmd.Flags().Bool("no-cache", false, "Do not use the layer cache")
	cmd.Flags().Bool("pull", false, "Always attempt to pull a newer base image")

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command) error {
	started := time.Now()

	// Step 1: Resolve the recipe and reject it before anything is sent.
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	if err := recipe.ValidateOrError(s.recipe); err != nil {
		return err
	}

	tag, err := resolveTag(s.cfg.Tag, s.recipe)
	if err != nil {
		return err
	}

	dockerfile, err := recipe.RenderRecipe(s.recipe)
	if err != nil {
		return err
	}
	digest, err := recipe.Digest(s.recipe)
	if err != nil {
		return err
	}

	// Step 2: Record provenance. A non-git tree just has no revision.
	contextDir, err := filepath.Abs(s.cfg.Context)
	if err != nil {
		return fmt.Errorf("failed to resolve context %q: %w", s.cfg.Context, err)
	}
	src, err := source.Inspect(contextDir)
	if err != nil {
		logger.Warn("could not read source revision", "dir", contextDir, "err", err)
		src = &source.Info{}
	}

	prov := &model.Provenance{
		Recipe:         s.recipe.Name,
		SettingsModule: s.recipe.SettingsModule,
		EntryPoint:     s.recipe.EntryPoint,
		RecipeDigest:   digest,
		Revision:       src.Revision(),
		Created:        time.Now(),
	}

	// Step 3: Build untagged. Passing the tag to ImageBuild would move it
	// as soon as the last step commits, before the env check below, and a
	// deploy pulling that tag would get an image the supervisor cannot
	// start. The builder's own fail-fast stop leaves nothing tagged either.
	cli, err := connectDocker(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	logger.Info("building image", "recipe", s.recipe.Name, "base", s.recipe.BaseImage, "context", contextDir)
	result, err := docker.BuildImage(ctx, cli, docker.BuildRequest{
		ContextDir: contextDir,
		Dockerfile: dockerfile,
		Labels:     docker.BuildLabels(prov),
		NoCache:    s.cfg.NoCache,
		Pull:       s.cfg.Pull,
		OnLine: func(line string) {
			logger.Debug(line)
		},
	})
	if err != nil {
		return err
	}
	VerboseLog("built %s", result.ImageID)

	// Step 4: Confirm the env round trip, discarding the image on mismatch.
	// Base images with ONBUILD triggers can set variables after the
	// recipe's own ENV lines, so the rendered Dockerfile alone does not
	// prove what the image carries. Removal runs on an uncancelled context
	// so an interrupted build does not leave the unverified image behind.
	if err := verifyBuiltImage(ctx, cli, s.recipe, result.ImageID); err != nil {
		if rmErr := docker.RemoveImage(context.WithoutCancel(ctx), cli, result.ImageID, true); rmErr != nil {
			logger.Warn("failed to remove unverified image", "image", result.ImageID, "err", rmErr)
		}
		return err
	}

	// Step 5: Tag. This is the only point where an existing tag moves.
	if err := docker.TagImage(ctx, cli, result.ImageID, tag); err != nil {
		return err
	}

	out := buildOutput{
		ImageID:      result.ImageID,
		Tag:          tag,
		Recipe:       s.recipe.Name,
		RecipeDigest: digest,
		Revision:     prov.Revision,
		Duration:     time.Since(started).Round(time.Millisecond).String(),
	}
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), out)
	}
	printBuildResultText(cmd, out)
	return nil
}

// verifyBuiltImage checks that every declared variable survived into the
// image config.
func verifyBuiltImage(ctx context.Context, cli *docker.Client, r *model.Recipe, imageID string) error {
	info, err := docker.InspectImage(ctx, cli, imageID)
	if err != nil {
		return err
	}
	return recipe.VerifyImageEnv(r, info)
}

func printBuildResultText(cmd *cobra.Command, out buildOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Built %s\n", out.Tag)
	fmt.Fprintf(w, "  Image:    %s\n", out.ImageID)
	fmt.Fprintf(w, "  Recipe:   %s (%s)\n", out.Recipe, out.RecipeDigest)
	if out.Revision != "" {
		fmt.Fprintf(w, "  Revision: %s\n", out.Revision)
	}
	fmt.Fprintf(w, "  Took:     %s\n", out.Duration)
}
