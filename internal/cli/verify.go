package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/wsgi-image/internal/docker"
	"github.com/mmr-tortoise/wsgi-image/internal/model"
	"github.com/mmr-tortoise/wsgi-image/internal/recipe"
)

// verifyOutput reports each check "verify" ran.
type verifyOutput struct {
	Image       string               `json:"image"`
	Env         []recipe.EnvMismatch `json:"envMismatches"`
	DigestMatch *bool                `json:"recipeDigestMatches,omitempty"`
	EntryPoint  string               `json:"entryPoint"`
	Probe       string               `json:"probe"`
}

// NewVerifyCommand creates the "verify" command.
func NewVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <image>",
		Short: "Check an image against the recipe",
		Long: `Check that the image carries every variable the recipe declares with the
declared value, then import the entry point inside a throwaway container
and check that it resolves to a callable. The probe container has no network
and bypasses the image entrypoint.

A mismatching recipe digest label is reported as a warning: the image was
built from a different recipe revision than the one on disk.

Exits with code 8 when a check fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), cmd, args[0])
		},
	}

	cmd.Flags().String("python", "python", "Interpreter used by the entry-point probe")
	cmd.Flags().Bool("skip-probe", false, "Only check the image environment")

	return cmd
}

func runVerify(ctx context.Context, cmd *cobra.Command, ref string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	if err := recipe.ValidateOrError(s.recipe); err != nil {
		return err
	}
	skipProbe, _ := cmd.Flags().GetBool("skip-probe")

	cli, err := connectDocker(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	info, err := docker.InspectImage(ctx, cli, ref)
	if err != nil {
		return err
	}

	out := verifyOutput{
		Image:      info.ID,
		Env:        recipe.CheckImageEnv(s.recipe, info),
		EntryPoint: s.recipe.EntryPoint,
		Probe:      "skipped",
	}
	if out.Env == nil {
		out.Env = []recipe.EnvMismatch{}
	}

	if prov, err := docker.ParseLabels(info.Labels); err == nil {
		digest, err := recipe.Digest(s.recipe)
		if err != nil {
			return err
		}
		match := prov.RecipeDigest == digest
		out.DigestMatch = &match
		if !match {
			logger.Warn("image was built from a different recipe", "image", prov.RecipeDigest, "recipe", digest)
		}
	}

	var failure error
	if len(out.Env) > 0 {
		failure = recipe.VerifyImageEnv(s.recipe, info)
	} else if !skipProbe {
		ep, err := model.ParseEntryPoint(s.recipe.EntryPoint)
		if err != nil {
			return err
		}
		VerboseLog("probing entry point %s in %s", ep, info.ID)
		if err := docker.ProbeEntryPoint(ctx, cli, info.ID, s.cfg.Python, ep); err != nil {
			out.Probe = "failed"
			failure = err
		} else {
			out.Probe = "ok"
		}
	}

	if IsJSONOutput() {
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		printVerifyText(cmd, out)
	}
	return failure
}

func printVerifyText(cmd *cobra.Command, out verifyOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Image: %s\n", out.Image)
	if len(out.Env) == 0 {
		fmt.Fprintln(w, "  environment: ok")
	} else {
		for _, m := range out.Env {
			fmt.Fprintf(w, "  environment: %s\n", m)
		}
	}
	if out.DigestMatch != nil && !*out.DigestMatch {
		fmt.Fprintln(w, "  recipe digest: differs from the recipe on disk")
	}
	fmt.Fprintf(w, "  entry point %s: %s\n", out.EntryPoint, out.Probe)
}
