package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/wsgi-image/internal/docker"
	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// inspectOutput is what "inspect" reports about an image.
type inspectOutput struct {
	ID         string            `json:"id"`
	Tags       []string          `json:"tags"`
	Created    time.Time         `json:"created"`
	Managed    bool              `json:"managed"`
	Provenance *model.Provenance `json:"provenance,omitempty"`

	// Env holds the values of the variables the recipe declares, as the
	// image config carries them. Absent keys are left out.
	Env map[string]string `json:"env"`
}

// NewInspectCommand creates the "inspect" command.
func NewInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <image>",
		Short: "Show the references and provenance recorded in an image",
		Long: `Show the settings module and entry point an image carries, both as
recorded in its provenance labels and as set in its environment.

Examples:
  wsgi-image inspect seed-identity-store:latest
  wsgi-image inspect --json sha256:3f1b2c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), cmd, args[0])
		},
	}
}

func runInspect(ctx context.Context, cmd *cobra.Command, ref string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}

	cli, err := connectDocker(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	info, err := docker.InspectImage(ctx, cli, ref)
	if err != nil {
		return err
	}

	out := inspectOutput{
		ID:      info.ID,
		Tags:    info.Tags,
		Created: info.Created,
		Managed: docker.IsManaged(info.Labels),
		Env:     map[string]string{},
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if out.Managed {
		prov, err := docker.ParseLabels(info.Labels)
		if err != nil {
			logger.Warn("image has incomplete provenance labels", "image", ref, "err", err)
		} else {
			out.Provenance = prov
		}
	}
	for _, e := range s.recipe.Env() {
		if v, ok := info.LookupEnv(e.Key); ok {
			out.Env[e.Key] = v
		}
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), out)
	}
	printInspectText(cmd, s.recipe, out)
	return nil
}

func printInspectText(cmd *cobra.Command, r *model.Recipe, out inspectOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Image:   %s\n", out.ID)
	fmt.Fprintf(w, "Tags:    %s\n", FormatTagsList(out.Tags))
	fmt.Fprintf(w, "Created: %s\n", out.Created.Format(time.RFC3339))

	fmt.Fprintln(w, "Environment:")
	for _, e := range r.Env() {
		v, ok := out.Env[e.Key]
		if !ok {
			v = "(not set)"
		}
		fmt.Fprintf(w, "  %s=%s\n", e.Key, v)
	}

	if out.Provenance == nil {
		fmt.Fprintln(w, "Provenance: none (not built by wsgi-image)")
		return
	}
	p := out.Provenance
	fmt.Fprintln(w, "Provenance:")
	fmt.Fprintf(w, "  Recipe:          %s\n", p.Recipe)
	fmt.Fprintf(w, "  Settings module: %s\n", p.SettingsModule)
	fmt.Fprintf(w, "  Entry point:     %s\n", p.EntryPoint)
	fmt.Fprintf(w, "  Recipe digest:   %s\n", p.RecipeDigest)
	if p.Revision != "" {
		fmt.Fprintf(w, "  Revision:        %s\n", p.Revision)
	}
	fmt.Fprintf(w, "  Built:           %s\n", p.Created.Format(time.RFC3339))
}
