package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/wsgi-image/internal/assets"
	"github.com/mmr-tortoise/wsgi-image/internal/docker"
	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// NewAssetsCommand creates the "assets" command.
func NewAssetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets <image> [<other-image>]",
		Short: "List or compare the collected static assets of images",
		Long: `List the static assets collected into an image, with size and sha256 of
every file. The files are read from a container that is created but never
started.

With two images, compare their assets instead. Two builds of the same recipe
from the same source tree must collect identical assets; any difference
exits with code 8.

Examples:
  wsgi-image assets seed-identity-store:latest
  wsgi-image assets seed-identity-store:1.4.0 seed-identity-store:latest`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssets(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().String("root", "", "Static root inside the image (default: the recipe's)")

	return cmd
}

func runAssets(ctx context.Context, cmd *cobra.Command, refs []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	root, _ := cmd.Flags().GetString("root")
	if root == "" {
		root = s.recipe.StaticRoot
	}

	cli, err := connectDocker(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	manifests := make([]*assets.Manifest, 0, len(refs))
	for _, ref := range refs {
		m, err := readManifest(ctx, cli, ref, root)
		if err != nil {
			return err
		}
		manifests = append(manifests, m)
	}

	out := cmd.OutOrStdout()
	if len(manifests) == 1 {
		m := manifests[0]
		if IsJSONOutput() {
			return printJSON(out, map[string]any{
				"image":    refs[0],
				"digest":   m.Digest(),
				"manifest": m,
			})
		}
		for _, e := range m.Entries {
			fmt.Fprintf(out, "%s  %8d  %s\n", e.SHA256[:12], e.Size, e.Path)
		}
		fmt.Fprintf(out, "%d files, %d bytes, %s\n", len(m.Entries), m.TotalSize(), m.Digest())
		return nil
	}

	changes := assets.Diff(manifests[0], manifests[1])
	if IsJSONOutput() {
		if err := printJSON(out, map[string]any{
			"images":    refs,
			"digests":   []string{manifests[0].Digest(), manifests[1].Digest()},
			"identical": changes.Empty(),
			"changes":   changes,
		}); err != nil {
			return err
		}
	} else {
		printChangesText(cmd, changes)
	}

	if !changes.Empty() {
		return model.NewCLIError(
			model.ExitVerificationFailed,
			fmt.Sprintf("static assets of %s and %s differ", refs[0], refs[1]),
		)
	}
	return nil
}

// readManifest builds the asset manifest of root in ref.
func readManifest(ctx context.Context, cli *docker.Client, ref, root string) (*assets.Manifest, error) {
	rc, err := docker.CopyPath(ctx, cli, ref, root)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	m, err := assets.FromTar(rc, root)
	if err != nil {
		return nil, fmt.Errorf("reading assets of %s: %w", ref, err)
	}
	VerboseLog("%s: %d files under %s", ref, len(m.Entries), root)
	return m, nil
}

func printChangesText(cmd *cobra.Command, c *assets.Changes) {
	w := cmd.OutOrStdout()
	if c.Empty() {
		fmt.Fprintln(w, "Static assets are identical.")
		return
	}
	for _, p := range c.Added {
		fmt.Fprintf(w, "+ %s\n", p)
	}
	for _, p := range c.Removed {
		fmt.Fprintf(w, "- %s\n", p)
	}
	for _, p := range c.Changed {
		fmt.Fprintf(w, "~ %s\n", p)
	}
	fmt.Fprintf(w, "%d added, %d removed, %d changed\n", len(c.Added), len(c.Removed), len(c.Changed))
}
