package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/wsgi-image/internal/docker"
	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// removeFlags holds the flag values for the remove command.
type removeFlags struct {
	// force skips the confirmation prompt and allows removing images that
	// were not built by wsgi-image.
	force bool
}

// NewRemoveCommand creates the "remove" command.
func NewRemoveCommand() *cobra.Command {
	flags := &removeFlags{}

	cmd := &cobra.Command{
		Use:   "remove <image>",
		Short: "Remove a wsgi-image image and its supervisor containers",
		Long: `Remove an image built by wsgi-image, together with any supervisor
containers left behind by "run --keep".

Unless --force is specified, the command prompts for confirmation and
refuses images that do not carry the wsgi-image labels.

Examples:
  wsgi-image remove seed-identity-store:latest
  wsgi-image remove --force sha256:3f1b2c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), cmd, args[0], flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Remove without confirmation")

	return cmd
}

func runRemove(ctx context.Context, cmd *cobra.Command, ref string, flags *removeFlags) error {
	cli, err := connectDocker(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	info, err := docker.InspectImage(ctx, cli, ref)
	if err != nil {
		return err
	}
	if !docker.IsManaged(info.Labels) && !flags.force {
		return model.NewCLIError(
			model.ExitGeneralError,
			fmt.Sprintf("image %s was not built by wsgi-image (use --force to remove it anyway)", ref),
		)
	}

	all, err := docker.ListServiceContainers(ctx, cli, "")
	if err != nil {
		return err
	}
	containers := containersFor(*info, all, false)

	if !flags.force {
		confirmed, err := promptConfirmation(cmd.InOrStdin(), cmd.ErrOrStderr(), ref, len(containers))
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to read user input", err)
		}
		if !confirmed {
			return model.NewCLIError(model.ExitGeneralError, "operation cancelled by user")
		}
	}

	for _, c := range containers {
		VerboseLog("removing container %s (%s)", c.Name, shortID(c.ID))
		if err := docker.RemoveContainer(ctx, cli, c.ID, true); err != nil {
			return err
		}
	}

	// Removing by ID would fail for an image with several tags, so the
	// reference the user gave is removed; Docker drops the image with its
	// last tag.
	if err := docker.RemoveImage(ctx, cli, ref, flags.force); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"image":          ref,
			"id":             info.ID,
			"action":         "removed",
			"containerCount": len(containers),
		})
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Removed %s\n", ref)
	if len(containers) > 0 {
		fmt.Fprintf(w, "  Removed %d supervisor container(s)\n", len(containers))
	}
	return nil
}

// promptConfirmation asks on out and reads one line from in. Only "y" or
// "yes" confirm; a closed input means no.
func promptConfirmation(in io.Reader, out io.Writer, ref string, containerCount int) (bool, error) {
	fmt.Fprintf(out, "About to remove image %s\n", ref)
	if containerCount > 0 {
		fmt.Fprintf(out, "  - %d supervisor container(s) will be removed\n", containerCount)
	}
	fmt.Fprint(out, "\nContinue? [y/N] ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes", nil
	}
	return false, scanner.Err()
}
