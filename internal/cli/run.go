package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/wsgi-image/internal/docker"
	"github.com/mmr-tortoise/wsgi-image/internal/model"
	"github.com/mmr-tortoise/wsgi-image/internal/port"
)

// runOutput is the result of a supervisor start check.
type runOutput struct {
	Image       string `json:"image"`
	ContainerID string `json:"containerId"`
	URL         string `json:"url"`
	EntryPoint  string `json:"entryPoint"`
	Kept        bool   `json:"kept"`
}

// NewRunCommand creates the "run" command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Start the supervisor and wait until it serves",
		Long: `Start the image's default command (the process supervisor) with its port
published on the loopback interface, and wait until it answers HTTP.

If the supervisor exits first, for example because the entry point does not
resolve, the command fails with exit code 6 and prints the container log.
Once the supervisor is serving, the entry-point variable is read back from
the running container.

The container is removed afterwards unless --keep is given.

Examples:
  wsgi-image run seed-identity-store:latest
  wsgi-image run --keep --start-timeout 2m seed-identity-store:latest`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), cmd, args[0])
		},
	}

	cmd.Flags().Duration("start-timeout", 0, "How long to wait for the supervisor (default 60s)")
	cmd.Flags().Bool("keep", false, "Leave the supervisor running")
	cmd.Flags().String("host", "", "Loopback address to publish on (default 127.0.0.1)")

	return cmd
}

func runRun(ctx context.Context, cmd *cobra.Command, ref string) error {
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

	// The scan, the published binding and the readiness poll must all use
	// the same interface.
	scanner := port.NewScanner(s.cfg.Host)
	hostPort, err := scanner.PublishPort(s.recipe.SupervisorPort)
	if err != nil {
		return model.WrapCLIError(model.ExitStartFailed, "no free host port for the supervisor", err)
	}
	addr := scanner.Address(hostPort)

	logger.Info("starting supervisor", "image", ref, "port", s.recipe.SupervisorPort, "address", addr)
	// The container runs the inspected image ID, not ref, so the image
	// label it carries matches the image however it was named here.
	id, err := docker.StartService(ctx, cli, docker.ServiceRequest{
		Image:         info.ID,
		ContainerPort: s.recipe.SupervisorPort,
		HostIP:        scanner.Host(),
		HostPort:      hostPort,
	})
	if err != nil {
		return err
	}

	keep := false
	defer func() {
		if keep {
			return
		}
		cleanupCtx := context.WithoutCancel(ctx)
		if err := docker.RemoveContainer(cleanupCtx, cli, id, true); err != nil {
			logger.Warn("failed to remove supervisor container", "id", id, "err", err)
		}
	}()

	if err := docker.WaitReady(ctx, cli, id, addr, s.cfg.StartTimeout); err != nil {
		return err
	}

	if err := checkRuntimeEntryPoint(ctx, cli, id, s.recipe); err != nil {
		return err
	}

	keep = s.cfg.Keep
	out := runOutput{
		Image:       info.ID,
		ContainerID: id,
		URL:         "http://" + addr + "/",
		EntryPoint:  s.recipe.EntryPoint,
		Kept:        keep,
	}
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Supervisor serving %s at %s\n", out.EntryPoint, out.URL)
	if keep {
		fmt.Fprintf(w, "  Container: %s (remove with: wsgi-image remove %s)\n", shortID(id), ref)
	}
	return nil
}

// checkRuntimeEntryPoint reads the entry-point variable from the running
// supervisor's environment and compares it with the declared value.
func checkRuntimeEntryPoint(ctx context.Context, cli *docker.Client, id string, r *model.Recipe) error {
	res, err := docker.Exec(ctx, cli, id, []string{"printenv", r.EntryPointEnvKey})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return model.NewCLIError(
			model.ExitVerificationFailed,
			fmt.Sprintf("%s is not set in the running container", r.EntryPointEnvKey),
		)
	}
	if got := strings.TrimRight(res.Stdout, "\n"); got != r.EntryPoint {
		return model.NewCLIError(
			model.ExitVerificationFailed,
			fmt.Sprintf("running container has %s=%q, want %q", r.EntryPointEnvKey, got, r.EntryPoint),
		)
	}
	return nil
}

// shortID truncates a container or image ID for display.
func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
