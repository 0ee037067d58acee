package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

const githubRepoSlug = "stackctl/stackctl"

var errDevelopmentBuild = errors.New("cannot self-update a development version")

// release is a published stackctl version.
type release interface {
	LessOrEqual(version string) bool
	Version() string
}

// updater finds and installs releases.
type updater interface {
	DetectLatest(ctx context.Context, slug string) (release, bool, error)
	UpdateTo(ctx context.Context, rel release, exe string) error
}

type githubUpdater struct{}

func (githubUpdater) DetectLatest(ctx context.Context, slug string) (release, bool, error) {
	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(slug))
	if err != nil || !found {
		return nil, found, err
	}
	return latest, true, nil
}

func (githubUpdater) UpdateTo(ctx context.Context, rel release, exe string) error {
	latest, ok := rel.(*selfupdate.Release)
	if !ok {
		return fmt.Errorf("unsupported release type %T", rel)
	}
	return selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe)
}

// Overridden in tests.
var (
	newUpdater     = func() updater { return githubUpdater{} }
	executablePath = selfupdate.ExecutablePath
)

type selfUpdateOptions struct {
	checkOnly bool
}

func newSelfUpdateCmd() *cobra.Command {
	opts := &selfUpdateOptions{}
	cmd := &cobra.Command{
		Use:   "self-update",
		Short: "Update stackctl to the latest version",
		Long: `Checks for the latest release of stackctl on GitHub and
updates the current binary if a newer version is found.

With --check the latest version is only reported, nothing is installed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelfUpdate(cmd.Context(), cmd.OutOrStdout(), rootCmd.Version, *opts)
		},
	}
	cmd.Flags().BoolVar(&opts.checkOnly, "check", false, "Only report whether a newer version exists")
	return cmd
}

func runSelfUpdate(ctx context.Context, out io.Writer, currentVersion string, opts selfUpdateOptions) error {
	if currentVersion == "" || currentVersion == "dev" {
		return errDevelopmentBuild
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if out == nil {
		out = os.Stdout
	}

	fmt.Fprintf(out, "Current version: %s\n", currentVersion)
	fmt.Fprintf(out, "Checking for updates on %s...\n", githubRepoSlug)

	u := newUpdater()
	latest, found, err := u.DetectLatest(ctx, githubRepoSlug)
	if err != nil {
		return fmt.Errorf("error detecting latest version: %w", err)
	}
	if !found {
		return fmt.Errorf("latest version for %s/%s could not be found from github repository", runtime.GOOS, runtime.GOARCH)
	}

	if latest.LessOrEqual(currentVersion) {
		fmt.Fprintf(out, "Current version (%s) is the latest.\n", currentVersion)
		return nil
	}
	if opts.checkOnly {
		fmt.Fprintf(out, "Version %s is available, run stackctl self-update to install it.\n", latest.Version())
		return nil
	}

	exe, err := executablePath()
	if err != nil {
		return fmt.Errorf("could not locate executable path: %w", err)
	}

	fmt.Fprintf(out, "Updating to version %s...\n", latest.Version())
	if err := u.UpdateTo(ctx, latest, exe); err != nil {
		return fmt.Errorf("error occurred while updating binary: %w", err)
	}

	fmt.Fprintf(out, "Successfully updated to version %s\n", latest.Version())
	return nil
}
