package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve IMAGE [IMAGE...]",
		Short: "Resolve container images to their manifest digests",
		Long: `Resolve one or more container image references to their manifest digests.
Each image name is parsed into registry, repository, and tag, and the
registry's manifest endpoint is queried, performing the bearer-token
handshake when the registry requires it.`,
		Example: `  testgate resolve alpine:3.19
  testgate resolve myregistry.example.com:5000/team/runner:v2 busybox`,
		Args: cobra.MinimumNArgs(1),
		RunE: resolveRun,
	}

	return cmd
}

func resolveRun(cmd *cobra.Command, args []string) error {
	if globalResolver == nil {
		return fmt.Errorf("registry client not initialized")
	}

	ctx := cmd.Context()
	missing := 0

	for _, image := range args {
		digest, found := globalResolver.Digest(ctx, image)
		if !found {
			fmt.Printf("%s: NOT FOUND\n", image)
			missing++
			continue
		}
		fmt.Printf("%s: %s\n", image, digest)
	}

	if missing > 0 {
		return fmt.Errorf("%d of %d images could not be resolved", missing, len(args))
	}
	return nil
}
