package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	validateURL  string
	validateFile string
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a test-suite definition without starting a run",
		Long: `Validate a test-suite definition. The definition is checked structurally
(every recipe must carry each constraint exactly once with a well-formed
value) and every referenced test-runner image is resolved against its
container registry.

The definition is read from --file or downloaded from --url.`,
		Example: `  testgate validate --url https://suites.example.com/regression.json
  testgate validate --file ./suite.json`,
		RunE: validateRun,
	}

	cmd.Flags().StringVar(&validateURL, "url", "", "URL of the test-suite definition to download")
	cmd.Flags().StringVar(&validateFile, "file", "", "path to a test-suite definition file")
	cmd.MarkFlagsMutuallyExclusive("url", "file")

	return cmd
}

func validateRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("engine not initialized")
	}

	if validateURL == "" && validateFile == "" {
		return fmt.Errorf("one of --url or --file is required")
	}

	ctx := cmd.Context()

	fmt.Println("Validating test-suite definition...")

	var err error
	if validateFile != "" {
		data, readErr := os.ReadFile(validateFile)
		if readErr != nil {
			return fmt.Errorf("reading suite definition: %w", readErr)
		}
		err = globalEngine.ValidateDefinitions(ctx, data)
	} else {
		err = globalEngine.ValidateSuiteURL(ctx, validateURL)
	}

	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Println("Validation succeeded.")
	return nil
}
