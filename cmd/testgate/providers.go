package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/testgate/testgate/internal/provider"
	"github.com/testgate/testgate/internal/store"
)

var (
	providerRegisterType string
	providerRegisterFile string
)

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect registered resource providers",
		Long: `Inspect resource provider documents stored in the local database.
Use "providers list" to see types, names, and whether each document is
loaded into the running registry.`,
		RunE: providersListRun,
	}

	cmd.AddCommand(newProvidersListCmd(), newProvidersRegisterCmd(), newProvidersDeleteCmd())
	return cmd
}

func newProvidersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered providers",
		Long:    "List all registered provider documents, including provider type and load state.",
		RunE:    providersListRun,
	}
}

func newProvidersRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a provider document from a file",
		Long: `Validate a provider document and store it under its type. The document's
name is taken from the id inside its type section.`,
		Example: `  testgate providers register --type iut --file ./iut-default.json
  testgate providers register --type log-area --file ./logs.json`,
		RunE: providersRegisterRun,
	}

	cmd.Flags().StringVar(&providerRegisterType, "type", "", "provider type (iut, execution-space, log-area)")
	cmd.Flags().StringVar(&providerRegisterFile, "file", "", "path to the provider document")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newProvidersDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete TYPE NAME",
		Short: "Delete a registered provider",
		Long:  "Remove a provider document from the store and the running registry.",
		Example: `  testgate providers delete iut default
  testgate providers delete log-area artifact-logs`,
		Args: cobra.ExactArgs(2),
		RunE: providersDeleteRun,
	}
}

func providersListRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	records, err := globalStore.ListProviders("")
	if err != nil {
		return fmt.Errorf("listing providers: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No providers registered.")
		return nil
	}

	fmt.Println("Registered Providers")
	fmt.Println("====================")
	fmt.Println("")
	fmt.Printf("%-18s %-28s %-10s\n", "Type", "Name", "Loaded")
	fmt.Println(strings.Repeat("-", 58))

	for _, rec := range records {
		loaded := "no"
		if globalRegistry != nil {
			if _, ok := globalRegistry.Get(provider.Type(rec.Type), rec.Name); ok {
				loaded = "yes"
			}
		}

		fmt.Printf("%-18s %-28s %-10s\n", rec.Type, rec.Name, loaded)
	}
	fmt.Println("")

	return nil
}

func providersRegisterRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	typ, err := provider.ParseType(providerRegisterType)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(providerRegisterFile)
	if err != nil {
		return fmt.Errorf("reading provider document: %w", err)
	}

	doc, err := provider.NewDocument(typ, data)
	if err != nil {
		return err
	}

	rec := &store.ProviderRecord{
		Type:     string(doc.Type),
		Name:     doc.Name,
		Document: string(doc.Body),
	}
	if err := globalStore.UpsertProvider(rec); err != nil {
		return fmt.Errorf("persisting provider %s/%s: %w", doc.Type, doc.Name, err)
	}
	if globalRegistry != nil {
		globalRegistry.Register(doc)
	}

	fmt.Printf("Registered %s provider %q\n", doc.Type, doc.Name)
	return nil
}

func providersDeleteRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	typ, err := provider.ParseType(args[0])
	if err != nil {
		return err
	}
	name := args[1]

	if err := globalStore.DeleteProvider(string(typ), name); err != nil {
		return err
	}
	if globalRegistry != nil {
		globalRegistry.Remove(typ, name)
	}

	fmt.Printf("Deleted %s provider %q\n", typ, name)
	return nil
}
