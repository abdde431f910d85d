package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"gopherai-rag/internal/app"
)

var uploadAsync bool

var uploadCmd = &cobra.Command{
	Use:   "upload [path]",
	Short: "Ingest a PDF, text or markdown document",
	Long: `Extracts the document, splits it into fragments and stores one embedding
per new fragment. Re-uploading a document only embeds fragments that are
not stored yet.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List ingested sources with their fragment counts",
	Args:  cobra.NoArgs,
	RunE:  runSources,
}

var sourceCmd = &cobra.Command{
	Use:   "source [fragment-id]",
	Short: "Print the source document of a fragment",
	Args:  cobra.ExactArgs(1),
	RunE:  runSource,
}

var deleteSourceCmd = &cobra.Command{
	Use:   "delete-source [source-id]",
	Short: "Delete a source and all of its fragments",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteSource,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadAsync, "async", false, "queue the upload instead of ingesting inline")
	rootCmd.AddCommand(uploadCmd, sourcesCmd, sourceCmd, deleteSourceCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	if ragService == nil {
		return errors.New("rag service not configured")
	}
	ctx := commandContext(cmd)

	if uploadAsync {
		jobID, err := ragService.EnqueueUpload(ctx, args[0])
		if err != nil {
			return fmt.Errorf("enqueue upload failed: %w", err)
		}
		cmd.Printf("queued job %s\n", jobID)
		return nil
	}

	result := ragService.Upload(ctx, args[0])
	if result.Status != app.StatusSuccess {
		return errors.New(result.Message)
	}
	cmd.Println(result.Message)
	if result.Ingest != nil {
		cmd.Printf("source %d: %d chunks, %d new, %d already stored\n",
			result.Ingest.SourceID, result.Ingest.Chunks, result.Ingest.Created, result.Ingest.Skipped)
	}
	return nil
}

func runSources(cmd *cobra.Command, _ []string) error {
	if ragService == nil {
		return errors.New("rag service not configured")
	}
	sources, err := ragService.ListSources(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("list sources failed: %w", err)
	}
	if len(sources) == 0 {
		cmd.Println("No sources ingested.")
		return nil
	}
	for _, s := range sources {
		cmd.Printf("  [%d] %s (%d fragments)\n", s.ID, s.Key, s.FragmentCount)
	}
	return nil
}

func runSource(cmd *cobra.Command, args []string) error {
	if ragService == nil {
		return errors.New("rag service not configured")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	key, err := ragService.GetFragmentSource(commandContext(cmd), id)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			return fmt.Errorf("no fragment found with id %d", id)
		}
		return fmt.Errorf("lookup failed: %w", err)
	}
	cmd.Println(key)
	return nil
}

func runDeleteSource(cmd *cobra.Command, args []string) error {
	if ragService == nil {
		return errors.New("rag service not configured")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := ragService.DeleteSource(commandContext(cmd), id); err != nil {
		return fmt.Errorf("delete source failed: %w", err)
	}
	cmd.Printf("deleted source %d\n", id)
	return nil
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
