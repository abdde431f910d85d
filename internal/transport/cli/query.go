package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"gopherai-rag/internal/app"
	"gopherai-rag/internal/search"
)

var (
	queryCount int
	queryJSON  bool
	chatStream bool
	chatCount  int
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Find the stored fragments most similar to text",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask a question answered with retrieved context",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func init() {
	queryCmd.Flags().IntVarP(&queryCount, "count", "n", 5, "number of fragments to return")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "print the reply as it is generated")
	chatCmd.Flags().IntVarP(&chatCount, "count", "n", 0, "fragments to retrieve as context (0 uses the configured default)")
	rootCmd.AddCommand(queryCmd, chatCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	if ragService == nil {
		return errors.New("rag service not configured")
	}
	results, err := ragService.Query(commandContext(cmd), args[0], queryCount)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if queryJSON {
		return printJSON(cmd, results)
	}
	printResults(cmd, results)
	return nil
}

func printResults(cmd *cobra.Command, results []search.Result) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}
	for _, r := range results {
		cmd.Printf("  [%d] source %d (%.4f)\n", r.FragmentID, r.SourceID, r.Score)
		cmd.Printf("      %s\n", truncate(r.Snippet, 160))
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	if chatService == nil {
		return errors.New("chat service not configured")
	}
	input := app.ChatInput{Message: args[0], Count: chatCount}

	if !chatStream {
		result, err := chatService.Chat(commandContext(cmd), input)
		if err != nil {
			return fmt.Errorf("chat failed: %w", err)
		}
		cmd.Println(result.Response)
		return nil
	}

	_, err := chatService.Stream(commandContext(cmd), input, func(delta string) error {
		cmd.Print(delta)
		return nil
	})
	cmd.Println()
	if err != nil {
		return fmt.Errorf("chat failed: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
