// Package cli holds the ragctl commands. Commands talk to the services
// through package-level interfaces set by SetServices.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"gopherai-rag/internal/app"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/search"
)

type RAGService interface {
	Upload(ctx context.Context, key string) app.OperationResult
	EnqueueUpload(ctx context.Context, key string) (string, error)
	Query(ctx context.Context, text string, count int) ([]search.Result, error)
	GetFragmentSource(ctx context.Context, fragmentID uint) (string, error)
	ListSources(ctx context.Context) ([]model.SourceSummary, error)
	DeleteSource(ctx context.Context, id uint) error
}

type ChatService interface {
	Chat(ctx context.Context, input app.ChatInput) (*app.ChatResult, error)
	Stream(ctx context.Context, input app.ChatInput, onDelta func(delta string) error) (*app.ChatResult, error)
}

var (
	ragService  RAGService
	chatService ChatService
	jwtSecret   string
)

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Ingest documents and query the vector store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetServices injects the services used by the data commands. secret signs
// tokens issued by the token command.
func SetServices(rag RAGService, chat ChatService, secret string) {
	ragService = rag
	chatService = chat
	jwtSecret = secret
}

// Execute runs the root command with ctx attached.
func Execute(ctx context.Context) error {
	rootCmd.SetOut(os.Stdout)
	return rootCmd.ExecuteContext(ctx)
}

// NeedsServices reports whether args select a command that talks to the
// database or the model provider. Those commands need the full bootstrap.
func NeedsServices(args []string) bool {
	cmd, _, err := rootCmd.Find(args)
	if err != nil || cmd == rootCmd {
		return false
	}
	return cmd != tokenCmd && cmd.Name() != "help" && cmd.Name() != "completion"
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
