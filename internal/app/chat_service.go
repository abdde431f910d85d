package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/search"
)

const personaPrompt = `You are a friendly learning assistant dedicated to helping users understand complex topics and acquire new skills.
When interacting with users, you should:
1. Ask clarifying questions to better understand the user's learning goals.
2. Provide clear, step-by-step explanations and practical examples.
3. Prefer the provided context and data when it is relevant to the question.
4. Conclude your responses by asking if there is anything else you can explain or help with.`

// ApologyMessage replaces the reply whenever the chat provider fails.
const ApologyMessage = "I apologize, but I encountered an error processing your request. Please try again."

type Retriever interface {
	Search(ctx context.Context, text string, opts search.Options) ([]search.Result, error)
}

type ChatService struct {
	retriever    Retriever
	llm          ai.ChatCompleter
	contextCount int
	minScore     *float64
	logger       *zap.Logger
}

func NewChatService(retriever Retriever, llm ai.ChatCompleter, contextCount int, minScore *float64, logger *zap.Logger) *ChatService {
	if contextCount <= 0 {
		contextCount = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		retriever:    retriever,
		llm:          llm,
		contextCount: contextCount,
		minScore:     minScore,
		logger:       logger.Named("chat"),
	}
}

type ChatInput struct {
	Message string
	History []model.ConversationTurn
	// Count is the number of fragments to retrieve; zero uses the default.
	Count int
}

type ChatResult struct {
	Response         string          `json:"response"`
	RetrievedContext []search.Result `json:"retrieved_context"`
}

// Chat answers input.Message grounded on retrieved fragments. Provider
// failures never surface as errors: the reply becomes ApologyMessage.
func (s *ChatService) Chat(ctx context.Context, input ChatInput) (*ChatResult, error) {
	if err := validateChat(input); err != nil {
		return nil, err
	}

	retrieved := s.retrieve(ctx, input)
	reply, err := s.llm.Complete(ctx, buildMessages(input, retrieved))
	if err != nil {
		s.logger.Error("chat completion failed", zap.String("op", "chat"), zap.Int("history", len(input.History)), zap.Error(err))
		return apology(), nil
	}
	return &ChatResult{Response: reply, RetrievedContext: retrieved}, nil
}

// Stream is Chat with the reply delivered through onDelta as it is produced.
// If the provider fails before the first delta, the apology is sent as the
// only delta. A failure after partial output ends the stream with what was
// already sent. An error from onDelta aborts and is returned.
func (s *ChatService) Stream(ctx context.Context, input ChatInput, onDelta func(delta string) error) (*ChatResult, error) {
	if err := validateChat(input); err != nil {
		return nil, err
	}

	retrieved := s.retrieve(ctx, input)

	var (
		delivered bool
		sinkErr   error
	)
	reply, err := s.llm.StreamComplete(ctx, buildMessages(input, retrieved), func(chunk string) error {
		delivered = true
		if err := onDelta(chunk); err != nil {
			sinkErr = err
			return err
		}
		return nil
	})

	switch {
	case err == nil:
		return &ChatResult{Response: reply, RetrievedContext: retrieved}, nil
	case sinkErr != nil:
		s.logger.Info("chat stream consumer went away", zap.Error(sinkErr))
		return nil, sinkErr
	case delivered:
		s.logger.Error("chat stream broke after partial output", zap.Int("chars", len(reply)), zap.Error(err))
		return &ChatResult{Response: reply, RetrievedContext: retrieved}, nil
	default:
		s.logger.Error("chat stream failed", zap.String("op", "chat_stream"), zap.Error(err))
		if err := onDelta(ApologyMessage); err != nil {
			return nil, err
		}
		return apology(), nil
	}
}

func validateChat(input ChatInput) error {
	if strings.TrimSpace(input.Message) == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	if input.Count < 0 {
		return fmt.Errorf("%w: count must not be negative", ErrInvalidInput)
	}
	return nil
}

// retrieve degrades to no context on any failure.
func (s *ChatService) retrieve(ctx context.Context, input ChatInput) []search.Result {
	count := input.Count
	if count == 0 {
		count = s.contextCount
	}
	results, err := s.retriever.Search(ctx, input.Message, search.Options{TopK: count, MinScore: s.minScore})
	if err != nil {
		s.logger.Warn("retrieval failed, answering without context", zap.Error(err))
		return []search.Result{}
	}
	if results == nil {
		results = []search.Result{}
	}
	return results
}

// buildMessages lays out persona, history, the optional context turn and
// finally the user's message.
func buildMessages(input ChatInput, retrieved []search.Result) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, len(input.History)+3)
	messages = append(messages, ai.ChatMessage{Role: model.RoleSystem, Content: personaPrompt})
	for _, turn := range input.History {
		messages = append(messages, ai.ChatMessage{Role: model.NormalizeRole(turn.Role), Content: turn.Content})
	}
	if len(retrieved) > 0 {
		var b strings.Builder
		b.WriteString("Additional context retrieved from vector store:\n")
		for _, r := range retrieved {
			fmt.Fprintf(&b, "ID: %d, Content Snippet: %s\n", r.FragmentID, r.Snippet)
		}
		messages = append(messages, ai.ChatMessage{Role: model.RoleSystem, Content: b.String()})
	}
	messages = append(messages, ai.ChatMessage{Role: model.RoleUser, Content: input.Message})
	return messages
}

func apology() *ChatResult {
	return &ChatResult{Response: ApologyMessage, RetrievedContext: []search.Result{}}
}
