package ai

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/config"
	"github.com/zhouzirui/spectra-communicator/internal/model/chat"
	"github.com/zhouzirui/spectra-communicator/internal/model/persona"
)

const defaultHistoryLimit = 10

// Service encapsulates AI-powered chat functionality
type Service struct {
	chatModel    model.ChatModel
	chain        compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
	logger       *zap.Logger
}

// NewService creates a new AI service instance backed by the configured Ark model.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg.HistoryLimit, logger)
}

// NewServiceWithModel compiles the chat chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, historyLimit int, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel:    chatModel,
		chain:        runnable,
		historyLimit: historyLimit,
		logger:       logger.Named("ai"),
	}, nil
}

// GenerateResponse answers the user turn in the voice of the persona. history
// holds earlier turns only; turn is the new user message.
func (s *Service) GenerateResponse(ctx context.Context, sessionID string, p *persona.Persona, history []chat.Message, turn chat.Message) (string, error) {
	turns := append(append(make([]chat.Message, 0, len(history)+1), history...), turn)
	input := map[string]any{
		"system":  p.Instruction(),
		"history": s.buildHistoryMessages(turns),
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	s.logger.Info("generated response",
		zap.String("session", sessionID),
		zap.String("persona", p.Name),
		zap.Int("length", len(response.Content)))
	return response.Content, nil
}

func (s *Service) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > s.historyLimit {
		startIdx = len(messages) - s.historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.RoleUser:
			history = append(history, userMessage(msg))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}

func userMessage(msg chat.Message) *schema.Message {
	if len(msg.Images) == 0 {
		return schema.UserMessage(msg.Content)
	}

	parts := make([]schema.ChatMessagePart, 0, len(msg.Images)+1)
	if msg.Content != "" {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}
	for _, img := range msg.Images {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{
				URL:    "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
				Detail: schema.ImageURLDetailAuto,
			},
		})
	}

	return &schema.Message{
		Role:         schema.User,
		Content:      msg.Content,
		MultiContent: parts,
	}
}
