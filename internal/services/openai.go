package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/kash-ai/kash-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the LLM interface for interacting
// with OpenAI's language models.
type OpenAI struct {
	model        string
	systemPrompt string

	client *goopenai.Client
}

// NewOpenAI creates a new OpenAI instance with the specified API key, model
// name, and system prompt.
func NewOpenAI(apiKey, model, systemPrompt string) OpenAI {
	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		client:       goopenai.NewClient(apiKey),
	}
}

// openAIMessages projects the conversation history into chat completion
// messages. Image attachments travel as image-URL parts carrying the base64
// data URL; the chat completions API accepts no other inline attachment
// kind, so non-image attachments are skipped here.
func openAIMessages(messages []models.Message, systemPrompt string) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	msgs = append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})

	for _, msg := range messages {
		role := goopenai.ChatMessageRoleUser
		if msg.Role == models.RoleModel {
			role = goopenai.ChatMessageRoleAssistant
		}

		if len(msg.Attachments) == 0 {
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role:    role,
				Content: msg.Content,
			})
			continue
		}

		var parts []goopenai.ChatMessagePart
		if msg.Content != "" {
			parts = append(parts, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeText,
				Text: msg.Content,
			})
		}
		for _, att := range msg.Attachments {
			if !att.IsImage() {
				continue
			}
			parts = append(parts, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL: att.Data,
				},
			})
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:         role,
			MultiContent: parts,
		})
	}
	return msgs
}

// Chat streams a completion from the OpenAI API for the given conversation
// history. The returned iterator yields response fragments as they arrive;
// the context can be used to cancel an ongoing request.
func (o OpenAI) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		req := goopenai.ChatCompletionRequest{
			Model:    o.model,
			Messages: openAIMessages(messages, o.systemPrompt),
			Stream:   true,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			if content := response.Choices[0].Delta.Content; content != "" {
				if !yield(content, nil) {
					return
				}
			}
		}
	}
}
