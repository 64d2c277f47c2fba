package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/kash-ai/kash-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Gemini provides an implementation of the LLM interface backed by the
// Google Generative Language API. It handles streaming chat completions,
// including inline image and PDF attachments.
type Gemini struct {
	apiKey       string
	model        string
	systemPrompt string

	baseURL string
	client  *http.Client
}

type geminiGenerateRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiStreamResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *geminiError `json:"error"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

const geminiAPIEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// NewGemini creates a new Gemini instance with the specified API key, model
// name, and system prompt. It initializes an HTTP client for API
// communication; an invalid or missing key is only surfaced when the first
// chat request fails.
func NewGemini(apiKey, model, systemPrompt string) Gemini {
	return Gemini{
		apiKey:       apiKey,
		model:        model,
		systemPrompt: systemPrompt,
		baseURL:      geminiAPIEndpoint,
		client:       &http.Client{},
	}
}

// geminiContents projects the conversation history into the provider turn
// format: each message becomes one turn with its role mapped to user/model
// and parts built from the text content, if non-empty, plus one inline-data
// part per attachment with the data URL prefix stripped. Messages with no
// usable parts are skipped.
func geminiContents(messages []models.Message) []geminiContent {
	contents := make([]geminiContent, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if msg.Role == models.RoleModel {
			role = "model"
		}

		var parts []geminiPart
		if msg.Content != "" {
			parts = append(parts, geminiPart{Text: msg.Content})
		}
		for _, att := range msg.Attachments {
			parts = append(parts, geminiPart{
				InlineData: &geminiInlineData{
					MimeType: att.MimeType,
					Data:     att.RawBase64(),
				},
			})
		}
		if len(parts) == 0 {
			continue
		}

		contents = append(contents, geminiContent{Role: role, Parts: parts})
	}
	return contents
}

// Chat streams a completion from the Gemini API for the given conversation
// history. It returns an iterator that yields response fragments in the
// order they arrive from the provider and potential errors. The context can
// be used to cancel an ongoing request. Refer to models.Message for message
// structure details.
func (g Gemini) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reqBody := geminiGenerateRequest{
			Contents: geminiContents(messages),
		}
		if g.systemPrompt != "" {
			reqBody.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: g.systemPrompt}},
			}
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.baseURL, g.model)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", g.apiKey)

		resp, err := g.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			var e struct {
				Error geminiError `json:"error"`
			}
			if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
				yield("", fmt.Errorf("gemini error %s: %s", e.Error.Status, e.Error.Message))
				return
			}
			yield("", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}

			var res geminiStreamResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				yield("", fmt.Errorf("error unmarshaling response: %w", err))
				return
			}
			if res.Error != nil {
				yield("", fmt.Errorf("gemini error %s: %s", res.Error.Status, res.Error.Message))
				return
			}
			if len(res.Candidates) == 0 {
				continue
			}

			for _, part := range res.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				if !yield(part.Text, nil) {
					return
				}
			}
		}
	}
}
