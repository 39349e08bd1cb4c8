package gemini

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jabraham1/dok-tok/internal/retrieval"
)

const (
	DefaultGenerationModel = "gemini-2.0-flash"

	describePrompt = "Transcribe every lab test, value, unit and reference range visible in this image as plain text, one result per line. Do not interpret the results."
)

var ErrEmptyResponse = errors.New("empty response from model")

type Generator struct {
	clients *clients
	limiter *Limiter
	model   string
}

func NewGenerator(keys KeyProvider, model string, limiter *Limiter, opts ...option.ClientOption) *Generator {
	if model == "" {
		model = DefaultGenerationModel
	}
	return &Generator{clients: newClients(keys, opts), limiter: limiter, model: model}
}

func (g *Generator) Generate(ctx context.Context, req retrieval.GenerateRequest) (string, error) {
	client, release, err := g.clients.get(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	model := client.GenerativeModel(g.model)
	if req.SystemInstruction != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemInstruction)}}
	}
	model.SetTemperature(req.Temperature)
	if req.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(req.MaxOutputTokens)
	}

	slog.DebugContext(ctx, "generating", "model", g.model, "context_length", len(req.Context))
	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt()))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

// Describe transcribes an image with a multimodal request.
func (g *Generator) Describe(ctx context.Context, mediaType string, data []byte) (string, error) {
	client, release, err := g.clients.get(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	model := client.GenerativeModel(g.model)
	model.SetTemperature(0)
	resp, err := model.GenerateContent(ctx,
		genai.Blob{MIMEType: mediaType, Data: data},
		genai.Text(describePrompt),
	)
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func (g *Generator) Close() error {
	return g.clients.close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
