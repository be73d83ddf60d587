package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/pagetranslationflow/internal/llm"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultVertexModel is used when no model name is configured.
const DefaultVertexModel = "gemini-1.5-pro"

// VertexModel calls Gemini on Vertex AI. It implements llm.Model.
type VertexModel struct {
	baseClient *genai.Client
	modelName  string
}

// NewVertexModel creates a Gemini client for the project and region.
func NewVertexModel(ctx context.Context, projectID, region, modelName string) (*VertexModel, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexModel: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultVertexModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexModel{baseClient: baseClient, modelName: modelName}, nil
}

// Call sends one GenerateContent request. System messages become the system
// instruction; user messages become parts in order.
func (m *VertexModel) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := m.baseClient.GenerativeModel(m.modelName)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	// Moderation is done by our own classifier.
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	var parts []genai.Part
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(msg.Text)}}
			continue
		}
		if len(msg.Image) > 0 {
			parts = append(parts, genai.ImageData("jpeg", msg.Image))
		}
		if msg.Text != "" {
			parts = append(parts, genai.Text(msg.Text))
		}
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			// A blocked answer is a content decision, not a transport failure.
			return &llm.Response{FinishReason: llm.FinishContentFilter}, nil
		}
		return nil, vertexError(err)
	}
	return toResponse(resp), nil
}

// Close releases the underlying client.
func (m *VertexModel) Close() error {
	if m.baseClient != nil {
		return m.baseClient.Close()
	}
	return nil
}

func toResponse(resp *genai.GenerateContentResponse) *llm.Response {
	out := &llm.Response{FinishReason: llm.FinishOther}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return out
	}

	cand := resp.Candidates[0]
	out.FinishReason = normaliseFinish(cand.FinishReason)
	if cand.Content == nil {
		return out
	}
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	out.Text = strings.TrimSpace(text.String())
	return out
}

func normaliseFinish(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return llm.FinishStop
	case genai.FinishReasonMaxTokens:
		return llm.FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist,
		genai.FinishReasonProhibitedContent, genai.FinishReasonSpii:
		return llm.FinishContentFilter
	default:
		return llm.FinishOther
	}
}

// vertexError maps gRPC status codes onto HTTP statuses so llm.IsRetryable
// treats both backends alike.
func vertexError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	code := httpStatus(st.Code())
	if code == 0 {
		return fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return &llm.StatusError{StatusCode: code, Err: err}
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Internal, codes.Unknown:
		return http.StatusInternalServerError
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	default:
		return 0
	}
}
