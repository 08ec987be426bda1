package providers

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider is the ProviderAdapter for OpenAI models, using the
// Responses API.
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIProvider creates an OpenAI provider from configuration.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	if config.Model == "" {
		config.Model = DefaultOpenAIModel
	}

	client := openai.NewClient(option.WithAPIKey(config.APIKey))

	return &OpenAIProvider{
		client: &client,
		config: config,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Model() string { return p.config.Model }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) CheckReady(ctx context.Context) error {
	if p.config.APIKey == "" {
		return fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	return nil
}

// Complete performs a non-streaming completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	params := p.buildResponseParams(req)

	result, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai complete: %w", err)
	}

	return p.convertResponse(result), nil
}

func (p *OpenAIProvider) StreamWithHandler(ctx context.Context, req *Request, handler StreamHandler) error {
	params := p.buildResponseParams(req)

	stream := p.client.Responses.NewStreaming(ctx, params)

	if err := handler(&StreamChunk{Type: StreamChunkTypeStart}); err != nil {
		return err
	}

	// The Responses API keys argument deltas by output item ID, but tool
	// results must reference the call ID. Track the mapping as items appear.
	callIDForItem := map[string]string{}
	var stopReason StopReason

	for stream.Next() {
		event := stream.Current()

		switch ev := event.AsAny().(type) {
		case responses.ResponseTextDeltaEvent:
			if ev.Delta == "" {
				continue
			}
			if err := handler(&StreamChunk{
				Type: StreamChunkTypeText,
				Text: ev.Delta,
			}); err != nil {
				return err
			}

		case responses.ResponseOutputItemAddedEvent:
			if ev.Item.Type != "function_call" {
				continue
			}
			callIDForItem[ev.Item.ID] = ev.Item.CallID
			if err := handler(&StreamChunk{
				Type:       StreamChunkTypeToolStart,
				ToolCallID: ev.Item.CallID,
				ToolName:   ev.Item.Name,
			}); err != nil {
				return err
			}

		case responses.ResponseFunctionCallArgumentsDeltaEvent:
			callID := callIDForItem[ev.ItemID]
			if callID == "" || ev.Delta == "" {
				continue
			}
			if err := handler(&StreamChunk{
				Type:       StreamChunkTypeToolDelta,
				ToolCallID: callID,
				ToolDelta:  ev.Delta,
			}); err != nil {
				return err
			}

		case responses.ResponseOutputItemDoneEvent:
			callID := callIDForItem[ev.Item.ID]
			if callID == "" {
				continue
			}
			if err := handler(&StreamChunk{
				Type:       StreamChunkTypeToolEnd,
				ToolCallID: callID,
			}); err != nil {
				return err
			}

		case responses.ResponseCompletedEvent:
			stopReason = p.convertResponseStopReason(ev.Response)
			if len(callIDForItem) > 0 {
				stopReason = StopReasonToolUse
			}

		case responses.ResponseIncompleteEvent:
			stopReason = p.convertIncompleteReason(ev.Response.IncompleteDetails.Reason)

		case responses.ResponseErrorEvent:
			err := fmt.Errorf("openai stream: %s", ev.Message)
			handler(&StreamChunk{Type: StreamChunkTypeError, Err: err})
			return err
		}
	}

	if err := stream.Err(); err != nil {
		handler(&StreamChunk{Type: StreamChunkTypeError, Err: err})
		return fmt.Errorf("openai stream: %w", err)
	}

	if stopReason == "" {
		stopReason = StopReasonEndTurn
	}

	return handler(&StreamChunk{Type: StreamChunkTypeEnd, StopReason: stopReason})
}

// buildResponseParams constructs Responses API parameters from a Request.
func (p *OpenAIProvider) buildResponseParams(req *Request) responses.ResponseNewParams {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: p.convertMessages(req.Messages, req.SystemPrompt),
		},
		MaxOutputTokens: openai.Int(int64(maxTokens)),
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	if len(req.Tools) > 0 {
		params.Tools = p.convertTools(req.Tools)
	}

	return params
}

func (p *OpenAIProvider) convertMessages(messages []Message, systemPrompt string) responses.ResponseInputParam {
	result := make(responses.ResponseInputParam, 0, len(messages)+1)

	if systemPrompt != "" {
		result = append(result, responses.ResponseInputItemParamOfMessage(systemPrompt, responses.EasyInputMessageRoleSystem))
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleSystem))
		case RoleUser:
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		case RoleAssistant:
			if msg.Content != "" {
				result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range msg.ToolCalls {
				result = append(result, responses.ResponseInputItemParamOfFunctionCall(tc.Arguments, tc.ID, tc.Name))
			}
		case RoleTool:
			result = append(result, responses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolCallID, msg.Content))
		}
	}

	return result
}

func (p *OpenAIProvider) convertTools(tools []Tool) []responses.ToolUnionParam {
	result := make([]responses.ToolUnionParam, len(tools))
	for i, tool := range tools {
		result[i] = responses.ToolParamOfFunction(tool.Name, ensureObjectType(tool.Parameters), true)
		if tool.Description != "" {
			desc := openai.String(tool.Description)
			function := result[i].OfFunction
			function.Description = desc
			result[i].OfFunction = function
		}
	}
	return result
}

func (p *OpenAIProvider) convertResponse(result *responses.Response) *Response {
	if result == nil {
		return &Response{StopReason: StopReasonError}
	}

	response := &Response{
		Content:    result.OutputText(),
		Model:      string(result.Model),
		StopReason: p.convertResponseStopReason(*result),
	}

	for _, item := range result.Output {
		if item.Type == "function_call" {
			response.ToolCalls = append(response.ToolCalls, ToolCall{
				ID:        item.CallID,
				Name:      item.Name,
				Arguments: item.Arguments,
			})
		}
	}
	if len(response.ToolCalls) > 0 && response.StopReason == StopReasonEndTurn {
		response.StopReason = StopReasonToolUse
	}

	return response
}

func (p *OpenAIProvider) convertResponseStopReason(result responses.Response) StopReason {
	if result.IncompleteDetails.Reason != "" {
		return p.convertIncompleteReason(result.IncompleteDetails.Reason)
	}
	if result.Error.Message != "" {
		return StopReasonError
	}
	return StopReasonEndTurn
}

func (p *OpenAIProvider) convertIncompleteReason(reason string) StopReason {
	switch reason {
	case "max_output_tokens":
		return StopReasonMaxTokens
	case "content_filter":
		return StopReasonError
	default:
		return StopReasonEndTurn
	}
}

func ensureObjectType(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{"type": "object"}
	}
	if _, hasType := params["type"]; !hasType {
		params["type"] = "object"
	}
	return params
}
