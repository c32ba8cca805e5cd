package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/config"
	"github.com/fyrsmithlabs/draftd/internal/stream"
)

var tracer = otel.Tracer("draftd.generation")

const anthropicVersion = "2023-06-01"

// Message is one prior conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one generation call: system instructions plus the
// conversation so far, ending with the user's latest message. Provider and
// Model optionally override the configured upstream for this request.
type Request struct {
	System   string
	Messages []Message
	Provider string
	Model    string
}

// Driver streams completions from an upstream provider and emits
// normalized events. It polls the cancellation token before the upstream
// request and at each chunk of streamed output; there is no preemptive
// interruption.
type Driver struct {
	client *http.Client
	cfg    config.GenerationConfig
	logger *zap.Logger
}

// NewDriver creates a driver. cfg.Provider is the default upstream; a
// Request may select the other one per call.
func NewDriver(cfg config.GenerationConfig, logger *zap.Logger) (*Driver, error) {
	if _, ok := framingFor(cfg.Provider); !ok {
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}

	return &Driver{
		// Streaming responses stay open for the whole generation; rely on
		// ctx for lifetime instead of a client timeout.
		client: &http.Client{},
		cfg:    cfg,
		logger: logger.Named("generation"),
	}, nil
}

func framingFor(provider string) (Framing, bool) {
	switch provider {
	case "openai":
		return openaiFraming{}, true
	case "anthropic":
		return anthropicFraming{}, true
	default:
		return nil, false
	}
}

// resolve fills a request's provider and model from the configuration.
// The configured model only applies to the configured provider; a request
// that switches provider without naming a model gets that provider's
// stock model.
func (d *Driver) resolve(req Request) (Request, error) {
	if req.Provider == "" {
		req.Provider = d.cfg.Provider
	}
	if _, ok := framingFor(req.Provider); !ok {
		return req, fmt.Errorf("unknown generation provider %q", req.Provider)
	}
	if req.Model == "" {
		if req.Provider == d.cfg.Provider {
			req.Model = d.cfg.Model
		} else {
			req.Model = config.DefaultGenerationModel(req.Provider)
		}
	}
	return req, nil
}

// Stream issues the upstream request and emits normalized events through
// emit until a terminal event is sent. Every call ends with exactly one
// terminal event: Done, Cancelled or Error. Transport failures are emitted
// as Error and never retried. The returned error is only non-nil when emit
// itself fails.
func (d *Driver) Stream(ctx context.Context, req Request, token stream.Token, emit func(Event) error) error {
	ctx, span := tracer.Start(ctx, "generation.Stream")
	defer span.End()

	req, err := d.resolve(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return emit(ErrorEvent(fmt.Sprintf("Error generating response: %v", err)))
	}
	span.SetAttributes(
		attribute.String("generation.provider", req.Provider),
		attribute.String("generation.model", req.Model),
	)
	framing, _ := framingFor(req.Provider)

	if token.Cancelled() {
		span.SetAttributes(attribute.Bool("generation.cancelled", true))
		return emit(Event{Type: EventCancelled})
	}

	httpReq, err := d.buildRequest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("building upstream request", zap.Error(err))
		return emit(ErrorEvent(fmt.Sprintf("Error generating response: %v", err)))
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("upstream request failed", zap.Error(err))
		return emit(ErrorEvent(fmt.Sprintf("Error generating response: %v", err)))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		d.logger.Error("upstream returned error status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		span.SetStatus(codes.Error, fmt.Sprintf("upstream status %d", resp.StatusCode))
		return emit(ErrorEvent(fmt.Sprintf("Error generating response: upstream status %d", resp.StatusCode)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if token.Cancelled() {
			span.SetAttributes(attribute.Bool("generation.cancelled", true))
			return emit(Event{Type: EventCancelled})
		}

		for _, event := range framing.ParseIncrement(scanner.Bytes()) {
			if err := emit(event); err != nil {
				return err
			}
			if event.Type == EventDone {
				return nil
			}
		}
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("reading upstream stream", zap.Error(err))
		return emit(ErrorEvent(fmt.Sprintf("Error generating response: %v", err)))
	}

	// Stream closed without the provider's finished sentinel. The client
	// still gets its terminal event.
	d.logger.Debug("upstream closed without terminal sentinel")
	return emit(Event{Type: EventDone})
}

func (d *Driver) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	switch req.Provider {
	case "anthropic":
		return d.buildAnthropicRequest(ctx, req)
	default:
		return d.buildOpenAIRequest(ctx, req)
	}
}

func (d *Driver) buildOpenAIRequest(ctx context.Context, req Request) (*http.Request, error) {
	messages := make([]map[string]string, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	body, err := json.Marshal(map[string]any{
		"model":       req.Model,
		"messages":    messages,
		"stream":      true,
		"max_tokens":  d.cfg.MaxTokens,
		"temperature": d.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.OpenAIBaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.OpenAIKey.Value())
	return httpReq, nil
}

func (d *Driver) buildAnthropicRequest(ctx context.Context, req Request) (*http.Request, error) {
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	body, err := json.Marshal(map[string]any{
		"model":      req.Model,
		"system":     req.System,
		"messages":   messages,
		"max_tokens": d.cfg.MaxTokens,
		"stream":     true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.AnthropicBaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", d.cfg.AnthropicKey.Value())
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return httpReq, nil
}
