package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
)

// invokeAgentAPI is the subset of the Bedrock agent runtime client we use.
type invokeAgentAPI interface {
	InvokeAgent(ctx context.Context, params *bedrockagentruntime.InvokeAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeAgentOutput, error)
}

// eventReader is satisfied by *bedrockagentruntime.InvokeAgentEventStream.
type eventReader interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

// BedrockOption configures a Bedrock client.
type BedrockOption func(*Bedrock)

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(logger *slog.Logger) BedrockOption {
	return func(b *Bedrock) {
		b.logger = logger
	}
}

// Bedrock implements Client on Amazon Bedrock Agents.
type Bedrock struct {
	api     invokeAgentAPI
	agentID string
	aliasID string
	logger  *slog.Logger
}

// NewBedrock creates a client bound to one agent alias. Two deployments
// differing only in alias are the same service with different configuration.
func NewBedrock(api invokeAgentAPI, agentID, aliasID string, opts ...BedrockOption) *Bedrock {
	b := &Bedrock{
		api:     api,
		agentID: agentID,
		aliasID: aliasID,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Stream invokes the agent and relays its response stream.
func (b *Bedrock) Stream(ctx context.Context, req *Request) (<-chan Event, error) {
	input := &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String(b.agentID),
		AgentAliasId: aws.String(b.aliasID),
		SessionId:    aws.String(req.SessionID),
		InputText:    aws.String(req.InputText),
		EnableTrace:  aws.Bool(req.EnableTrace),
		StreamingConfigurations: &types.StreamingConfigurations{
			StreamFinalResponse: req.StreamFinalResponse,
		},
	}
	if req.MemoryID != "" {
		input.MemoryId = aws.String(req.MemoryID)
	}

	resp, err := b.api.InvokeAgent(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("invoke agent %s/%s: %w", b.agentID, b.aliasID, err)
	}

	stream := resp.GetStream()
	if stream == nil {
		return nil, fmt.Errorf("invoke agent %s/%s: response has no event stream", b.agentID, b.aliasID)
	}

	out := make(chan Event)
	go pump(ctx, stream, out, b.logger)
	return out, nil
}

// pump forwards stream events to out until the stream ends or ctx is done,
// then closes both.
func pump(ctx context.Context, stream eventReader, out chan<- Event, logger *slog.Logger) {
	defer close(out)
	defer stream.Close()

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	events := stream.Events()
	for {
		var (
			raw types.ResponseStream
			ok  bool
		)
		select {
		case <-ctx.Done():
			return
		case raw, ok = <-events:
		}
		if !ok {
			break
		}

		switch v := raw.(type) {
		case *types.ResponseStreamMemberChunk:
			if !send(Event{Chunk: v.Value.Bytes}) {
				return
			}

		case *types.ResponseStreamMemberTrace:
			if !send(Event{Trace: tracePartDocument(v.Value)}) {
				return
			}

		default:
			logger.Debug("ignoring agent stream event", slog.String("type", fmt.Sprintf("%T", raw)))
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		send(Event{Err: &StreamError{Err: err}})
	}
}
