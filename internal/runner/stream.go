package runner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anotherai/gateway/internal/domain"
	"github.com/anotherai/gateway/internal/pipeline"
	"github.com/anotherai/gateway/internal/providers"
	"github.com/anotherai/gateway/internal/schema"
)

// Chunk is one increment of a streamed run. Delta carries what changed;
// Aggregate the accumulated output so far. Both are always populated.
// When the version has an output schema, Updates lists the JSON leaves
// completed by this chunk and PartialOutput the object decoded so far.
type Chunk struct {
	Delta     []domain.ContentPart
	Aggregate []domain.ContentPart

	Updates       []schema.StreamUpdate
	PartialOutput any

	// Done marks the final chunk, which carries the finished completion.
	Done       bool
	Completion *domain.AgentCompletion
	Error      *domain.RunError
}

// chunkEmitter receives intermediate chunks during a streamed run.
type chunkEmitter func(*Chunk)

// Stream executes the request, delivering incremental chunks over the
// returned channel. A model/tool combination the adapter cannot stream
// falls back to unary execution surfaced as a single final chunk. The
// channel always closes after a Done chunk.
func (r *Runner) Stream(ctx context.Context, req Request) <-chan *Chunk {
	out := make(chan *Chunk)

	go func() {
		defer close(out)

		started := time.Now()
		completion := r.newCompletion(req)

		emit := func(c *Chunk) {
			select {
			case out <- c:
			case <-ctx.Done():
			}
		}

		output, runErr := r.runLoop(ctx, req, completion, emit)
		completion.Duration = time.Since(started)
		if runErr != nil {
			completion.Error = runErr
		} else {
			completion.Output = output
		}
		r.finalize(ctx, completion)

		final := &Chunk{Done: true, Completion: completion, Error: runErr}
		if len(output) > 0 {
			final.Aggregate = output[len(output)-1].Content
		}
		emit(final)
	}()

	return out
}

// streamingContext accumulates one streamed provider call: the output
// streamer (JSON parser or raw text), the reasoning accumulator, and the
// tool-call buffer keyed by stream index.
type streamingContext struct {
	parser *schema.JSONStreamParser

	emit         chunkEmitter
	outputSchema bool
}

func newStreamingContext(version domain.Version, emit chunkEmitter) *streamingContext {
	sc := &streamingContext{emit: emit, outputSchema: version.HasOutputSchema()}
	if sc.outputSchema {
		sc.parser = schema.NewJSONStreamParser()
	}
	return sc
}

// onChunk forwards one adapter chunk, enriching it with partial JSON
// updates when an output schema is in play. The adapter's own final chunk
// is suppressed; the runner emits the real final chunk once validation
// and pricing are done.
func (sc *streamingContext) onChunk(c *providers.CompletionChunk) {
	if c.Done {
		return
	}

	chunk := &Chunk{Delta: c.Delta, Aggregate: c.Aggregate}
	if sc.parser != nil {
		for _, part := range c.Delta {
			if part.Kind == domain.PartText && part.Text != "" {
				chunk.Updates = append(chunk.Updates, sc.parser.Feed(part.Text)...)
			}
		}
		chunk.PartialOutput = sc.parser.Value()
	}
	sc.emit(chunk)
}

func (sc *streamingContext) finish() {
	if sc.parser != nil {
		sc.parser.Finish()
	}
}

// invokeStreaming performs one streaming provider round trip, forwarding
// intermediate chunks and returning the aggregated final output.
func (r *Runner) invokeStreaming(ctx context.Context, attempt *pipeline.Attempt, creq *providers.CompletionRequest, emit chunkEmitter) ([]domain.ContentPart, domain.LLMUsage, error) {
	chunks, err := attempt.Adapter.Stream(ctx, creq)
	if err != nil {
		return nil, domain.LLMUsage{}, err
	}

	sc := newStreamingContext(versionFromRequest(creq), emit)

	var final []domain.ContentPart
	var usage domain.LLMUsage
	var streamErr error
	for c := range chunks {
		if c.Error != nil {
			streamErr = c.Error
			// Keep the usage from the terminal frame: a stream ending in
			// max_tokens still reports billable tokens.
			if c.Usage != (domain.LLMUsage{}) {
				usage = c.Usage
			}
			continue
		}
		if c.Usage != (domain.LLMUsage{}) {
			usage = c.Usage
		}
		if len(c.Aggregate) > 0 {
			final = c.Aggregate
		}
		sc.onChunk(c)
	}
	sc.finish()

	if streamErr != nil {
		return nil, usage, streamErr
	}
	return final, usage, nil
}

// versionFromRequest reconstructs the pieces of the version the streaming
// context cares about from the already-built provider request.
func versionFromRequest(creq *providers.CompletionRequest) domain.Version {
	return domain.Version{OutputSchema: json.RawMessage(creq.OutputSchema)}
}
