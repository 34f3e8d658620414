package narrative

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"lovelore/provider"
	"lovelore/stream"
)

// ErrEmptyNarration means the provider finished the stream without any text.
var ErrEmptyNarration = errors.New("narrative: provider returned no narration")

// Status is the outcome of one narrative turn.
type Status string

const (
	// StatusSuccess: the stream completed and the objective was classified.
	StatusSuccess Status = "success"
	// StatusPartial: the stream broke after some content was delivered.
	StatusPartial Status = "partial"
	// StatusFailed: nothing usable was produced.
	StatusFailed Status = "failed"
)

// Result is what a turn produces.
type Result struct {
	Status             Status `json:"status"`
	Content            string `json:"content"`
	ObjectiveCompleted bool   `json:"objective_completed"`
}

// Transport opens a streamed chat completion.
type Transport interface {
	Stream(ctx context.Context, req provider.ChatRequest) (io.ReadCloser, error)
}

// ObjectiveChecker decides whether a chapter objective was met.
type ObjectiveChecker interface {
	Check(ctx context.Context, in ObjectiveInput) bool
}

// NarratorOptions tune the primary completion.
type NarratorOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Logger      *zap.Logger
}

// Narrator streams one narrative reply and then classifies the objective.
// The two calls are sequential since classification needs the full reply.
type Narrator struct {
	transport  Transport
	classifier ObjectiveChecker
	opts       NarratorOptions
	log        *zap.Logger
}

// NewNarrator builds a Narrator. classifier may be nil, in which case
// objectives are never reported as completed.
func NewNarrator(transport Transport, classifier ObjectiveChecker, opts NarratorOptions) (*Narrator, error) {
	if transport == nil {
		return nil, errors.New("chat transport is required")
	}
	if opts.Model == "" {
		return nil, errors.New("narrator model is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Narrator{
		transport:  transport,
		classifier: classifier,
		opts:       opts,
		log:        log.Named("narrator"),
	}, nil
}

// Generate runs context assembly, the streamed completion and the objective
// check. onDelta is called synchronously for every piece of narration.
//
// A broken stream that already produced text yields StatusPartial with the
// text and the error; the caller decides whether to keep it.
func (n *Narrator) Generate(ctx context.Context, in TurnInput, onDelta func(string)) (Result, error) {
	req := provider.ChatRequest{
		Model:       n.opts.Model,
		Messages:    BuildMessages(in),
		Temperature: n.opts.Temperature,
		MaxTokens:   n.opts.MaxTokens,
		Stream:      true,
	}

	body, err := n.transport.Stream(ctx, req)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	defer body.Close()

	content, err := stream.Consume(body, onDelta)
	if err != nil {
		if content == "" {
			return Result{Status: StatusFailed}, err
		}
		n.log.Warn("narration stream interrupted", zap.Int("delivered", len(content)), zap.Error(err))
		return Result{Status: StatusPartial, Content: content}, err
	}
	if strings.TrimSpace(content) == "" {
		return Result{Status: StatusFailed}, ErrEmptyNarration
	}

	res := Result{Status: StatusSuccess, Content: content}
	if n.classifier != nil {
		res.ObjectiveCompleted = n.classifier.Check(ctx, ObjectiveInput{
			Objective:     in.Chapter.ChapterObjective,
			PriorTurns:    in.History,
			UserInput:     in.Prompt,
			AssistantText: content,
		})
	}
	return res, nil
}
