package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"lovelore/story"
)

const maxClassifierTurns = 4

const classifierSystemPrompt = "You decide whether the objective of an interactive story chapter has been achieved. " +
	"Reply with exactly one word: YES or NO. Do not explain."

// ObjectiveInput is what the classifier looks at.
type ObjectiveInput struct {
	Objective string
	// PriorTurns are the messages before the latest exchange; only the last four are used.
	PriorTurns    []story.Message
	UserInput     string
	AssistantText string
}

// Classifier asks a second, low-temperature completion whether the chapter
// objective is met. It fails closed: any error means "not completed".
type Classifier struct {
	llm LLMClient
	log *zap.Logger
}

func NewClassifier(llm LLMClient, log *zap.Logger) (*Classifier, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{llm: llm, log: log.Named("objective")}, nil
}

// Check returns true only when the model's answer contains YES. No retry.
func (c *Classifier) Check(ctx context.Context, in ObjectiveInput) bool {
	if strings.TrimSpace(in.Objective) == "" {
		return false
	}
	answer, err := c.llm.Complete(ctx, BuildObjectivePrompt(in))
	if err != nil {
		c.log.Warn("objective classification failed", zap.Error(err))
		return false
	}
	met := strings.Contains(strings.ToUpper(answer), "YES")
	c.log.Debug("objective classified", zap.String("answer", strings.TrimSpace(answer)), zap.Bool("met", met))
	return met
}

// BuildObjectivePrompt renders the exchange as a transcript so the model
// judges it instead of continuing the story.
func BuildObjectivePrompt(in ObjectiveInput) Prompt {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Chapter objective: %s\n", in.Objective))

	prior := lastN(in.PriorTurns, maxClassifierTurns)
	if len(prior) > 0 {
		sb.WriteString("\nEarlier in the chapter:\n")
		for _, m := range prior {
			sb.WriteString(fmt.Sprintf("%s: %s\n", speaker(m.Role), m.Content))
		}
	}
	sb.WriteString(fmt.Sprintf("\nReader's latest action: %s\n", in.UserInput))
	sb.WriteString(fmt.Sprintf("Narrator's latest reply: %s\n", in.AssistantText))
	sb.WriteString("\nHas the reader achieved the chapter objective? Answer YES or NO.")

	return Prompt{System: classifierSystemPrompt, User: sb.String()}
}

func speaker(r story.Role) string {
	switch r {
	case story.RoleAssistant:
		return "Narrator"
	case story.RoleSystem:
		return "Note"
	default:
		return "Reader"
	}
}
