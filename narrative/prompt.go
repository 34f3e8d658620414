package narrative

import (
	"fmt"
	"strings"

	"lovelore/provider"
	"lovelore/story"
)

// MaxPriorChapterMessages bounds how much of the previous chapter is replayed.
const MaxPriorChapterMessages = 4

// Prompt 表示发送给 LLM 的消息集合。
type Prompt struct {
	System  string
	User    string
	History []story.Message
}

// TurnInput is everything the context assembler needs for one turn.
type TurnInput struct {
	Prompt  string
	Chapter story.ChapterContext
	// History is the in-chapter conversation so far, oldest first.
	History []story.Message
	// Summary is the continuity summary of the previous chapter, if any.
	Summary string
	// PriorChapter holds the last messages of the previous chapter, oldest first.
	PriorChapter []story.Message
}

// BuildSystemPrompt sets the narrator's voice for a chapter.
func BuildSystemPrompt(ch story.ChapterContext, summary string) string {
	var sb strings.Builder
	if ch.StoryName != "" {
		sb.WriteString(fmt.Sprintf("You are the narrator of %q, an interactive romance story.\n", ch.StoryName))
	} else {
		sb.WriteString("You are the narrator of an interactive romance story.\n")
	}
	if ch.ChapterName != "" {
		sb.WriteString(fmt.Sprintf("Current chapter: %s\n", ch.ChapterName))
	}
	if ch.ChapterContext != "" {
		sb.WriteString(fmt.Sprintf("Chapter setting: %s\n", ch.ChapterContext))
	}
	if ch.ChapterObjective != "" {
		sb.WriteString(fmt.Sprintf("Chapter objective (steer toward it, never state it): %s\n", ch.ChapterObjective))
	}
	sb.WriteString("\nRules:\n")
	sb.WriteString("- Describe only what is happening: actions, dialogue, sensations, surroundings.\n")
	sb.WriteString("- Never end your reply with a question or prompt asking the reader what they do next.\n")
	sb.WriteString("- Never list, number or enumerate options or choices.\n")
	sb.WriteString("- React to the reader's action and keep the reply to a few short paragraphs.\n")
	if summary != "" {
		sb.WriteString("\n")
		sb.WriteString(summary)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// PriorChapterIntro introduces the replayed end of the previous chapter.
const PriorChapterIntro = "The following messages are the end of the previous chapter. Use them for continuity only."

// ChapterTransitionNote marks where the new chapter starts.
func ChapterTransitionNote(chapterName string) string {
	if chapterName == "" {
		return "The previous chapter has ended. A new chapter begins now."
	}
	return fmt.Sprintf("The previous chapter has ended. A new chapter begins now: %s.", chapterName)
}

// BuildMessages assembles the ordered message list for one narrative turn:
// system instruction, optional prior-chapter excerpt framed by two system
// notes, the in-chapter history and finally the new user turn.
func BuildMessages(in TurnInput) []provider.Message {
	prior := lastN(in.PriorChapter, MaxPriorChapterMessages)

	msgs := make([]provider.Message, 0, len(prior)+len(in.History)+4)
	msgs = append(msgs, provider.Message{Role: string(story.RoleSystem), Content: BuildSystemPrompt(in.Chapter, in.Summary)})

	if len(prior) > 0 {
		msgs = append(msgs, provider.Message{Role: string(story.RoleSystem), Content: PriorChapterIntro})
		for _, m := range prior {
			msgs = append(msgs, toWire(m))
		}
		msgs = append(msgs, provider.Message{Role: string(story.RoleSystem), Content: ChapterTransitionNote(in.Chapter.ChapterName)})
	}

	for _, m := range in.History {
		msgs = append(msgs, toWire(m))
	}
	msgs = append(msgs, provider.Message{Role: string(story.RoleUser), Content: in.Prompt})
	return msgs
}

func toWire(m story.Message) provider.Message {
	role := m.Role
	if role == "" {
		role = story.RoleUser
	}
	return provider.Message{Role: string(role), Content: m.Content}
}

// lastN keeps the newest n messages in their original order.
func lastN(msgs []story.Message, n int) []story.Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
