// Package prompt builds the system and user prompts for a debate turn.
//
// All functions are pure and safe for concurrent use. Persona attributes are
// passed through verbatim; empty sections are omitted rather than rendered
// as empty labels.
package prompt

import (
	"fmt"
	"strings"

	"github.com/MrWong99/duologue/internal/persona"
	"github.com/MrWong99/duologue/internal/transcript"
)

// FallbackContent replaces a model reply that is empty after clean-up.
const FallbackContent = "I understand your point."

const systemPrompt = "You are an AI assistant that helps simulate conversations between influential leaders. " +
	"Respond naturally and in character. Keep responses to ONE SENTENCE only - be concise and direct. " +
	"When a user asks a question, acknowledge them by name and incorporate their question naturally into the ongoing discussion."

// System returns the system prompt shared by every turn.
func System() string {
	return systemPrompt
}

// Speaker returns the user prompt for a regular turn by p, answering
// counterpart on topic, given the transcript so far.
func Speaker(p, counterpart persona.Persona, topic string, history []transcript.Entry) string {
	var sb strings.Builder
	writeHeader(&sb, p, counterpart, topic)
	writeInstructions(&sb, p, topic, nil)
	writeHistory(&sb, history)
	fmt.Fprintf(&sb, "\n\nRespond as %s would naturally continue this conversation:", p.Name)
	return sb.String()
}

// Interjection returns the user prompt for a turn that answers an audience
// question. The speaker is asked to acknowledge author by name.
func Interjection(p, counterpart persona.Persona, topic, author, question string, history []transcript.Entry) string {
	var sb strings.Builder
	writeHeader(&sb, p, counterpart, topic)
	fmt.Fprintf(&sb, "\n\n%s has just asked: %q", author, question)
	writeInstructions(&sb, p, topic, &author)
	writeHistory(&sb, history)
	fmt.Fprintf(&sb, "\n\nRespond as %s would naturally continue this conversation, incorporating %s's question:", p.Name, author)
	return sb.String()
}

func writeHeader(sb *strings.Builder, p, counterpart persona.Persona, topic string) {
	fmt.Fprintf(sb, "You are %s, having a natural conversation about %q", p.Name, topic)
	if counterpart.Name != "" {
		fmt.Fprintf(sb, " with %s", counterpart.Name)
	}
	sb.WriteString(".")

	var lines []string
	add := func(label, value string) {
		if v := strings.TrimSpace(value); v != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", label, v))
		}
	}
	add("Personality", p.Personality)
	add("Background", p.Background)
	add("Speaking style", p.SpeakingStyle)
	add("Expertise", strings.Join(p.Expertise, ", "))
	add("Famous quotes", strings.Join(p.Quotes, " "))

	if len(lines) > 0 {
		sb.WriteString("\n\nYour characteristics:\n")
		sb.WriteString(strings.Join(lines, "\n"))
	}
}

func writeInstructions(sb *strings.Builder, p persona.Persona, topic string, author *string) {
	steps := []string{
		fmt.Sprintf("Respond as %s would naturally speak about this topic", p.Name),
		"Keep responses to ONE SENTENCE only - be concise and direct",
		"Reference your background, expertise, and speaking style",
		"Respond to what the other speaker just said, creating a natural flow",
		fmt.Sprintf("Stay focused on the topic: %s", topic),
		"Use your characteristic speaking style and personality",
		"Don't break character or mention that you're an AI",
	}
	if author != nil {
		steps = append(steps,
			fmt.Sprintf("Incorporate %s's question naturally into your response", *author),
			fmt.Sprintf("Acknowledge %s by name when responding to their question", *author),
			fmt.Sprintf("Continue the debate flow naturally after addressing %s's input", *author),
		)
	}

	sb.WriteString("\n\nInstructions:")
	for i, s := range steps {
		fmt.Fprintf(sb, "\n%d. %s", i+1, s)
	}
}

func writeHistory(sb *strings.Builder, history []transcript.Entry) {
	if len(history) == 0 {
		return
	}
	sb.WriteString("\n\nPrevious conversation context:")
	for _, e := range history {
		sb.WriteString("\n")
		sb.WriteString(HistoryLine(e))
	}
}

// HistoryLine renders one transcript entry as a context line.
func HistoryLine(e transcript.Entry) string {
	name := e.Name
	if name == "" {
		name = e.Speaker
	}
	if e.Kind == transcript.KindInterjection {
		return fmt.Sprintf("%s (audience): %s", name, e.Content)
	}
	return fmt.Sprintf("%s: %s", name, e.Content)
}
