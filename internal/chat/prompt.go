package chat

import (
	"strings"

	"github.com/firebase/genkit/go/ai"
)

// noContextText fills the context section when retrieval found nothing
// relevant. The generator still runs; its rules force the honest "not
// in my documents" reply.
const noContextText = "No relevant documents found."

// systemInstruction is the strict knowledge-base prompt. The model may
// answer only from the CONTEXT section appended below it.
const systemInstruction = `You are a specialized Knowledge Base Assistant.

STRICT RULES:
1. Answer ONLY using the provided CONTEXT.
2. If the answer is not in the context, say EXACTLY: "I don't have that information in the provided documents."
3. DO NOT use outside knowledge.

FORMATTING RULES (ENFORCED):
- NEVER include time-of-day salutations or casual greetings at the start (e.g., "Good morning", "Hello", "Hi").
- DO NOT include closing courtesies or generic closers such as "How may I assist you?" or "How can I help?".
- When listing types, categories, features, advantages, steps, or differences, RETURN ONLY A BULLETED LIST when there are multiple items.
  * Use short, concise bullet items (one sentence each).
  * If a brief explanation is necessary, include at most one short sentence (no more than 20 words) before the bullets.
- Avoid long paragraphs. If the answer is a single short sentence, return it as-is (no more than 25 words).
- Use markdown-friendly bullets ("- ") and do not use emoji or decorative characters.
- Do not invent examples or recommendations beyond the provided CONTEXT.`

// buildSystem renders the system prompt with the retrieved contexts.
func buildSystem(contexts []Context) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\nCONTEXT:\n")
	if len(contexts) == 0 {
		b.WriteString(noContextText)
		return b.String()
	}
	for i, c := range contexts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(c.Snippet)
	}
	return b.String()
}

// buildMessages converts bounded history plus the current question
// into the generation message list, oldest first.
func buildMessages(history []Turn, question string) []*ai.Message {
	messages := make([]*ai.Message, 0, 2*len(history)+1)
	for _, turn := range history {
		messages = append(messages,
			ai.NewUserTextMessage(turn.User),
			ai.NewModelTextMessage(turn.Assistant),
		)
	}
	return append(messages, ai.NewUserTextMessage(question))
}
