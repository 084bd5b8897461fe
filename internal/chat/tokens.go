package chat

import "unicode/utf8"

// Turn is one completed user/assistant exchange from the session.
type Turn struct {
	User      string
	Assistant string
}

// HistoryBudget bounds how much session history enters the prompt.
type HistoryBudget struct {
	MaxExchanges int // Newest exchanges kept, 6 by default
	MaxTokens    int // Estimated token ceiling across kept exchanges
}

// estimateTokens provides a rough token count. Rune count divided by 2
// is a conservative estimate for both English and CJK text.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

func turnTokens(t Turn) int {
	return estimateTokens(t.User) + estimateTokens(t.Assistant)
}

// truncateHistory keeps the newest MaxExchanges turns that together
// fit in MaxTokens, preserving chronological order. Oldest turns are
// dropped first.
func truncateHistory(turns []Turn, budget HistoryBudget) []Turn {
	if budget.MaxExchanges > 0 && len(turns) > budget.MaxExchanges {
		turns = turns[len(turns)-budget.MaxExchanges:]
	}
	if budget.MaxTokens <= 0 {
		return turns
	}

	remaining := budget.MaxTokens
	cut := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := turnTokens(turns[i])
		if cost > remaining {
			break
		}
		remaining -= cost
		cut = i
	}
	return turns[cut:]
}
