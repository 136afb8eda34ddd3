package rag

import (
	"slices"

	"docchat-backend/internal/conversations"
	"docchat-backend/internal/llm"
	"docchat-backend/internal/retrieval"
)

// Window is the generation input assembled from chunks and history.
type Window struct {
	Context []string
	History []llm.Turn
	// Sources are the chunk indices that made it into Context.
	Sources []int
}

// Assemble fills a character budget with retrieved chunks first, in rank
// order, then with the newest history turns. History is dropped oldest
// first; the first chunk that does not fit is truncated and the rest are
// dropped. A budget <= 0 means unbounded.
func Assemble(chunks []retrieval.Chunk, history []conversations.Message, maxTurns, budget int, prompt string) Window {
	unbounded := budget <= 0
	remaining := budget - runeLen(prompt)

	var w Window
	for _, c := range chunks {
		n := runeLen(c.Text)
		if unbounded || n <= remaining {
			w.Context = append(w.Context, c.Text)
			w.Sources = append(w.Sources, c.Index)
			remaining -= n
			continue
		}
		if remaining > 0 {
			w.Context = append(w.Context, string([]rune(c.Text)[:remaining]))
			w.Sources = append(w.Sources, c.Index)
			remaining = 0
		}
		break
	}

	if maxTurns > 0 && len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		n := runeLen(m.Content)
		if !unbounded && n > remaining {
			break
		}
		w.History = append(w.History, llm.Turn{Role: llm.Role(m.Role), Content: m.Content})
		remaining -= n
	}
	slices.Reverse(w.History)
	return w
}

func runeLen(s string) int {
	return len([]rune(s))
}
