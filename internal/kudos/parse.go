package kudos

import (
	"strings"

	"wherd.dev/eggbot/internal/event"
)

// Kudos is one point change parsed from a message.
type Kudos struct {
	UserID      string
	DisplayName string
	Delta       int
	// Prior is the user's score before Delta is applied.
	Prior int
}

func (k Kudos) Total() int {
	return k.Prior + k.Delta
}

// FindKudos returns one Kudos per mentioned user that is followed by +'s or -'s,
// in mention order.
func (e *Engine) FindKudos(msg *event.Message) ([]Kudos, error) {
	cfg, err := e.GetGuild(msg.GuildID)
	if err != nil {
		return nil, err
	}
	return findKudos(&cfg, msg), nil
}

func findKudos(cfg *GuildConfig, msg *event.Message) []Kudos {
	words := strings.Fields(msg.Content)

	var list []Kudos
	for _, mention := range msg.Mentions {
		delta, ok := calcDelta(words, mention.ID, cfg.Max)
		if !ok {
			continue
		}
		list = append(list, Kudos{
			UserID:      mention.ID,
			DisplayName: mention.Name,
			Delta:       delta,
			Prior:       cfg.Scores[mention.ID],
		})
	}
	return list
}

// calcDelta looks at the word after each mention of userID and counts its +'s
// against its -'s. The first such word holding either sign wins.
func calcDelta(words []string, userID string, maxDelta int) (int, bool) {
	for i, word := range words {
		if !mentions(word, userID) || i+1 >= len(words) {
			continue
		}

		next := words[i+1]
		if !strings.ContainsAny(next, "+-") {
			continue
		}

		return clamp(strings.Count(next, "+")-strings.Count(next, "-"), maxDelta), true
	}
	return 0, false
}

func mentions(word, userID string) bool {
	return strings.Contains(word, "<@"+userID+">") || strings.Contains(word, "<@!"+userID+">")
}

func clamp(delta, maxDelta int) int {
	if maxDelta <= 0 {
		return delta
	}
	return max(-maxDelta, min(delta, maxDelta))
}
