package kudos

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"wherd.dev/eggbot/internal/event"
)

const (
	CommandPrefix = "kudos!"

	maxUsage   = "Usage: `kudos!max [N]` where N is a number."
	boardUsage = "Usage: `kudos!board [N]` where N is a positive number."

	defaultBoardSize = 10
)

const helpText = `**ChatKudos** gives and takes points from members.

Mention someone and follow the mention with +'s or -'s: ` + "`@name ++`" + `

` + "`kudos!board [N]`" + ` - show the top N holders (default 10)
` + "`kudos!max N`" + ` - max points per mention in one message, 0 for unlimited
` + "`kudos!gain <message>`" + ` - message shown on gain
` + "`kudos!loss <message>`" + ` - message shown on loss
` + "`kudos!user @user ...`" + ` - toggle users allowed while locked
` + "`kudos!role @role ...`" + ` - toggle roles allowed while locked
` + "`kudos!lock`" + ` - lock or unlock kudos to allowed users/roles
Server admins are never blocked by the lock.
Messages can use [POINTS], [NICKNAME] and [TOTAL].`

// Command runs against a guild's current config. It returns the reply text (empty
// for none) and whether cfg was changed and needs to be saved.
type Command func(cfg *GuildConfig, msg *event.Message, args string) (reply string, changed bool)

var commands = map[string]Command{
	"kudos!max":   SetMax,
	"kudos!gain":  SetGainMessage,
	"kudos!loss":  SetLossMessage,
	"kudos!user":  SetAllowLists,
	"kudos!role":  SetAllowLists,
	"kudos!lock":  ToggleLock,
	"kudos!help":  ShowHelp,
	"kudos!board": GenerateBoard,
}

// SetMax sets the max points one mention can change.
func SetMax(cfg *GuildConfig, _ *event.Message, args string) (string, bool) {
	n, err := strconv.Atoi(args)
	if err != nil {
		return maxUsage, false
	}

	cfg.Max = n
	if n > 0 {
		return fmt.Sprintf("Max points set to %d", n), true
	}
	return "Max points set to unlimited", true
}

func SetGainMessage(cfg *GuildConfig, _ *event.Message, args string) (string, bool) {
	if args == "" {
		return "", false
	}
	cfg.GainMessage = args
	return "Message has been set.", true
}

func SetLossMessage(cfg *GuildConfig, _ *event.Message, args string) (string, bool) {
	if args == "" {
		return "", false
	}
	cfg.LossMessage = args
	return "Message has been set.", true
}

// SetAllowLists toggles every mentioned user and role in the allow-lists.
func SetAllowLists(cfg *GuildConfig, msg *event.Message, _ string) (string, bool) {
	var changes []string

	for _, m := range msg.Mentions {
		var added bool
		cfg.Users, added = toggle(cfg.Users, m.ID)
		changes = append(changes, changeLabel(added, m.Name))
	}

	for _, m := range msg.RoleMentions {
		var added bool
		cfg.Roles, added = toggle(cfg.Roles, m.ID)
		changes = append(changes, changeLabel(added, m.Name))
	}

	if len(changes) == 0 {
		return "", false
	}
	return "Allow list changes: " + strings.Join(changes, ", "), true
}

func changeLabel(added bool, name string) string {
	if added {
		return "+" + name
	}
	return "-" + name
}

func ToggleLock(cfg *GuildConfig, _ *event.Message, _ string) (string, bool) {
	cfg.Lock = !cfg.Lock
	if cfg.Lock {
		return "ChatKudos is now locked. Only allowed users/roles can use it!", true
	}
	return "ChatKudos is now unlocked. **Everyone** can use it!", true
}

func ShowHelp(*GuildConfig, *event.Message, string) (string, bool) {
	return helpText, false
}

// GenerateBoard renders the top N scores, highest first.
func GenerateBoard(cfg *GuildConfig, msg *event.Message, args string) (string, bool) {
	count := defaultBoardSize
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 {
			return boardUsage, false
		}
		count = n
	}

	// Ascending by score, ties by ID descending, so popping from the end yields
	// the highest score first and tied IDs in ascending order.
	ids := make([]string, 0, len(cfg.Scores))
	for id := range cfg.Scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if cfg.Scores[ids[i]] != cfg.Scores[ids[j]] {
			return cfg.Scores[ids[i]] < cfg.Scores[ids[j]]
		}
		return ids[i] > ids[j]
	})

	lines := []string{fmt.Sprintf("Top %d ChatKudos holders:", count), "```"}
	for ; count > 0 && len(ids) > 0; count-- {
		id := ids[len(ids)-1]
		ids = ids[:len(ids)-1]

		name := id
		if msg.LookupMember != nil {
			if n, ok := msg.LookupMember(id); ok {
				name = n
			}
		}
		lines = append(lines, fmt.Sprintf("%5d | %-38s", cfg.Scores[id], name))
	}
	lines = append(lines, "```")

	return strings.Join(lines, "\n"), false
}
