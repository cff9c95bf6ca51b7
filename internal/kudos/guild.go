package kudos

import (
	"fmt"
	"slices"
)

const (
	defaultMax         = 5
	defaultGainMessage = "[POINTS] to [NICKNAME]! That gives them [TOTAL] total!"
	defaultLossMessage = "[POINTS] from [NICKNAME]! That leaves them [TOTAL] total!"
)

// GuildConfig is the per-guild kudos state stored under the guild ID.
type GuildConfig struct {
	Roles []string `json:"roles"`
	Users []string `json:"users"`
	// Max caps the points one mention can change in one message. Zero or less is unlimited.
	Max         int            `json:"max"`
	Lock        bool           `json:"lock"`
	GainMessage string         `json:"gain_message"`
	LossMessage string         `json:"loss_message"`
	Scores      map[string]int `json:"scores"`
}

func DefaultGuildConfig() GuildConfig {
	return GuildConfig{
		Roles:       []string{},
		Users:       []string{},
		Max:         defaultMax,
		GainMessage: defaultGainMessage,
		LossMessage: defaultLossMessage,
		Scores:      map[string]int{},
	}
}

func (c *GuildConfig) normalize() {
	if c.Roles == nil {
		c.Roles = []string{}
	}
	if c.Users == nil {
		c.Users = []string{}
	}
	if c.Scores == nil {
		c.Scores = map[string]int{}
	}
	if c.GainMessage == "" {
		c.GainMessage = defaultGainMessage
	}
	if c.LossMessage == "" {
		c.LossMessage = defaultLossMessage
	}
}

// Allowed reports whether a user with the given roles may use kudos in this guild.
func (c *GuildConfig) Allowed(userID string, roles []string) bool {
	if !c.Lock || slices.Contains(c.Users, userID) {
		return true
	}
	for _, role := range roles {
		if slices.Contains(c.Roles, role) {
			return true
		}
	}
	return false
}

// toggle removes id from list when present and appends it otherwise. It reports
// whether id is now present.
func toggle(list []string, id string) ([]string, bool) {
	if i := slices.Index(list, id); i >= 0 {
		return slices.Delete(list, i, i+1), false
	}
	return append(list, id), true
}

// GetGuild returns the stored config for guildID, or defaults when none is stored.
func (e *Engine) GetGuild(guildID string) (GuildConfig, error) {
	cfg := DefaultGuildConfig()
	if _, err := e.store.Decode(guildID, &cfg); err != nil {
		return GuildConfig{}, fmt.Errorf("get guild %s: %w", guildID, err)
	}
	cfg.normalize()
	return cfg, nil
}

// SaveGuild writes cfg under guildID. The store still has to be saved to reach disk.
func (e *Engine) SaveGuild(guildID string, cfg GuildConfig) error {
	cfg.normalize()

	var err error
	if e.store.Has(guildID) {
		err = e.store.Update(guildID, cfg)
	} else {
		err = e.store.Create(guildID, cfg)
	}
	if err != nil {
		return fmt.Errorf("save guild %s: %w", guildID, err)
	}
	return nil
}
