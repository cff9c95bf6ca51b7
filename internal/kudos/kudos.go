// Package kudos implements ChatKudos: members give and take points by following
// a mention with +'s or -'s, and guilds tune it with kudos! commands.
package kudos

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"wherd.dev/eggbot/internal/event"
)

const (
	ModuleName    = "ChatKudos"
	ModuleVersion = "1.0.0"
)

// Store is the configuration store the engine keeps its segments in.
type Store interface {
	Empty() bool
	Has(key string) bool
	Decode(key string, v any) (bool, error)
	Create(key string, value any) error
	Update(key string, value any) error
	Save() error
}

// Recorder receives applied point changes.
type Recorder interface {
	KudosApplied(delta int)
}

type Engine struct {
	store    Store
	logger   *log.Logger
	recorder Recorder

	mu     sync.Mutex
	guilds map[string]*sync.Mutex
}

type Option func(*Engine)

func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithRecorder(rec Recorder) Option {
	return func(e *Engine) {
		e.recorder = rec
	}
}

// New creates the engine over store. An empty store is stamped with the module
// name and version; a stamp that does not match is only warned about.
func New(store Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:  store,
		logger: log.Default(),
		guilds: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if store.Empty() {
		if err := store.Create("module", ModuleName); err != nil {
			return nil, err
		}
		if err := store.Create("version", ModuleVersion); err != nil {
			return nil, err
		}
		if err := store.Save(); err != nil {
			return nil, err
		}
		return e, nil
	}

	var name, version string
	if _, err := store.Decode("module", &name); err != nil || name != ModuleName {
		e.logger.Warn("ChatKudos config module name mismatch", "found", name)
	}
	if _, err := store.Decode("version", &version); err != nil || version != ModuleVersion {
		e.logger.Warn("ChatKudos config version mismatch", "found", version)
	}

	return e, nil
}

// Register subscribes the engine to message events.
func (e *Engine) Register(r *event.Registry) {
	r.Add(event.TypeMessage, event.Typed(e.OnMessage))
}

// lockGuild serialises read-modify-save cycles on one guild's config.
func (e *Engine) lockGuild(guildID string) func() {
	e.mu.Lock()
	m, ok := e.guilds[guildID]
	if !ok {
		m = &sync.Mutex{}
		e.guilds[guildID] = m
	}
	e.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// OnMessage handles a chat message: commands, then mention kudos.
func (e *Engine) OnMessage(ctx context.Context, msg *event.Message) error {
	if msg.Content == "" || !msg.Text || msg.GuildID == "" {
		return nil
	}

	start := time.Now()
	e.logger.Debug("[START] onmessage - ChatKudos", "id", event.EventID(ctx))
	defer func() {
		e.logger.Debug("[FINISH] onmessage - ChatKudos", "took", time.Since(start))
	}()

	if strings.HasPrefix(msg.Content, CommandPrefix) {
		reply, err := e.HandleCommand(msg)
		if err != nil {
			return err
		}
		if reply != "" {
			e.send(ctx, msg, reply)
		}
		return nil
	}

	if len(msg.Mentions) == 0 {
		return nil
	}

	list, cfg, err := e.score(msg)
	if err != nil {
		return err
	}

	e.announce(ctx, msg, &cfg, list)
	return nil
}

// HandleCommand runs the kudos! command in msg and flushes the store. Unknown
// commands and messages without a guild produce no reply.
func (e *Engine) HandleCommand(msg *event.Message) (string, error) {
	fields := strings.Fields(msg.Content)
	if len(fields) == 0 {
		return "", nil
	}
	token := fields[0]

	cmd, ok := commands[token]
	if !ok {
		e.logger.Error("Unknown command", "command", token)
		return "", nil
	}
	if msg.GuildID == "" {
		e.logger.Error("Command outside of a guild", "command", token)
		return "", nil
	}

	unlock := e.lockGuild(msg.GuildID)
	defer unlock()

	cfg, err := e.GetGuild(msg.GuildID)
	if err != nil {
		return "", err
	}
	if !e.permitted(&cfg, &msg.Author) {
		e.logger.Debug("Command from member not on allow list", "guild", msg.GuildID, "user", msg.Author.ID)
		return "", nil
	}

	args := strings.TrimSpace(strings.TrimPrefix(msg.Content, token))
	reply, changed := cmd(&cfg, msg, args)
	if !changed {
		return reply, nil
	}

	if err := e.SaveGuild(msg.GuildID, cfg); err != nil {
		return "", err
	}
	if err := e.store.Save(); err != nil {
		return reply, fmt.Errorf("%s: %w", token, err)
	}

	return reply, nil
}

func (e *Engine) permitted(cfg *GuildConfig, author *event.Member) bool {
	return author.Admin || cfg.Allowed(author.ID, author.Roles)
}

// score finds and applies the kudos in msg under the guild lock. It returns the
// applied kudos and the config they were read against.
func (e *Engine) score(msg *event.Message) ([]Kudos, GuildConfig, error) {
	unlock := e.lockGuild(msg.GuildID)
	defer unlock()

	cfg, err := e.GetGuild(msg.GuildID)
	if err != nil {
		return nil, GuildConfig{}, err
	}
	if !e.permitted(&cfg, &msg.Author) {
		return nil, cfg, nil
	}

	list := findKudos(&cfg, msg)
	if len(list) == 0 {
		return nil, cfg, nil
	}

	if err := e.applyKudos(msg.GuildID, list); err != nil {
		return nil, cfg, err
	}
	if err := e.store.Save(); err != nil {
		return nil, cfg, err
	}
	e.record(list)

	return list, cfg, nil
}

// ApplyKudos adds every delta in list to the guild's scores in one read and one write.
func (e *Engine) ApplyKudos(guildID string, list []Kudos) error {
	unlock := e.lockGuild(guildID)
	defer unlock()

	if err := e.applyKudos(guildID, list); err != nil {
		return err
	}
	e.record(list)
	return nil
}

func (e *Engine) applyKudos(guildID string, list []Kudos) error {
	cfg, err := e.GetGuild(guildID)
	if err != nil {
		return err
	}

	for _, k := range list {
		cfg.Scores[k.UserID] += k.Delta
	}

	return e.SaveGuild(guildID, cfg)
}

// record reports persisted kudos to the recorder.
func (e *Engine) record(list []Kudos) {
	if e.recorder == nil {
		return
	}
	for _, k := range list {
		e.recorder.KudosApplied(k.Delta)
	}
}

// AnnounceKudos sends one message per kudos using the guild's gain/loss templates.
func (e *Engine) AnnounceKudos(ctx context.Context, msg *event.Message, list []Kudos) error {
	cfg, err := e.GetGuild(msg.GuildID)
	if err != nil {
		return err
	}

	e.announce(ctx, msg, &cfg, list)
	return nil
}

func (e *Engine) announce(ctx context.Context, msg *event.Message, cfg *GuildConfig, list []Kudos) {
	for _, k := range list {
		e.send(ctx, msg, render(cfg, k))
	}
}

func render(cfg *GuildConfig, k Kudos) string {
	template := cfg.GainMessage
	points := k.Delta
	if k.Delta < 0 {
		template = cfg.LossMessage
		points = -k.Delta
	}

	return strings.NewReplacer(
		"[POINTS]", strconv.Itoa(points),
		"[NICKNAME]", k.DisplayName,
		"[NAME]", k.DisplayName,
		"[TOTAL]", strconv.Itoa(k.Total()),
	).Replace(template)
}

func (e *Engine) send(ctx context.Context, msg *event.Message, text string) {
	if msg.Reply == nil {
		return
	}
	if err := msg.Reply(ctx, text); err != nil {
		e.logger.Error("Failed to send message", "channel", msg.ChannelID, "err", err)
	}
}
