package bot

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"wherd.dev/eggbot/internal/config"
	"wherd.dev/eggbot/internal/configfile"
	"wherd.dev/eggbot/internal/event"
	"wherd.dev/eggbot/internal/kudos"
	"wherd.dev/eggbot/internal/metrics"
)

const kudosStore = "chatkudos.json"

// Module is a feature that subscribes its handlers to the registry.
type Module interface {
	Register(r *event.Registry)
}

type Bot struct {
	config *config.Config

	session  *discordgo.Session
	registry *event.Registry
	loop     *event.Loop
	metrics  *metrics.Metrics
	adapter  *adapter

	ctx    context.Context
	cancel context.CancelFunc

	mutex  sync.RWMutex
	stores []*configfile.File
}

func New(config *config.Config) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// setup builds the registry, event loop and modules. It does not touch the network.
func (b *Bot) setup() error {
	b.metrics = metrics.New()
	b.registry = event.NewRegistry(
		event.WithLogger(log.Default()),
		event.WithTimeout(b.config.HandlerTimeoutDuration()),
		event.WithRecorder(b.metrics),
	)
	b.loop = event.NewLoop(b.registry, b.config.QueueSize, b.config.GuildIdleTimeoutDuration(), log.Default())
	b.adapter = &adapter{
		publish:  b.loop.Publish,
		limiter:  newUserLimiter(b.config.RateLimit.MaxRequests, b.config.RateWindow()),
		prefixes: []string{kudos.CommandPrefix},
		logger:   log.Default(),
	}

	store, err := b.openStore(kudosStore)
	if err != nil {
		return err
	}
	engine, err := kudos.New(store, kudos.WithRecorder(b.metrics))
	if err != nil {
		return err
	}

	for _, m := range []Module{engine, b} {
		m.Register(b.registry)
	}
	return nil
}

// Register subscribes the bot's own housekeeping handlers.
func (b *Bot) Register(r *event.Registry) {
	r.Add(event.TypeMemberJoin, event.Typed(func(_ context.Context, m *event.Member) error {
		log.Infof("New member joined: %s (%s)", m.DisplayName, m.ID)
		return nil
	}))
	r.Add(event.TypeDisconnect, event.Typed(func(context.Context, event.Disconnect) error {
		return b.saveStores()
	}))
}

func (b *Bot) Run() error {
	if err := b.config.Validate(); err != nil {
		return err
	}

	if err := b.setup(); err != nil {
		return err
	}

	var err error
	if b.session, err = discordgo.New("Bot " + b.config.DiscordToken); err != nil {
		return err
	}

	// Handlers run in order on the gateway goroutine so the loop sees events in
	// arrival order.
	b.session.SyncEvents = true

	b.session.AddHandler(b.ready)
	b.session.AddHandler(b.guildCreate)
	b.session.AddHandler(b.memberJoin)
	b.session.AddHandler(b.messageCreate)
	b.session.AddHandler(b.disconnect)

	b.session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers

	go b.loop.Run(b.ctx)
	go b.autoSaveData(b.ctx)
	if b.config.MetricsAddr != "" {
		go func() {
			if err := b.metrics.Serve(b.ctx, b.config.MetricsAddr); err != nil {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	if err = b.session.Open(); err != nil {
		b.cancel()
		return err
	}

	log.Infof("Bot is running! Press Ctrl+C to exit")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	// Gracefully shutdown
	b.shutdown()
	return b.session.Close()
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	log.Infof("Bot logged in as %s", event.User.String())
	log.Infof("Bot is in %d servers", len(s.State.Guilds))

	if err := s.UpdateGameStatus(0, "kudos!help for commands"); err != nil {
		log.Errorf("Failed to update game status: %v", err)
	}
}

func (b *Bot) guildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	log.Infof("Joined server: %s (%d members)", event.Name, event.MemberCount)
}

func (b *Bot) memberJoin(s *discordgo.Session, event *discordgo.GuildMemberAdd) {
	b.adapter.memberJoin(b.ctx, selfID(s), event.Member)
}

func (b *Bot) messageCreate(s *discordgo.Session, event *discordgo.MessageCreate) {
	send := func(ctx context.Context, channelID, content string) error {
		_, err := s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
		return err
	}
	react := func(channelID, messageID, emoji string) error {
		return s.MessageReactionAdd(channelID, messageID, emoji)
	}

	b.adapter.message(b.ctx, selfID(s), s.State, send, react, event.Message)
}

func (b *Bot) disconnect(s *discordgo.Session, _ *discordgo.Disconnect) {
	log.Warn("Disconnected from gateway")
	b.adapter.disconnect(b.ctx)
}

func selfID(s *discordgo.Session) string {
	if s.State == nil || s.State.User == nil {
		return ""
	}
	return s.State.User.ID
}

func (b *Bot) shutdown() {
	log.Print("Initiating shutdown...")

	// Stop the event loop and background tasks
	b.cancel()

	// Set status to offline
	if b.session != nil {
		if err := b.session.UpdateGameStatus(0, "Shutting down..."); err != nil {
			log.Errorf("Failed to update game status during shutdown: %v", err)
		}
		time.Sleep(1 * time.Second) // Give time for status to update
	}

	// Save data before exiting
	if err := b.saveStores(); err != nil {
		log.Errorf("Failed to save data during shutdown: %v", err)
	}

	log.Print("Shutdown complete")
}
