package discord

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one slash-command interaction.
type HandlerFunc func(s *discordgo.Session, i *discordgo.InteractionCreate)

// CommandRouter maps slash-command interactions onto handlers. Routing keys
// are "command" for top-level commands and "command/subcommand" for nested
// ones.
type CommandRouter struct {
	mu          sync.RWMutex
	handlers    map[string]HandlerFunc
	definitions []*discordgo.ApplicationCommand
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{handlers: make(map[string]HandlerFunc)}
}

// RegisterCommand binds a handler to key and records cmd for API
// registration. Re-registering a command name replaces its definition.
func (r *CommandRouter) RegisterCommand(key string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[key] = handler
	for i, existing := range r.definitions {
		if existing.Name == cmd.Name {
			r.definitions[i] = cmd
			return
		}
	}
	r.definitions = append(r.definitions, cmd)
}

// RegisterHandler binds a handler to a subcommand key whose parent command
// definition is registered separately.
func (r *CommandRouter) RegisterHandler(key string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = handler
}

// ApplicationCommands returns the top-level command definitions to push to
// the Discord API.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*discordgo.ApplicationCommand(nil), r.definitions...)
}

// Handle routes an interaction to its handler. Non-command interactions are
// ignored; a command without a handler gets an ephemeral notice.
func (r *CommandRouter) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("discord: ignoring interaction type", "type", i.Type)
		return
	}

	key := interactionKey(i.ApplicationCommandData())

	r.mu.RLock()
	handler, ok := r.handlers[key]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("discord: unknown command", "key", key)
		RespondEphemeral(s, i, "Unknown command.")
		return
	}
	handler(s, i)
}

// interactionKey derives the routing key for a command interaction.
func interactionKey(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Name + "/" + data.Options[0].Name
	}
	return data.Name
}
