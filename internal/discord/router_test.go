package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestInteractionKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data discordgo.ApplicationCommandInteractionData
		want string
	}{
		{
			name: "top-level command",
			data: discordgo.ApplicationCommandInteractionData{Name: "join"},
			want: "join",
		},
		{
			name: "command with subcommand",
			data: discordgo.ApplicationCommandInteractionData{
				Name: "config",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "show", Type: discordgo.ApplicationCommandOptionSubCommand},
				},
			},
			want: "config/show",
		},
		{
			name: "command with plain option",
			data: discordgo.ApplicationCommandInteractionData{
				Name: "ask",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "text", Type: discordgo.ApplicationCommandOptionString},
				},
			},
			want: "ask",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := interactionKey(tt.data); got != tt.want {
				t.Errorf("interactionKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandRouter_ApplicationCommands(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	join := &discordgo.ApplicationCommand{Name: "join"}
	ask := &discordgo.ApplicationCommand{Name: "ask"}
	noop := func(*discordgo.Session, *discordgo.InteractionCreate) {}

	r.RegisterCommand("join", join, noop)
	r.RegisterCommand("ask", ask, noop)
	// Subcommand handlers carry no definition and must not duplicate.
	r.RegisterHandler("ask/followup", noop)

	cmds := r.ApplicationCommands()
	if len(cmds) != 2 {
		t.Fatalf("ApplicationCommands() returned %d commands, want 2", len(cmds))
	}
	names := map[string]bool{}
	for _, c := range cmds {
		names[c.Name] = true
	}
	if !names["join"] || !names["ask"] {
		t.Fatalf("missing command definitions: %v", names)
	}
}
