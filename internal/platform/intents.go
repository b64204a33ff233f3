package platform

import (
	"fmt"
	"sort"
	"strings"
)

// Gateway intents (https://discord.com/developers/docs/topics/gateway#gateway-intents)
const (
	IntentGuilds                 = 1 << 0
	IntentGuildMembers           = 1 << 1
	IntentGuildModeration        = 1 << 2
	IntentGuildEmojis            = 1 << 3
	IntentGuildIntegrations      = 1 << 4
	IntentGuildWebhooks          = 1 << 5
	IntentGuildInvites           = 1 << 6
	IntentGuildVoiceStates       = 1 << 7
	IntentGuildPresences         = 1 << 8
	IntentGuildMessages          = 1 << 9
	IntentGuildMessageReactions  = 1 << 10
	IntentGuildMessageTyping     = 1 << 11
	IntentDirectMessages         = 1 << 12
	IntentDirectMessageReactions = 1 << 13
	IntentDirectMessageTyping    = 1 << 14
	IntentMessageContent         = 1 << 15
	IntentGuildScheduledEvents   = 1 << 16
)

// DefaultIntents is what Nova needs to mirror guilds and filter spam.
const DefaultIntents = IntentGuilds | IntentGuildMembers | IntentGuildMessages |
	IntentGuildVoiceStates | IntentMessageContent

var intentNames = map[string]int{
	"guilds":                   IntentGuilds,
	"guild_members":            IntentGuildMembers,
	"members":                  IntentGuildMembers,
	"guild_moderation":         IntentGuildModeration,
	"moderation":               IntentGuildModeration,
	"guild_emojis":             IntentGuildEmojis,
	"emojis_and_stickers":      IntentGuildEmojis,
	"guild_integrations":       IntentGuildIntegrations,
	"guild_webhooks":           IntentGuildWebhooks,
	"guild_invites":            IntentGuildInvites,
	"guild_voice_states":       IntentGuildVoiceStates,
	"voice_states":             IntentGuildVoiceStates,
	"guild_presences":          IntentGuildPresences,
	"presences":                IntentGuildPresences,
	"guild_messages":           IntentGuildMessages,
	"guild_message_reactions":  IntentGuildMessageReactions,
	"guild_message_typing":     IntentGuildMessageTyping,
	"direct_messages":          IntentDirectMessages,
	"direct_message_reactions": IntentDirectMessageReactions,
	"direct_message_typing":    IntentDirectMessageTyping,
	"message_content":          IntentMessageContent,
	"guild_scheduled_events":   IntentGuildScheduledEvents,
}

// IntentsFromNames ORs named intents together. An empty list yields
// DefaultIntents.
func IntentsFromNames(names []string) (int, error) {
	if len(names) == 0 {
		return DefaultIntents, nil
	}

	var intents int
	var unknown []string
	for _, name := range names {
		bit, ok := intentNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		intents |= bit
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return 0, fmt.Errorf("unknown intents: %s", strings.Join(unknown, ", "))
	}
	return intents, nil
}
