package infrastructure

import (
	"context"
	"fmt"
	"time"

	"coffers/domain/entities"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

const (
	colorInfo = 0x3498DB // Blue
	// Discord rejects embed descriptions longer than this
	maxEmbedDescription = 4096
)

// DiscordChannelSender is the part of *discordgo.Session the notifier needs
type DiscordChannelSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts player notifications to a single Discord channel
type DiscordNotifier struct {
	sender    DiscordChannelSender
	channelID string
	now       func() time.Time
}

// NewDiscordSession creates a REST-only bot session; no gateway connection is opened
func NewDiscordSession(token string) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	return dg, nil
}

// NewDiscordNotifier creates a notifier posting to channelID
func NewDiscordNotifier(sender DiscordChannelSender, channelID string) *DiscordNotifier {
	return &DiscordNotifier{
		sender:    sender,
		channelID: channelID,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Notify posts message as an embed addressed to playerName
func (n *DiscordNotifier) Notify(ctx context.Context, playerName string, message string) error {
	if len(message) > maxEmbedDescription {
		message = message[:maxEmbedDescription-3] + "..."
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Ledger notice for %s", entities.NormalizeName(playerName)),
		Description: message,
		Color:       colorInfo,
		Timestamp:   n.now().Format(time.RFC3339),
	}

	msg, err := n.sender.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send Discord notification: %w", err)
	}

	log.WithFields(log.Fields{
		"player":    playerName,
		"channel":   n.channelID,
		"messageID": msg.ID,
	}).Debug("Sent Discord notification")
	return nil
}
