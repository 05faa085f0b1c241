package notifier

import (
	"context"
	"fmt"
	"strings"

	botgolang "github.com/mail-ru-im/bot-golang"
)

// VKTeams sends messages with URL buttons through a VK Teams bot.
type VKTeams struct {
	bot    *botgolang.Bot
	chatID string
}

// NewVKBot connects a bot. apiURL may be empty for the public endpoint.
func NewVKBot(token, apiURL string) (*botgolang.Bot, error) {
	var opts []botgolang.BotOption
	if apiURL != "" {
		opts = append(opts, botgolang.BotApiURL(apiURL))
	}
	bot, err := botgolang.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect vk teams bot: %w", err)
	}
	return bot, nil
}

func NewVKTeams(bot *botgolang.Bot, chatID string) *VKTeams {
	return &VKTeams{bot: bot, chatID: chatID}
}

func (v *VKTeams) Name() string { return "vkteams" }

func (v *VKTeams) Send(ctx context.Context, msg Message) error {
	message := v.bot.NewTextMessage(v.chatID, RenderText(msg))

	keyboard := botgolang.NewKeyboard()
	if msg.Kind == KindPending {
		keyboard.AddRow(
			botgolang.NewURLButton("✅ Approve", msg.Links.Approve),
			botgolang.NewURLButton("❌ Reject", msg.Links.Reject),
		)
	}
	if msg.Links.View != "" {
		keyboard.AddRow(botgolang.NewURLButton("📄 View invoice", msg.Links.View))
	}
	message.AttachInlineKeyboard(keyboard)

	errCh := make(chan error, 1)
	go func() { errCh <- message.Send() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RenderText formats msg as plain chat text.
func RenderText(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", msg.Title)
	fmt.Fprintf(&b, "File: %s\n", msg.FileName)
	fmt.Fprintf(&b, "Invoice: %s (%s)\n", msg.InvoiceNumber, msg.InvoiceDate)
	fmt.Fprintf(&b, "Category: %s\n", msg.Category)
	fmt.Fprintf(&b, "Total: %s\n", msg.TotalAmount)
	if msg.Kind == KindPending {
		fmt.Fprintf(&b, "Items (%d):\n", msg.ItemCount)
		for _, it := range msg.Items {
			fmt.Fprintf(&b, "  %s\n", it)
		}
	} else {
		fmt.Fprintf(&b, "Decided by %s after %s\n", msg.DecidedBy, msg.Elapsed)
	}
	if len(msg.Reasons) > 0 {
		b.WriteString("\n")
		for _, r := range msg.Reasons {
			fmt.Fprintf(&b, "• %s\n", r)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
