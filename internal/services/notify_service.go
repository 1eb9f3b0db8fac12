package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NotifyService sends vendor notifications for sales and low buyer balances
type NotifyService struct {
	db       *pgxpool.Pool
	settings *SettingsService
	discord  *discordgo.Session
	printer  *message.Printer
}

// NewNotifyService creates a new NotifyService with dynamic settings
func NewNotifyService(db *pgxpool.Pool, settings *SettingsService, botToken string) *NotifyService {
	var session *discordgo.Session
	if botToken != "" {
		s, err := discordgo.New("Bot " + botToken)
		if err == nil {
			session = s
		} else {
			log.Error().Err(err).Msg("Failed to initialize discordgo session in NotifyService")
		}
	}

	return &NotifyService{
		db:       db,
		settings: settings,
		discord:  session,
		printer:  message.NewPrinter(language.English),
	}
}

// SaleEvent represents a completed credit consumption against a vendor's tool
type SaleEvent struct {
	ToolID     uuid.UUID
	ToolName   string
	VendorID   uuid.UUID
	BuyerID    uuid.UUID
	Amount     int64
	Reason     string
	NewBalance int64
}

// NotifySale notifies the tool's vendor about a sale if they opted in
func (n *NotifyService) NotifySale(ctx context.Context, event SaleEvent) {
	enabled, _ := n.settings.GetForVendor(ctx, event.VendorID, "sale_notifications", "true")
	if enabled == "false" {
		return
	}

	content := fmt.Sprintf("💰 **%s** earned %s credits", event.ToolName, n.printer.Sprintf("%d", event.Amount))

	fields := []map[string]interface{}{
		{"name": "Credits", "value": n.printer.Sprintf("%d", event.Amount), "inline": true},
		{"name": "Buyer", "value": event.BuyerID.String(), "inline": true},
	}
	if event.Reason != "" {
		fields = append(fields, map[string]interface{}{
			"name": "Reason", "value": event.Reason, "inline": false,
		})
	}

	embed := map[string]interface{}{
		"title":     fmt.Sprintf("New sale: %s", event.ToolName),
		"color":     0x22C55E, // Green
		"fields":    fields,
		"footer":    map[string]interface{}{"text": "1Sub Vendor Alerts"},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	n.deliver(ctx, event.VendorID, content, embed)
	n.checkLowBalance(ctx, event)
}

// checkLowBalance warns the vendor when a buyer's balance drops under the
// configured threshold. Disabled unless the vendor set a threshold.
func (n *NotifyService) checkLowBalance(ctx context.Context, event SaleEvent) {
	enabled, _ := n.settings.GetForVendor(ctx, event.VendorID, "low_balance_alerts", "true")
	if enabled == "false" {
		return
	}

	raw, err := n.settings.GetForVendor(ctx, event.VendorID, "notify_threshold", "")
	if err != nil || raw == "" {
		return
	}
	threshold, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || threshold <= 0 || event.NewBalance >= threshold {
		return
	}

	content := fmt.Sprintf("⚠️ A **%s** user is down to %s credits", event.ToolName, n.printer.Sprintf("%d", event.NewBalance))

	embed := map[string]interface{}{
		"title": fmt.Sprintf("Low buyer balance: %s", event.ToolName),
		"color": 0xFFA500, // Orange
		"fields": []map[string]interface{}{
			{"name": "Balance", "value": n.printer.Sprintf("%d", event.NewBalance), "inline": true},
			{"name": "Threshold", "value": n.printer.Sprintf("%d", threshold), "inline": true},
			{"name": "User", "value": event.BuyerID.String(), "inline": false},
		},
		"footer":    map[string]interface{}{"text": "1Sub Vendor Alerts"},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	n.deliver(ctx, event.VendorID, content, embed)
}

// deliver fans a notification out to the vendor's Discord webhook and DM
func (n *NotifyService) deliver(ctx context.Context, vendorID uuid.UUID, content string, embed map[string]interface{}) {
	webhookURL, err := n.settings.GetForVendor(ctx, vendorID, "discord_webhook_url", "")
	if err == nil && webhookURL != "" {
		payload := map[string]interface{}{
			"content": content,
			"embeds":  []interface{}{embed},
		}

		jsonData, err := json.Marshal(payload)
		if err == nil {
			req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewBuffer(jsonData))
			if err == nil {
				req.Header.Set("Content-Type", "application/json")
				client := &http.Client{Timeout: 10 * time.Second}
				resp, err := client.Do(req)
				if err == nil {
					resp.Body.Close()
				}
			}
		}
	}

	if n.discord == nil {
		return
	}

	var discordID *string
	err = n.db.QueryRow(ctx, "SELECT discord_id FROM user_profiles WHERE id = $1", vendorID).Scan(&discordID)
	if err != nil || discordID == nil || *discordID == "" {
		return
	}

	channel, err := n.discord.UserChannelCreate(*discordID)
	if err != nil {
		log.Error().Err(err).Str("discord_id", *discordID).Msg("Failed to create DM channel")
		return
	}

	dmEmbed := n.toDiscordgoEmbed(embed)
	_, err = n.discord.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
		Content: content,
		Embeds:  []*discordgo.MessageEmbed{dmEmbed},
	})
	if err != nil {
		log.Error().Err(err).Str("discord_id", *discordID).Msg("Failed to send DM message")
	}
}

func (n *NotifyService) toDiscordgoEmbed(embed map[string]interface{}) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Footer:    &discordgo.MessageEmbedFooter{Text: "1Sub Vendor Alerts"},
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if title, ok := embed["title"].(string); ok {
		out.Title = title
	}
	if color, ok := embed["color"].(int); ok {
		out.Color = color
	}
	if fields, ok := embed["fields"].([]map[string]interface{}); ok {
		for _, f := range fields {
			name, _ := f["name"].(string)
			value, _ := f["value"].(string)
			inline, _ := f["inline"].(bool)
			out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline})
		}
	}
	return out
}
