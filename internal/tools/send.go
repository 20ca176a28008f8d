package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/legionruntime/legion/pkg/models"
)

// OutboundMessage is one message handed to the platform transport. Body is
// the message text, or the caption when MediaPath is set.
type OutboundMessage struct {
	Platform    string
	ContactName string
	Subject     string
	Body        string
	MediaPath   string
	Broadcast   bool
}

// Messenger delivers outbound platform messages after enforcing the agent's
// contact scope. Scope refusals and unknown contacts surface as errors for
// the recovery layer to classify.
type Messenger interface {
	Send(ctx context.Context, tctx *models.ToolContext, msg *OutboundMessage) (messageID string, err error)
}

func outboundTools(messenger Messenger) []Tool {
	return []Tool{
		sendTextTool(messenger, "sendTelegram", "telegram", "Send a Telegram message to a contact."),
		sendTextTool(messenger, "sendWhatsApp", "whatsapp", "Send a WhatsApp message to a contact."),
		sendEmailTool(messenger),
		sendMediaTool(messenger, "sendTelegramMedia", "telegram", "Send a photo or file over Telegram."),
		sendMediaTool(messenger, "sendWhatsAppMedia", "whatsapp", "Send a photo or file over WhatsApp."),
		broadcastTeamTool(messenger),
	}
}

func sendTextTool(messenger Messenger, id, platform, description string) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          id,
			Description: description,
			Required:    []string{"contactName", "message"},
			ParamDocs: map[string]string{
				"contactName": "Display name of the contact to message.",
				"message":     "The message text.",
			},
			Group:    GroupOutbound,
			Platform: platform,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				ContactName string `json:"contactName"`
				Message     string `json:"message"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			contact := strings.TrimSpace(input.ContactName)
			if contact == "" {
				return errResult("contactName is required"), nil
			}
			body := strings.TrimSpace(input.Message)
			if body == "" {
				return errResult("message is required"), nil
			}

			msgID, err := messenger.Send(ctx, tctx, &OutboundMessage{
				Platform:    platform,
				ContactName: contact,
				Body:        body,
			})
			if err != nil {
				return nil, fmt.Errorf("send %s: %w", platform, err)
			}
			return okResult(map[string]any{
				"messageId":   msgID,
				"platform":    platform,
				"contactName": contact,
			}), nil
		},
	}
}

func sendEmailTool(messenger Messenger) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "sendEmail",
			Description: "Send an email to a contact.",
			Required:    []string{"contactName", "subject", "body"},
			ParamDocs: map[string]string{
				"contactName": "Display name of the contact to email.",
				"subject":     "Email subject line.",
				"body":        "Email body text.",
			},
			Group:    GroupOutbound,
			Platform: "email",
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				ContactName string `json:"contactName"`
				Subject     string `json:"subject"`
				Body        string `json:"body"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			contact := strings.TrimSpace(input.ContactName)
			if contact == "" {
				return errResult("contactName is required"), nil
			}
			subject := strings.TrimSpace(input.Subject)
			if subject == "" {
				return errResult("subject is required"), nil
			}
			body := strings.TrimSpace(input.Body)
			if body == "" {
				return errResult("body is required"), nil
			}

			msgID, err := messenger.Send(ctx, tctx, &OutboundMessage{
				Platform:    "email",
				ContactName: contact,
				Subject:     subject,
				Body:        body,
			})
			if err != nil {
				return nil, fmt.Errorf("send email: %w", err)
			}
			return okResult(map[string]any{
				"messageId":   msgID,
				"platform":    "email",
				"contactName": contact,
			}), nil
		},
	}
}

func sendMediaTool(messenger Messenger, id, platform, description string) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          id,
			Description: description,
			Required:    []string{"contactName", "mediaPath"},
			Optional:    []string{"caption"},
			ParamDocs: map[string]string{
				"contactName": "Display name of the contact.",
				"mediaPath":   "Workspace path of the file to send.",
				"caption":     "Text shown with the media.",
			},
			Group:         GroupOutbound,
			Platform:      platform,
			SkillCategory: models.SkillCommunication,
			SkillLevel:    2,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				ContactName string `json:"contactName"`
				MediaPath   string `json:"mediaPath"`
				Caption     string `json:"caption"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			contact := strings.TrimSpace(input.ContactName)
			if contact == "" {
				return errResult("contactName is required"), nil
			}
			media := strings.TrimSpace(input.MediaPath)
			if media == "" {
				return errResult("mediaPath is required"), nil
			}

			msgID, err := messenger.Send(ctx, tctx, &OutboundMessage{
				Platform:    platform,
				ContactName: contact,
				Body:        strings.TrimSpace(input.Caption),
				MediaPath:   media,
			})
			if err != nil {
				return nil, fmt.Errorf("send %s media: %w", platform, err)
			}
			return okResult(map[string]any{
				"messageId":   msgID,
				"platform":    platform,
				"contactName": contact,
				"mediaPath":   media,
			}), nil
		},
	}
}

func broadcastTeamTool(messenger Messenger) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "broadcastTeam",
			Description: "Send the same message to every team member.",
			Required:    []string{"message"},
			ParamDocs: map[string]string{
				"message": "The message text to broadcast.",
			},
			Group:         GroupOutbound,
			SkillCategory: models.SkillCommunication,
			SkillLevel:    3,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Message string `json:"message"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			body := strings.TrimSpace(input.Message)
			if body == "" {
				return errResult("message is required"), nil
			}

			msgID, err := messenger.Send(ctx, tctx, &OutboundMessage{
				Body:      body,
				Broadcast: true,
			})
			if err != nil {
				return nil, fmt.Errorf("broadcast: %w", err)
			}
			return okResult(map[string]any{"messageId": msgID, "broadcast": true}), nil
		},
	}
}
