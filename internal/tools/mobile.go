package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// MobileRecord is one SMS or notification read from a paired phone.
type MobileRecord struct {
	From string    `json:"from,omitempty"`
	App  string    `json:"app,omitempty"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// MobileQuerier reads message history from a paired phone.
type MobileQuerier interface {
	QuerySMS(ctx context.Context, deviceID, query string, limit int) ([]MobileRecord, error)
	QueryNotifications(ctx context.Context, deviceID, app string, limit int) ([]MobileRecord, error)
}

const defaultMobileResults = 10

func mobileTools(mobile MobileQuerier, devices store.DeviceStore) []Tool {
	return []Tool{querySMSTool(mobile, devices), queryNotificationsTool(mobile, devices)}
}

func querySMSTool(mobile MobileQuerier, devices store.DeviceStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "querySMS",
			Description: "Read recent SMS messages from the user's paired phone.",
			Optional:    []string{"query", "deviceName", "limit"},
			ParamDocs: map[string]string{
				"query":      "Filter messages containing this text.",
				"deviceName": "Which phone; defaults to the only paired one.",
				"limit":      "How many messages to return (default 10).",
			},
			ParamTypes: map[string]string{"limit": "integer"},
			Group:      GroupMobile,
			Safe:       true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Query      string `json:"query"`
				DeviceName string `json:"deviceName"`
				Limit      int    `json:"limit"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			device, fail, err := resolveMobile(ctx, devices, tctx, strings.TrimSpace(input.DeviceName))
			if err != nil || fail != nil {
				return fail, err
			}
			limit := input.Limit
			if limit <= 0 {
				limit = defaultMobileResults
			}

			records, err := mobile.QuerySMS(ctx, device.ID, strings.TrimSpace(input.Query), limit)
			if err != nil {
				return nil, fmt.Errorf("query sms: %w", err)
			}
			return okResult(map[string]any{
				"device":   device.Name,
				"count":    len(records),
				"messages": records,
			}), nil
		},
	}
}

func queryNotificationsTool(mobile MobileQuerier, devices store.DeviceStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "queryNotifications",
			Description: "Read recent app notifications from the user's paired phone.",
			Optional:    []string{"app", "deviceName", "limit"},
			ParamDocs: map[string]string{
				"app":        "Filter to one app, for example 'whatsapp'.",
				"deviceName": "Which phone; defaults to the only paired one.",
				"limit":      "How many notifications to return (default 10).",
			},
			ParamTypes: map[string]string{"limit": "integer"},
			Group:      GroupMobile,
			Safe:       true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				App        string `json:"app"`
				DeviceName string `json:"deviceName"`
				Limit      int    `json:"limit"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			device, fail, err := resolveMobile(ctx, devices, tctx, strings.TrimSpace(input.DeviceName))
			if err != nil || fail != nil {
				return fail, err
			}
			limit := input.Limit
			if limit <= 0 {
				limit = defaultMobileResults
			}

			records, err := mobile.QueryNotifications(ctx, device.ID, strings.ToLower(strings.TrimSpace(input.App)), limit)
			if err != nil {
				return nil, fmt.Errorf("query notifications: %w", err)
			}
			return okResult(map[string]any{
				"device":        device.Name,
				"count":         len(records),
				"notifications": records,
			}), nil
		},
	}
}

// resolveMobile picks the named paired phone, or the only one when no name
// is given. Unlike local devices a phone need not be online; queries are
// served from its last sync.
func resolveMobile(ctx context.Context, devices store.DeviceStore, tctx *models.ToolContext, name string) (*models.Device, *models.ToolResult, error) {
	list, err := devices.ListDevices(ctx, tctx.UserID, models.DeviceMobile)
	if err != nil {
		return nil, nil, fmt.Errorf("list devices: %w", err)
	}
	if len(list) == 0 {
		return nil, errResult("no phones paired"), nil
	}
	if name == "" {
		if len(list) > 1 {
			return nil, errResult("multiple phones paired, name one of them with deviceName"), nil
		}
		return list[0], nil, nil
	}
	for _, d := range list {
		if strings.EqualFold(strings.TrimSpace(d.Name), name) {
			return d, nil, nil
		}
	}
	return nil, errResult("no phone named %q", name), nil
}
