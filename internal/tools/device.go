package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// DeviceExecutor runs one tool invocation on an enrolled local device and
// returns its textual output.
type DeviceExecutor interface {
	Execute(ctx context.Context, deviceID, tool string, args map[string]any) (string, error)
}

func localAgentTools(exec DeviceExecutor, devices store.DeviceStore) []Tool {
	return []Tool{executeOnLocalAgentTool(exec, devices), listLocalAgentsTool(devices)}
}

func executeOnLocalAgentTool(exec DeviceExecutor, devices store.DeviceStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "executeOnLocalAgent",
			Description: "Run a tool on one of the user's connected computers.",
			Required:    []string{"tool"},
			Optional:    []string{"deviceName", "args"},
			ParamDocs: map[string]string{
				"tool":       "Name of the tool installed on the device.",
				"deviceName": "Which device to use; defaults to the only online one.",
				"args":       "Arguments passed to the device tool.",
			},
			ParamTypes:    map[string]string{"args": "object"},
			Group:         GroupLocal,
			SkillCategory: models.SkillAutomation,
			SkillLevel:    2,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Tool       string         `json:"tool"`
				DeviceName string         `json:"deviceName"`
				Args       map[string]any `json:"args"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			toolName := strings.TrimSpace(input.Tool)
			if toolName == "" {
				return errResult("tool is required"), nil
			}

			device, fail, err := resolveDevice(ctx, devices, tctx, strings.TrimSpace(input.DeviceName), models.DeviceLocal)
			if err != nil || fail != nil {
				return fail, err
			}
			if !device.Online {
				return errResult("device %q is offline", device.Name), nil
			}

			output, err := exec.Execute(ctx, device.ID, toolName, input.Args)
			if err != nil {
				return nil, fmt.Errorf("execute on %s: %w", device.Name, err)
			}
			return okResult(map[string]any{
				"device": device.Name,
				"tool":   toolName,
				"output": output,
			}), nil
		},
	}
}

func listLocalAgentsTool(devices store.DeviceStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "listLocalAgents",
			Description: "List connected computers and what they can run.",
			Group:       GroupLocal,
			Safe:        true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			list, err := devices.ListDevices(ctx, tctx.UserID, models.DeviceLocal)
			if err != nil {
				return nil, fmt.Errorf("list devices: %w", err)
			}
			items := make([]map[string]any, 0, len(list))
			for _, d := range list {
				items = append(items, map[string]any{
					"name":           d.Name,
					"online":         d.Online,
					"installedTools": d.InstalledTools,
					"capabilities":   d.Capabilities,
					"mcpServers":     d.MCPServers,
				})
			}
			return okResult(map[string]any{"count": len(items), "devices": items}), nil
		},
	}
}

// resolveDevice picks the named device of the given kind, or the single
// online candidate when no name is given.
func resolveDevice(ctx context.Context, devices store.DeviceStore, tctx *models.ToolContext, name string, kind models.DeviceKind) (*models.Device, *models.ToolResult, error) {
	list, err := devices.ListDevices(ctx, tctx.UserID, kind)
	if err != nil {
		return nil, nil, fmt.Errorf("list devices: %w", err)
	}
	if len(list) == 0 {
		return nil, errResult("no %s devices enrolled", kind), nil
	}

	if name == "" {
		var online *models.Device
		for _, d := range list {
			if !d.Online {
				continue
			}
			if online != nil {
				return nil, errResult("multiple devices online, name one of them with deviceName"), nil
			}
			online = d
		}
		if online == nil {
			return nil, errResult("no %s devices online", kind), nil
		}
		return online, nil, nil
	}

	for _, d := range list {
		if strings.EqualFold(strings.TrimSpace(d.Name), name) {
			return d, nil, nil
		}
	}
	return nil, errResult("no device named %q", name), nil
}
