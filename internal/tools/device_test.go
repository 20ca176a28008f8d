package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

func seedDevice(t *testing.T, devices store.DeviceStore, id, name string, kind models.DeviceKind, online bool) {
	t.Helper()
	err := devices.SaveDevice(context.Background(), &models.Device{
		ID:             id,
		UserID:         "user-1",
		Kind:           kind,
		Name:           name,
		Online:         online,
		LastSeen:       time.Now().UTC(),
		InstalledTools: []string{"screenshot", "readFile"},
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed device %s: %v", id, err)
	}
}

func TestExecuteOnLocalAgent_SingleOnlineDefault(t *testing.T) {
	reg, deps := fullRegistry(t)
	seedDevice(t, deps.Stores.Devices, "d-1", "office-mac", models.DeviceLocal, true)
	seedDevice(t, deps.Stores.Devices, "d-2", "old-laptop", models.DeviceLocal, false)
	exec := deps.Devices.(*fakeExecutor)
	exec.output = "saved to shots/screen-001.png"

	res, err := reg.Execute(context.Background(), "executeOnLocalAgent", map[string]any{
		"tool": "screenshot",
		"args": map[string]any{"display": 1},
	}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	payload := res.Result.(map[string]any)
	if payload["device"] != "office-mac" || payload["tool"] != "screenshot" {
		t.Errorf("payload = %v", payload)
	}
	if exec.lastDevice != "d-1" || exec.lastTool != "screenshot" {
		t.Errorf("executor called with %s / %s", exec.lastDevice, exec.lastTool)
	}
}

func TestExecuteOnLocalAgent_NamedDevice(t *testing.T) {
	reg, deps := fullRegistry(t)
	seedDevice(t, deps.Stores.Devices, "d-1", "office-mac", models.DeviceLocal, true)
	seedDevice(t, deps.Stores.Devices, "d-2", "studio-pc", models.DeviceLocal, true)

	// Two devices online: the tool refuses to guess.
	res, err := reg.Execute(context.Background(), "executeOnLocalAgent", map[string]any{"tool": "readFile"}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "deviceName") {
		t.Errorf("ambiguous result = %+v", res)
	}

	res, err = reg.Execute(context.Background(), "executeOnLocalAgent", map[string]any{
		"tool": "readFile", "deviceName": "Studio-PC",
	}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("named result = %+v, %v", res, err)
	}
	if deps.Devices.(*fakeExecutor).lastDevice != "d-2" {
		t.Errorf("executor ran on %s", deps.Devices.(*fakeExecutor).lastDevice)
	}
}

func TestExecuteOnLocalAgent_OfflineRefused(t *testing.T) {
	reg, deps := fullRegistry(t)
	seedDevice(t, deps.Stores.Devices, "d-1", "office-mac", models.DeviceLocal, false)

	res, err := reg.Execute(context.Background(), "executeOnLocalAgent", map[string]any{
		"tool": "screenshot", "deviceName": "office-mac",
	}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "offline") {
		t.Errorf("result = %+v", res)
	}

	// And with nothing enrolled at all.
	reg2, _ := fullRegistry(t)
	res, err = reg2.Execute(context.Background(), "executeOnLocalAgent", map[string]any{"tool": "screenshot"}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Errorf("result = %+v", res)
	}
}

func TestListLocalAgents(t *testing.T) {
	reg, deps := fullRegistry(t)
	seedDevice(t, deps.Stores.Devices, "d-1", "office-mac", models.DeviceLocal, true)
	seedDevice(t, deps.Stores.Devices, "m-1", "pixel", models.DeviceMobile, false)

	res, err := reg.Execute(context.Background(), "listLocalAgents", nil, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	payload := res.Result.(map[string]any)
	// Phones are not local agents.
	if payload["count"] != 1 {
		t.Fatalf("count = %v", payload["count"])
	}
	item := payload["devices"].([]map[string]any)[0]
	if item["name"] != "office-mac" || item["online"] != true {
		t.Errorf("item = %v", item)
	}
}

func TestQuerySMS(t *testing.T) {
	reg, deps := fullRegistry(t)
	// Phones answer from their last sync even while offline.
	seedDevice(t, deps.Stores.Devices, "m-1", "pixel", models.DeviceMobile, false)
	deps.Mobile.(*fakeMobile).records = []MobileRecord{
		{From: "+15550100", Text: "Your package arrived.", At: time.Now().UTC()},
	}

	res, err := reg.Execute(context.Background(), "querySMS", map[string]any{"query": "package"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	payload := res.Result.(map[string]any)
	if payload["device"] != "pixel" || payload["count"] != 1 {
		t.Errorf("payload = %v", payload)
	}
}

func TestQueryNotifications_MultiplePhonesNeedName(t *testing.T) {
	reg, deps := fullRegistry(t)
	seedDevice(t, deps.Stores.Devices, "m-1", "pixel", models.DeviceMobile, true)
	seedDevice(t, deps.Stores.Devices, "m-2", "iphone", models.DeviceMobile, true)

	res, err := reg.Execute(context.Background(), "queryNotifications", map[string]any{"app": "whatsapp"}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "deviceName") {
		t.Errorf("ambiguous result = %+v", res)
	}

	res, err = reg.Execute(context.Background(), "queryNotifications", map[string]any{
		"app": "whatsapp", "deviceName": "iphone",
	}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("named result = %+v, %v", res, err)
	}
	if payload := res.Result.(map[string]any); payload["device"] != "iphone" {
		t.Errorf("payload = %v", payload)
	}
}

func TestQuerySMS_NoPhonesPaired(t *testing.T) {
	reg, _ := fullRegistry(t)

	res, err := reg.Execute(context.Background(), "querySMS", nil, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "no phones paired") {
		t.Errorf("result = %+v", res)
	}
}
