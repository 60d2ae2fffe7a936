package memorykv_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/voxloop-ai/voxloop/internal/memorykv"
	"github.com/voxloop-ai/voxloop/internal/realtime"
)

type registeredTool struct {
	schema  realtime.ToolSchema
	handler realtime.ToolHandler
}

type fakeRegistrar struct {
	tools map[string]registeredTool
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{tools: make(map[string]registeredTool)}
}

func (f *fakeRegistrar) RegisterTool(schema realtime.ToolSchema, handler realtime.ToolHandler) {
	f.tools[schema.Name] = registeredTool{schema: schema, handler: handler}
}

func (f *fakeRegistrar) invoke(t *testing.T, name string, args map[string]any) (string, error) {
	t.Helper()
	tool, ok := f.tools[name]
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	return tool.handler(context.Background(), args)
}

func TestLastWriteWins(t *testing.T) {
	store := memorykv.New()
	store.Set("color", "red")
	store.Set("color", "blue")

	value, ok := store.Get("color")
	if !ok || value != "blue" {
		t.Fatalf("expected blue, got %q (ok=%v)", value, ok)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", store.Len())
	}
}

func TestResetDropsEverything(t *testing.T) {
	store := memorykv.New()
	store.Set("a", "1")
	store.Set("b", "2")
	store.Reset()

	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d entries", store.Len())
	}
	if _, ok := store.Get("a"); ok {
		t.Fatal("entry survived reset")
	}
}

func TestKeysSorted(t *testing.T) {
	store := memorykv.New()
	store.Set("zebra", "1")
	store.Set("apple", "2")
	store.Set("mango", "3")

	keys := store.Keys()
	want := []string{"apple", "mango", "zebra"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected keys %v, got %v", want, keys)
		}
	}
}

func TestSetMemoryTool(t *testing.T) {
	store := memorykv.New()
	registrar := newFakeRegistrar()
	store.RegisterTools(registrar)

	out, err := registrar.invoke(t, "set_memory", map[string]any{"key": "color", "value": "blue"})
	if err != nil {
		t.Fatalf("set_memory failed: %v", err)
	}
	if !strings.Contains(out, "color") {
		t.Fatalf("unexpected tool output %q", out)
	}

	value, ok := store.Get("color")
	if !ok || value != "blue" {
		t.Fatalf("store not updated, got %q (ok=%v)", value, ok)
	}

	if _, err := registrar.invoke(t, "set_memory", map[string]any{"value": "blue"}); err == nil {
		t.Fatal("set_memory without key should fail")
	}
}

func TestGetMemoryTool(t *testing.T) {
	store := memorykv.New()
	registrar := newFakeRegistrar()
	store.RegisterTools(registrar)
	store.Set("color", "blue")

	out, err := registrar.invoke(t, "get_memory", map[string]any{"key": "color"})
	if err != nil {
		t.Fatalf("get_memory failed: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("tool output not JSON: %v", err)
	}
	if result["found"] != true || result["value"] != "blue" {
		t.Fatalf("unexpected result %v", result)
	}

	out, err = registrar.invoke(t, "get_memory", map[string]any{"key": "missing"})
	if err != nil {
		t.Fatalf("get_memory for missing key failed: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("tool output not JSON: %v", err)
	}
	if result["found"] != false {
		t.Fatalf("expected found=false, got %v", result)
	}

	// No key lists everything.
	out, err = registrar.invoke(t, "get_memory", map[string]any{})
	if err != nil {
		t.Fatalf("get_memory listing failed: %v", err)
	}
	var listing map[string][]string
	if err := json.Unmarshal([]byte(out), &listing); err != nil {
		t.Fatalf("listing not JSON: %v", err)
	}
	if len(listing["keys"]) != 1 || listing["keys"][0] != "color" {
		t.Fatalf("unexpected listing %v", listing)
	}
}
