// Package toolplugin loads agent-callable tools from JavaScript files. A
// plugin exports a name, an optional description and JSON-schema parameters,
// and a handler function invoked with the parsed tool arguments.
package toolplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/voxloop-ai/voxloop/internal/realtime"
)

// Plugin is one loaded JS tool.
type Plugin struct {
	Name        string
	Description string
	Parameters  map[string]any
	FilePath    string

	// goja runtimes are single-threaded; calls are serialized.
	mu      sync.Mutex
	vm      *goja.Runtime
	handler goja.Callable
}

// Load reads and evaluates one plugin file. The file must export a handler
// function; name defaults to the file name without extension.
func Load(path string) (*Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolplugin: read %s: %w", path, err)
	}

	vm := goja.New()
	exports := vm.NewObject()
	module := vm.NewObject()
	_ = module.Set("exports", exports)
	_ = vm.Set("module", module)
	_ = vm.Set("exports", exports)

	if _, err := vm.RunString(string(data)); err != nil {
		return nil, fmt.Errorf("toolplugin: execute %s: %w", path, err)
	}

	if moduleExports := module.Get("exports"); moduleExports != nil {
		exports = moduleExports.ToObject(vm)
	}

	plugin := &Plugin{
		FilePath: path,
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		vm:       vm,
	}

	if name := exports.Get("name"); name != nil && !goja.IsUndefined(name) {
		plugin.Name = name.String()
	}
	if desc := exports.Get("description"); desc != nil && !goja.IsUndefined(desc) {
		plugin.Description = desc.String()
	}
	if params := exports.Get("parameters"); params != nil && !goja.IsUndefined(params) {
		if m, ok := params.Export().(map[string]any); ok {
			plugin.Parameters = m
		}
	}

	handlerValue := exports.Get("handler")
	if handlerValue == nil || goja.IsUndefined(handlerValue) {
		return nil, fmt.Errorf("toolplugin: %s missing handler function", path)
	}
	handler, ok := goja.AssertFunction(handlerValue)
	if !ok {
		return nil, fmt.Errorf("toolplugin: %s handler must be a function", path)
	}
	plugin.handler = handler

	return plugin, nil
}

// LoadDir loads every .js file in dir, sorted by name. A missing directory
// yields no plugins.
func LoadDir(dir string) ([]*Plugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("toolplugin: read dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	plugins := make([]*Plugin, 0, len(names))
	for _, name := range names {
		plugin, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, plugin)
	}
	return plugins, nil
}

// Schema describes the plugin to the remote agent.
func (p *Plugin) Schema() realtime.ToolSchema {
	return realtime.ToolSchema{
		Type:        "function",
		Name:        p.Name,
		Description: p.Description,
		Parameters:  p.Parameters,
	}
}

// Handler adapts the JS function to the channel's tool handler signature.
// A call that outlives ctx is interrupted inside the VM.
func (p *Plugin) Handler() realtime.ToolHandler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		watchdone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.vm.Interrupt(ctx.Err())
			case <-watchdone:
			}
		}()
		defer func() {
			close(watchdone)
			p.vm.ClearInterrupt()
		}()

		result, err := p.handler(goja.Undefined(), p.vm.ToValue(args))
		if err != nil {
			return "", fmt.Errorf("toolplugin: %s: %w", p.Name, err)
		}

		exported := result.Export()
		switch v := exported.(type) {
		case nil:
			return "{}", nil
		case string:
			return v, nil
		default:
			payload, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("toolplugin: %s: encode result: %w", p.Name, err)
			}
			return string(payload), nil
		}
	}
}

// Registrar is where plugins are exposed as callable tools.
type Registrar interface {
	RegisterTool(schema realtime.ToolSchema, handler realtime.ToolHandler)
}

// RegisterAll binds every plugin to the registrar.
func RegisterAll(plugins []*Plugin, registrar Registrar) {
	for _, plugin := range plugins {
		registrar.RegisterTool(plugin.Schema(), plugin.Handler())
	}
}
