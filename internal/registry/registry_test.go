package registry

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/metrics"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/permission"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

var textSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"text": map[string]any{"type": "string", "minLength": 1},
	},
	"required": []any{"text"},
}

func echoDescriptor(name string) Descriptor {
	return Descriptor{
		Name:           name,
		Description:    "Echoes its input back",
		InputSchema:    textSchema,
		Category:       CategoryUtility,
		OfflineCapable: true,
	}
}

var echoHandler = HandlerFunc(func(_ context.Context, p Parameters, _ engine.ExecutionContext) (*structpb.Value, error) {
	return p["text"], nil
})

func newTestRegistry(t *testing.T, oracle permission.Oracle) (*Registry, *metrics.Collector) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	mw := engine.NewMiddleware(nil, nil, 0, logger)
	collector := metrics.NewCollector(metrics.Config{}, logger)
	return NewRegistry(mw, collector, oracle, logger), collector
}

func textParams(s string) Parameters {
	return Parameters{"text": structpb.NewStringValue(s)}
}

func names(ds []Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}

func TestRegister_Duplicate(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)

	if err := reg.Register(echoDescriptor("echo"), echoHandler); err != nil {
		t.Fatal(err)
	}
	err := reg.Register(echoDescriptor("echo"), echoHandler)
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}

	d, err := reg.Descriptor("echo")
	if err != nil {
		t.Fatalf("first registration should remain: %v", err)
	}
	if d.Description != "Echoes its input back" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 tool, got %d", reg.Len())
	}
}

func TestRegister_InvalidTools(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Descriptor)
	}{
		{"uppercase name", func(d *Descriptor) { d.Name = "Echo" }},
		{"leading digit", func(d *Descriptor) { d.Name = "1echo" }},
		{"empty name", func(d *Descriptor) { d.Name = "" }},
		{"empty description", func(d *Descriptor) { d.Description = "  " }},
		{"empty schema", func(d *Descriptor) { d.InputSchema = nil }},
		{"uncompilable schema", func(d *Descriptor) { d.InputSchema = map[string]any{"type": 12} }},
		{"unknown category", func(d *Descriptor) { d.Category = "quantum" }},
		{"sensitive without permissions", func(d *Descriptor) { d.Category = CategoryTextProcessing }},
		{"audio without permissions", func(d *Descriptor) { d.Category = CategoryAudioDomain }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry(t, nil)
			d := echoDescriptor("echo")
			tt.mutate(&d)
			if err := reg.Register(d, echoHandler); !errors.Is(err, ErrInvalidTool) {
				t.Fatalf("expected ErrInvalidTool, got %v", err)
			}
			if reg.Len() != 0 {
				t.Fatal("invalid tool must not be registered")
			}
		})
	}
}

func TestRegister_NilHandler(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	if err := reg.Register(echoDescriptor("echo"), nil); !errors.Is(err, ErrInvalidTool) {
		t.Fatalf("expected ErrInvalidTool, got %v", err)
	}
}

func TestRegister_SensitiveWithPermissions(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	d := echoDescriptor("summarize_text")
	d.Category = CategoryTextProcessing
	d.RequiredPermissions = []permission.Kind{permission.TextAnalysis}
	if err := reg.Register(d, echoHandler); err != nil {
		t.Fatal(err)
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	_ = reg.Register(echoDescriptor("echo"), echoHandler)

	reg.Unregister("echo")
	reg.Unregister("echo")
	reg.Unregister("never_registered")

	if _, err := reg.Get("echo"); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if len(reg.ListAll()) != 0 {
		t.Fatal("expected empty listing")
	}
}

func TestGetAndCreate(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	_ = reg.Register(echoDescriptor("echo"), echoHandler)

	if h, err := reg.Get("echo"); err != nil || h == nil {
		t.Fatalf("Get: %v", err)
	}
	if h, err := reg.Create("echo"); err != nil || h == nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.Create("missing"); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestDescriptor_ReturnsCopy(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	d := echoDescriptor("fetch_url")
	d.RequiredPermissions = []permission.Kind{permission.Network}
	_ = reg.Register(d, echoHandler)

	got, _ := reg.Descriptor("fetch_url")
	got.RequiredPermissions[0] = permission.Microphone
	got.InputSchema["injected"] = true
	got.InputSchema["properties"].(map[string]any)["text"].(map[string]any)["minLength"] = 99
	reg.ListAll()[0].InputSchema["required"].([]any)[0] = "other"

	again, _ := reg.Descriptor("fetch_url")
	if again.RequiredPermissions[0] != permission.Network {
		t.Fatal("descriptor mutation leaked into the registry")
	}
	if _, ok := again.InputSchema["injected"]; ok {
		t.Fatal("schema mutation leaked into the registry")
	}
	if again.InputSchema["properties"].(map[string]any)["text"].(map[string]any)["minLength"] != 1 {
		t.Fatal("nested schema mutation leaked into the registry")
	}
	if again.InputSchema["required"].([]any)[0] != "text" {
		t.Fatal("schema slice mutation leaked into the registry")
	}
}

func TestRegister_CopiesCallerSchema(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	d := echoDescriptor("echo")
	d.InputSchema = copyJSONValue(textSchema).(map[string]any)
	_ = reg.Register(d, echoHandler)

	d.InputSchema["injected"] = true
	got, _ := reg.Descriptor("echo")
	if _, ok := got.InputSchema["injected"]; ok {
		t.Fatal("caller's schema map is shared with the registry")
	}
}

func registerCatalog(t *testing.T, reg *Registry) {
	t.Helper()
	catalog := []Descriptor{
		{Name: "vocal_isolation", Description: "Separates vocals from music", Category: CategoryAudioDomain,
			RequiredPermissions: []permission.Kind{permission.Microphone}, OfflineCapable: true},
		{Name: "transcribe_audio", Description: "Speech to text including VOCAL tracks", Category: CategoryAudioDomain,
			RequiredPermissions: []permission.Kind{permission.Microphone, permission.SpeechRecognition}},
		{Name: "summarize_text", Description: "Summarizes text", Category: CategoryTextProcessing,
			RequiredPermissions: []permission.Kind{permission.TextAnalysis}, OfflineCapable: true},
		{Name: "analyze_sentiment", Description: "Scores sentiment", Category: CategoryTextProcessing,
			RequiredPermissions: []permission.Kind{permission.TextAnalysis}, OfflineCapable: true},
		{Name: "fetch_url", Description: "Downloads a page", Category: CategoryNetwork,
			RequiredPermissions: []permission.Kind{permission.Network}},
		{Name: "system_info", Description: "Reports host details", Category: CategorySystem,
			RequiredPermissions: []permission.Kind{permission.SystemInfo}, OfflineCapable: true},
	}
	for _, d := range catalog {
		d.InputSchema = textSchema
		if err := reg.Register(d, echoHandler); err != nil {
			t.Fatalf("register %s: %v", d.Name, err)
		}
	}
}

func TestDiscovery_Sorted(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	registerCatalog(t, reg)

	tests := []struct {
		name string
		got  []Descriptor
		want []string
	}{
		{"search vocal", reg.Search("vocal"), []string{"transcribe_audio", "vocal_isolation"}},
		{"by category text", reg.ByCategory(CategoryTextProcessing), []string{"analyze_sentiment", "summarize_text"}},
		{"by permission microphone", reg.ByPermission(permission.Microphone), []string{"transcribe_audio", "vocal_isolation"}},
		{"offline", reg.OfflineCapable(), []string{"analyze_sentiment", "summarize_text", "system_info", "vocal_isolation"}},
		{"all", reg.ListAll(), []string{"analyze_sentiment", "fetch_url", "summarize_text", "system_info", "transcribe_audio", "vocal_isolation"}},
		{"search none", reg.Search("nothing-matches"), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := names(tt.got); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCategoryStatistics(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	registerCatalog(t, reg)

	want := []CategoryStat{
		{Category: CategoryAudioDomain, Tools: 2, OfflineCapable: 1},
		{Category: CategoryNetwork, Tools: 1, OfflineCapable: 0},
		{Category: CategorySystem, Tools: 1, OfflineCapable: 1},
		{Category: CategoryTextProcessing, Tools: 2, OfflineCapable: 2},
	}
	if got := reg.CategoryStatistics(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestConcurrentRegisterAndList(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = reg.Register(echoDescriptor("tool_"+string(rune('a'+i%26))+string(rune('a'+i/26))), echoHandler)
		}(i)
		go func() {
			defer wg.Done()
			_ = reg.ListAll()
		}()
	}
	wg.Wait()
	if reg.Len() != 50 {
		t.Fatalf("expected 50 tools, got %d", reg.Len())
	}
}

func TestResponse_MarshalJSON(t *testing.T) {
	resp := Response{Success: true, Data: structpb.NewStringValue("hi"), ExecutionTime: 0.5}
	raw, err := resp.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"success":true,"data":"hi","executionTime":0.5}` {
		t.Fatalf("unexpected JSON %s", raw)
	}

	fail := failure(ErrToolNotFound, time.Second)
	raw, err = fail.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"success":false,"error":{"code":"TOOL_NOT_FOUND","message":"tool not found"},"executionTime":1}` {
		t.Fatalf("unexpected JSON %s", raw)
	}
}
