package registry

import (
	"testing"

	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/internal/config"
	"github.com/coreforge/agentd/pkg/models"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Models = []models.ModelDefinition{
		{Name: "claude", Provider: "anthropic", SupportsMCP: true, ModelID: "claude-test"},
		{Name: "deepseek-chat", Provider: "openai", SupportsMCP: false},
	}
	cfg.ToolServers = []models.ToolServerDefinition{
		{Name: "filesystem", Transport: models.TransportStdio, WrapAsFunctions: false},
	}
	cfg.Agents = []models.AgentDefinition{
		{Name: "native-agent", ModelName: "claude", Adapter: models.AdapterNative, ToolServers: []string{"filesystem"}},
		{Name: "wrapper-agent", ModelName: "deepseek-chat", Adapter: models.AdapterWrapper},
	}
	return &cfg
}

func TestBuildInstantiatesEveryEnabledAgent(t *testing.T) {
	reg, err := Build(testConfig(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 agents, got %d (%v)", len(names), names)
	}
	if _, _, ok := reg.Lookup("native-agent"); !ok {
		t.Error("expected native-agent to be registered")
	}
	if _, _, ok := reg.Lookup("wrapper-agent"); !ok {
		t.Error("expected wrapper-agent to be registered")
	}
}

func TestBuildRejectsIncompatibleAgent(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = append(cfg.Agents, models.AgentDefinition{
		Name: "broken", ModelName: "deepseek-chat", Adapter: models.AdapterWrapper, ToolServers: []string{"filesystem"},
	})
	_, err := Build(cfg, nil)
	if agenterr.KindOf(err) != agenterr.ConfigInvalid {
		t.Fatalf("expected ConfigInvalid, got %v", err)
	}
}

func TestLookupUnknownAgent(t *testing.T) {
	reg, err := Build(testConfig(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, _, ok := reg.Lookup("does-not-exist"); ok {
		t.Error("expected Lookup to report ok=false for an unregistered agent")
	}
}

func TestRebuildReusesUnchangedAgent(t *testing.T) {
	cfg := testConfig()
	reg, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	before, _, _ := reg.Lookup("native-agent")

	if err := reg.Rebuild(cfg); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	after, _, _ := reg.Lookup("native-agent")
	if before != after {
		t.Error("expected Rebuild to reuse the adapter for an unchanged agent definition")
	}
}

func TestRebuildReplacesChangedAgent(t *testing.T) {
	cfg := testConfig()
	reg, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	before, _, _ := reg.Lookup("wrapper-agent")

	cfg2 := testConfig()
	cfg2.Agents[1].SystemPrompt = "a different prompt"
	if err := reg.Rebuild(cfg2); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	after, _, _ := reg.Lookup("wrapper-agent")
	if before == after {
		t.Error("expected Rebuild to replace the adapter for a changed agent definition")
	}
}
