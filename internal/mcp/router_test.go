package mcp

import (
	"testing"

	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/pkg/models"
)

func TestDecideBindingMatrix(t *testing.T) {
	tests := []struct {
		name            string
		supportsMCP     bool
		wrapAsFunctions bool
		want            Binding
	}{
		{"native model, native server", true, false, BindingNative},
		{"native model, wrapped server (sub-optimal)", true, true, BindingWrapper},
		{"wrapper-only model, wrapped server", false, true, BindingWrapper},
		{"wrapper-only model, native-only server (illegal)", false, false, BindingRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecideBinding(tt.supportsMCP, tt.wrapAsFunctions); got != tt.want {
				t.Errorf("DecideBinding(%v, %v) = %v, want %v", tt.supportsMCP, tt.wrapAsFunctions, got, tt.want)
			}
		})
	}
}

// TestValidateCompatibilityGate is the P1 property from spec §8: startup
// validation accepts a binding iff supports_mcp OR wrap_as_functions holds.
func TestValidateCompatibilityGate(t *testing.T) {
	servers := []models.ToolServerDefinition{
		{Name: "filesystem", Transport: models.TransportStdio, WrapAsFunctions: false},
		{Name: "remote", Transport: models.TransportSSE, WrapAsFunctions: true},
	}
	router := NewRouter(servers, nil)

	agentNative := models.AgentDefinition{Name: "researcher", ToolServers: []string{"filesystem"}}
	modelNative := models.ModelDefinition{Name: "claude", SupportsMCP: true}
	if err := router.ValidateCompatibility(agentNative, modelNative); err != nil {
		t.Errorf("expected native model + native-only server to validate, got %v", err)
	}

	agentWrapper := models.AgentDefinition{Name: "wrapper-agent", ToolServers: []string{"filesystem"}}
	modelWrapper := models.ModelDefinition{Name: "deepseek-chat", SupportsMCP: false}
	err := router.ValidateCompatibility(agentWrapper, modelWrapper)
	if agenterr.KindOf(err) != agenterr.ConfigInvalid {
		t.Fatalf("expected ConfigInvalid for illegal combination, got %v", err)
	}

	agentRemote := models.AgentDefinition{Name: "remote-user", ToolServers: []string{"remote"}}
	if err := router.ValidateCompatibility(agentRemote, modelWrapper); err != nil {
		t.Errorf("expected wrapper-only model + wrapped server to validate, got %v", err)
	}

	agentUnknown := models.AgentDefinition{Name: "ghost", ToolServers: []string{"nonexistent"}}
	if err := router.ValidateCompatibility(agentUnknown, modelNative); agenterr.KindOf(err) != agenterr.ConfigInvalid {
		t.Errorf("expected ConfigInvalid for unknown tool server reference, got %v", err)
	}
}
