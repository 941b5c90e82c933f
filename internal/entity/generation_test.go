package entity

import "testing"

func TestGenerationStatusTransitions(t *testing.T) {
	tests := []struct {
		from GenerationStatus
		to   GenerationStatus
		want bool
	}{
		{GenerationStatusPending, GenerationStatusProcessing, true},
		{GenerationStatusPending, GenerationStatusFailed, true},
		{GenerationStatusPending, GenerationStatusCompleted, false},
		{GenerationStatusProcessing, GenerationStatusCompleted, true},
		{GenerationStatusProcessing, GenerationStatusFailed, true},
		{GenerationStatusProcessing, GenerationStatusPending, false},
		{GenerationStatusProcessing, GenerationStatusProcessing, false},
		{GenerationStatusCompleted, GenerationStatusFailed, false},
		{GenerationStatusCompleted, GenerationStatusPending, false},
		{GenerationStatusFailed, GenerationStatusProcessing, false},
		{GenerationStatusFailed, GenerationStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestGenerationStatusIsTerminal(t *testing.T) {
	if GenerationStatusPending.IsTerminal() || GenerationStatusProcessing.IsTerminal() {
		t.Error("pending and processing must not be terminal")
	}
	if !GenerationStatusCompleted.IsTerminal() || !GenerationStatusFailed.IsTerminal() {
		t.Error("completed and failed must be terminal")
	}
	if GenerationStatus("queued").IsValid() {
		t.Error("unknown status must be invalid")
	}
}

func TestWorkflowTemplateWebhookURL(t *testing.T) {
	tests := []struct {
		name     string
		template DbWorkflowTemplate
		fallback string
		want     string
	}{
		{
			name:     "fallback path",
			template: DbWorkflowTemplate{BaseURL: "https://n8n.example.com/"},
			fallback: "/webhook/generate-image",
			want:     "https://n8n.example.com/webhook/generate-image",
		},
		{
			name:     "template path without slash",
			template: DbWorkflowTemplate{BaseURL: "https://n8n.example.com", WebhookPath: "webhook/custom"},
			fallback: "/webhook/generate-image",
			want:     "https://n8n.example.com/webhook/custom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.template.WebhookURL(tt.fallback); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
