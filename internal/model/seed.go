package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"promoshot/internal/entity"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// TemplateSeedFile is the YAML layout of a workflow template seed file.
type TemplateSeedFile struct {
	Templates []entity.DbWorkflowTemplate `yaml:"templates"`
}

// SeedResult counts what a seed run changed.
type SeedResult struct {
	Created int
	Updated int
}

// LoadTemplateSeedFile parses a YAML seed file.
func LoadTemplateSeedFile(path string) ([]entity.DbWorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseTemplateSeed(data)
}

// ParseTemplateSeed parses seed YAML. Templates without an is_active key are treated as active.
func ParseTemplateSeed(data []byte) ([]entity.DbWorkflowTemplate, error) {
	var raw struct {
		Templates []yaml.Node `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	templates := make([]entity.DbWorkflowTemplate, 0, len(raw.Templates))
	for i, node := range raw.Templates {
		template := entity.DbWorkflowTemplate{IsActive: true}
		if err := node.Decode(&template); err != nil {
			return nil, fmt.Errorf("parse template #%d: %w", i+1, err)
		}
		template.WorkflowID = strings.TrimSpace(template.WorkflowID)
		template.BaseURL = strings.TrimSpace(template.BaseURL)
		if template.WorkflowID == "" || template.BaseURL == "" {
			return nil, fmt.Errorf("template #%d: workflow_id and base_url are required", i+1)
		}
		templates = append(templates, template)
	}
	return templates, nil
}

// SeedWorkflowTemplates creates missing templates and syncs existing ones by workflow id.
func SeedWorkflowTemplates(ctx context.Context, repo Repository, templates []entity.DbWorkflowTemplate) (SeedResult, error) {
	var result SeedResult
	if repo == nil {
		return result, nil
	}

	for _, seed := range templates {
		existing, err := repo.GetWorkflowTemplateByWorkflowID(ctx, seed.WorkflowID)
		switch {
		case err == nil:
			updates := syncTemplateUpdates(existing, seed)
			if updates.IsEmpty() {
				continue
			}
			if err := repo.UpdateWorkflowTemplate(ctx, existing.ID, updates); err != nil {
				return result, err
			}
			result.Updated++
		case errors.Is(err, gorm.ErrRecordNotFound):
			template := seed
			template.ID = 0
			if err := repo.CreateWorkflowTemplate(ctx, &template); err != nil {
				return result, err
			}
			result.Created++
		default:
			return result, err
		}
	}
	return result, nil
}

func syncTemplateUpdates(existing *entity.DbWorkflowTemplate, seed entity.DbWorkflowTemplate) entity.WorkflowTemplateUpdates {
	var updates entity.WorkflowTemplateUpdates
	if existing == nil {
		return updates
	}
	if seed.Name != "" && seed.Name != existing.Name {
		updates.Name = &seed.Name
	}
	if seed.Description != existing.Description {
		updates.Description = &seed.Description
	}
	if seed.BaseURL != existing.BaseURL {
		updates.BaseURL = &seed.BaseURL
	}
	if seed.WebhookPath != existing.WebhookPath {
		updates.WebhookPath = &seed.WebhookPath
	}
	if seed.IsActive != existing.IsActive {
		updates.IsActive = &seed.IsActive
	}
	return updates
}
