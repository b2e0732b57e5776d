package model

import (
	"fmt"
	"strings"

	"crm-licensing/internal/domain"
)

// Module is a feature flag gated by tier.
type Module string

const (
	ModuleCRMCore            Module = "crm_core"
	ModuleContactManagement  Module = "contact_management"
	ModuleLeadManagement     Module = "lead_management"
	ModuleDealPipeline       Module = "deal_pipeline"
	ModuleTaskManagement     Module = "task_management"
	ModuleCustomFields       Module = "custom_fields"
	ModuleWorkflowAutomation Module = "workflow_automation"
	ModuleEmailCampaigns     Module = "email_campaigns"
	ModuleReportsAnalytics   Module = "reports_analytics"
	ModuleImportExport       Module = "import_export"
	ModuleAPIAccess          Module = "api_access"
	ModuleAuditTrail         Module = "audit_trail"
)

// ModuleCatalog lists every module in display order.
var ModuleCatalog = []Module{
	ModuleCRMCore,
	ModuleContactManagement,
	ModuleLeadManagement,
	ModuleDealPipeline,
	ModuleTaskManagement,
	ModuleCustomFields,
	ModuleWorkflowAutomation,
	ModuleEmailCampaigns,
	ModuleReportsAnalytics,
	ModuleImportExport,
	ModuleAPIAccess,
	ModuleAuditTrail,
}

var knownModules = func() map[Module]struct{} {
	m := make(map[Module]struct{}, len(ModuleCatalog))
	for _, mod := range ModuleCatalog {
		m[mod] = struct{}{}
	}
	return m
}()

func (m Module) Valid() bool {
	_, ok := knownModules[m]
	return ok
}

// ParseModule accepts both "lead_management" and "LEAD_MANAGEMENT" spellings.
func ParseModule(s string) (Module, error) {
	m := Module(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown module %q: %w", s, domain.ErrInvalidArgument)
	}
	return m, nil
}

// ParseModules parses and validates an ordered module list, rejecting duplicates.
func ParseModules(in []string) ([]Module, error) {
	out := make([]Module, 0, len(in))
	seen := make(map[Module]struct{}, len(in))
	for _, s := range in {
		m, err := ParseModule(s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[m]; dup {
			return nil, fmt.Errorf("duplicate module %q: %w", m, domain.ErrInvalidArgument)
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}
