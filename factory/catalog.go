/*
Package factory provides YAML to Go rule catalog conversion.

PURPOSE:
  Converts the YAML rule catalog into payroll.Rule definitions (what the
  registry stores and the rules page lists) and payroll.WageRule values
  (what the resolver runs). Threshold and share live in the catalog, so the
  business can tune them without code changes.

YAML SCHEMA:
  rules:
    - code: OVER_20K_5050
      kind: threshold_share
      name: "Over 20k/month => 50/50 job price"
      description: ...
      is_default: false
      params:
        threshold: "20000"
        share: "0.5"

KINDS:
  base_tier        the tier lookup itself; no WageRule, must be present
  threshold_share  payroll.ThresholdRule with params threshold and share

USAGE:
  catalog, err := factory.DefaultCatalog()          // embedded catalog.yaml
  catalog, err := factory.LoadCatalog(path)         // operator override
  resolver := payroll.NewResolver(catalog.WageRules...)

SEE ALSO:
  - payroll/rules.go: Rule, ThresholdRule
  - store/sqlite, store/postgres: SyncCatalog persists catalog.Rules
*/
package factory

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/payroll"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// Rule kinds understood by the factory.
const (
	KindBaseTier       = "base_tier"
	KindThresholdShare = "threshold_share"
)

// CatalogYAML is the YAML representation of the rule catalog.
type CatalogYAML struct {
	Rules []RuleYAML `yaml:"rules"`
}

// RuleYAML represents one catalog rule.
type RuleYAML struct {
	Code        string            `yaml:"code"`
	Kind        string            `yaml:"kind"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	IsDefault   bool              `yaml:"is_default"`
	Params      map[string]string `yaml:"params"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is the parsed rule catalog.
type Catalog struct {
	Rules     []payroll.Rule
	WageRules []payroll.WageRule
}

// DefaultCatalog parses the embedded catalog.yaml.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog file. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read file %s: %w", path, err)
	}
	return ParseCatalog(b)
}

// ParseCatalog parses YAML into a catalog.
func ParseCatalog(b []byte) (*Catalog, error) {
	var cy CatalogYAML
	if err := yaml.Unmarshal(b, &cy); err != nil {
		return nil, fmt.Errorf("catalog: parse yaml: %w", err)
	}
	return FromYAML(cy)
}

// FromYAML validates the schema and builds rules and wage rules.
func FromYAML(cy CatalogYAML) (*Catalog, error) {
	cat := &Catalog{}
	seen := make(map[payroll.RuleCode]bool, len(cy.Rules))

	for i, ry := range cy.Rules {
		code := payroll.RuleCode(strings.TrimSpace(ry.Code))
		if code == "" {
			return nil, fmt.Errorf("catalog: rules[%d].code must be set", i)
		}
		if seen[code] {
			return nil, fmt.Errorf("catalog: duplicate rule code %s", code)
		}
		seen[code] = true

		rule := payroll.Rule{
			Code:        code,
			Name:        ry.Name,
			Description: ry.Description,
			IsDefault:   ry.IsDefault,
			Params:      ry.Params,
		}
		if rule.Name == "" {
			rule.Name = string(code)
		}

		switch ry.Kind {
		case KindBaseTier:
			if code != payroll.RuleBaseNationality {
				return nil, fmt.Errorf("catalog: kind %s is reserved for %s", KindBaseTier, payroll.RuleBaseNationality)
			}
		case KindThresholdShare:
			wr, err := parseThresholdRule(code, ry.Params)
			if err != nil {
				return nil, err
			}
			cat.WageRules = append(cat.WageRules, wr)
		default:
			return nil, fmt.Errorf("catalog: rule %s has unknown kind %q", code, ry.Kind)
		}

		cat.Rules = append(cat.Rules, rule)
	}

	if !seen[payroll.RuleBaseNationality] {
		return nil, fmt.Errorf("catalog: %s must be defined", payroll.RuleBaseNationality)
	}
	return cat, nil
}

func parseThresholdRule(code payroll.RuleCode, params map[string]string) (payroll.ThresholdRule, error) {
	threshold, err := decimalParam(code, params, "threshold")
	if err != nil {
		return payroll.ThresholdRule{}, err
	}
	share, err := decimalParam(code, params, "share")
	if err != nil {
		return payroll.ThresholdRule{}, err
	}
	if !threshold.IsPositive() {
		return payroll.ThresholdRule{}, fmt.Errorf("catalog: rule %s: threshold must be > 0", code)
	}
	if !share.IsPositive() || share.GreaterThan(decimal.NewFromInt(1)) {
		return payroll.ThresholdRule{}, fmt.Errorf("catalog: rule %s: share must be in (0, 1]", code)
	}
	return payroll.ThresholdRule{RuleCode: code, Threshold: threshold, Share: share}, nil
}

func decimalParam(code payroll.RuleCode, params map[string]string, name string) (decimal.Decimal, error) {
	raw, ok := params[name]
	if !ok || strings.TrimSpace(raw) == "" {
		return decimal.Zero, fmt.Errorf("catalog: rule %s: params.%s must be set", code, name)
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("catalog: rule %s: params.%s: %w", code, name, err)
	}
	return v, nil
}

// DefaultCodes returns the codes marked is_default.
func (c *Catalog) DefaultCodes() []payroll.RuleCode {
	var out []payroll.RuleCode
	for _, r := range c.Rules {
		if r.IsDefault {
			out = append(out, r.Code)
		}
	}
	return out
}
