/*
rules.go - Rule registry types and the wage rules the resolver can run

PURPOSE:
  Rules are defined globally and enabled per company. The engine only ever
  reads the set of enabled codes; which rows exist in which table is the
  registry's business (see store.go).

AVAILABLE RULES:
  BASE_NATIONALITY: wage = job wage for the worker's tier. Always on, cannot
                    be disabled. It is step 3 of resolution, not a WageRule.
  OVER_20K_5050:    once the worker's month-to-date customer total (including
                    this entry) reaches the threshold, wage = share x
                    customer rate.

PARAMETERS:
  Threshold and share come from the rule catalog (factory/catalog.yaml).
  DefaultThresholdRule holds the values the business runs with today.

SEE ALSO:
  - resolver.go: where wage rules run
  - factory/catalog.go: YAML catalog -> []Rule + WageRules
*/
package payroll

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE CATALOG
// =============================================================================

// RuleCode is the stable key of a rule.
type RuleCode string

const (
	RuleBaseNationality RuleCode = "BASE_NATIONALITY"
	RuleOver20K5050     RuleCode = "OVER_20K_5050"
)

// Rule is a globally defined, per-company toggleable policy.
type Rule struct {
	Code        RuleCode
	Name        string
	Description string
	IsDefault   bool
	Params      map[string]string
}

// CompanyRule is a catalog rule together with its state for one company.
type CompanyRule struct {
	Rule
	Enabled bool
}

// =============================================================================
// RULE SET - Enabled codes for one company
// =============================================================================

// RuleSet is the set of rule codes enabled for a company.
type RuleSet map[RuleCode]bool

// NewRuleSet builds a set that always contains BASE_NATIONALITY.
func NewRuleSet(codes ...RuleCode) RuleSet {
	rs := make(RuleSet, len(codes)+1)
	for _, c := range codes {
		rs[c] = true
	}
	rs[RuleBaseNationality] = true
	return rs
}

// Has reports whether code is enabled.
func (rs RuleSet) Has(code RuleCode) bool {
	return rs[code]
}

// Codes returns the enabled codes in sorted order.
func (rs RuleSet) Codes() []RuleCode {
	out := make([]RuleCode, 0, len(rs))
	for c, on := range rs {
		if on {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EnsureBaseRule returns codes with BASE_NATIONALITY appended when the
// caller omitted it. Duplicates and blanks are dropped, order is kept.
func EnsureBaseRule(codes []RuleCode) []RuleCode {
	seen := make(map[RuleCode]bool, len(codes)+1)
	out := make([]RuleCode, 0, len(codes)+1)
	for _, c := range codes {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if !seen[RuleBaseNationality] {
		out = append(out, RuleBaseNationality)
	}
	return out
}

// =============================================================================
// WAGE RULES - Run after the base tier lookup, before manual overrides
// =============================================================================

// WageInput is what a wage rule may look at.
type WageInput struct {
	CustomerRate decimal.Decimal
	Amount       decimal.Decimal
	MonthToDate  decimal.Decimal
	BaseWage     decimal.Decimal
}

// WageRule adjusts the wage rate when its code is enabled for the company.
type WageRule interface {
	Code() RuleCode
	Apply(in WageInput, wage decimal.Decimal) decimal.Decimal
}

// ThresholdRule switches the wage to a share of the customer rate once the
// month-to-date customer total including this entry reaches Threshold.
type ThresholdRule struct {
	RuleCode  RuleCode
	Threshold decimal.Decimal
	Share     decimal.Decimal
}

// DefaultThresholdRule is OVER_20K_5050: 20000 threshold, 50% share.
func DefaultThresholdRule() ThresholdRule {
	return ThresholdRule{
		RuleCode:  RuleOver20K5050,
		Threshold: decimal.NewFromInt(20000),
		Share:     decimal.NewFromFloat(0.5),
	}
}

func (r ThresholdRule) Code() RuleCode { return r.RuleCode }

// Apply compares month-to-date + amount x customer rate with the threshold
// (inclusive).
func (r ThresholdRule) Apply(in WageInput, wage decimal.Decimal) decimal.Decimal {
	candidateTotal := in.MonthToDate.Add(in.Amount.Mul(in.CustomerRate))
	if candidateTotal.GreaterThanOrEqual(r.Threshold) {
		return in.CustomerRate.Mul(r.Share)
	}
	return wage
}
