/*
resolver.go - Rate Resolver

PURPOSE:
  Computes (customer_rate, wage_rate) for one unit of work from the job's
  tier rate table, the worker's tier, the company's enabled rules, the
  worker's month-to-date customer total and an optional manual override.

RESOLUTION ORDER:
  1. customer_rate = override (if > 0) else job normal price
  2. worker must have a wage tier
  3. base wage = job wage for that tier (must be > 0)
  4. enabled wage rules, in registration order (OVER_20K_5050)
  5. override wage (if > 0) replaces whatever 3-4 produced
  6. caller multiplies by amount (Rates.Totals)

  The threshold rule runs after the base lookup and before the manual wage
  override, so an override always wins.

PURITY:
  Resolve does no I/O. Same input, same output. Month-to-date totals are
  computed by the Accumulator and passed in.

SEE ALSO:
  - rules.go: WageRule, ThresholdRule
  - accumulator.go: MonthToDate input
*/
package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
)

// ResolveInput is everything one resolution needs.
type ResolveInput struct {
	Job         Job
	Worker      Worker
	Rules       RuleSet
	Amount      decimal.Decimal
	MonthToDate decimal.Decimal
	Override    *ManualOverride
}

// Resolver runs the resolution steps with a fixed list of wage rules.
type Resolver struct {
	wageRules []WageRule
}

// NewResolver creates a resolver. With no rules it uses DefaultThresholdRule.
func NewResolver(rules ...WageRule) *Resolver {
	if len(rules) == 0 {
		rules = []WageRule{DefaultThresholdRule()}
	}
	return &Resolver{wageRules: rules}
}

// WageRules returns the rules this resolver runs.
func (r *Resolver) WageRules() []WageRule {
	return append([]WageRule(nil), r.wageRules...)
}

// Resolve computes the per-unit rates.
func (r *Resolver) Resolve(in ResolveInput) (Rates, error) {
	customerRate, err := r.customerRate(in)
	if err != nil {
		return Rates{}, err
	}

	if !in.Worker.HasTier() {
		return Rates{}, &ResolutionError{Kind: ErrMissingWageTier, JobCode: in.Job.Code, WorkerID: in.Worker.ID}
	}
	tier := *in.Worker.WageTierID

	base, ok := in.Job.WageRateFor(tier)
	if !ok || !base.IsPositive() {
		return Rates{}, &ResolutionError{Kind: ErrMissingWageRate, JobCode: in.Job.Code, WorkerID: in.Worker.ID, TierID: &tier}
	}

	wage := base
	wageIn := WageInput{
		CustomerRate: customerRate,
		Amount:       in.Amount,
		MonthToDate:  in.MonthToDate,
		BaseWage:     base,
	}
	for _, rule := range r.wageRules {
		if in.Rules.Has(rule.Code()) {
			wage = rule.Apply(wageIn, wage)
		}
	}

	if in.Override != nil && generic.Positive(in.Override.WageRate) {
		wage = in.Override.WageRate.Decimal
	}

	return Rates{CustomerRate: customerRate, WageRate: wage}, nil
}

func (r *Resolver) customerRate(in ResolveInput) (decimal.Decimal, error) {
	if in.Override != nil && generic.Positive(in.Override.CustomerRate) {
		return in.Override.CustomerRate.Decimal, nil
	}
	if in.Job.NormalPrice.IsPositive() {
		return in.Job.NormalPrice, nil
	}
	return decimal.Zero, &ResolutionError{Kind: ErrMissingCustomerRate, JobCode: in.Job.Code, WorkerID: in.Worker.ID}
}
