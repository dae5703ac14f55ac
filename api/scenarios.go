/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the SQLite database with a
	realistic spa company: wage tiers, a job rate table, workers, roles,
	users and a few weeks of work entries. Each scenario highlights one part
	of the engine.

AVAILABLE SCENARIOS:

	twin-reflexology: base tier rule only, entries over the last two weeks
	over-20k:         threshold rule enabled, one worker just under 20,000
	edit-window:      entries over 60 days, staff limited to 30 days and a
	                  user override of 7 days

HOW SCENARIOS WORK:
 1. Reset database (rule catalog is kept)
 2. Create company, tiers, jobs, workers
 3. Create permissions, roles and demo users
 4. Enable company rules through the service
 5. Prepare and confirm entries through the service, so every seeded
    entry went through the resolver and validator

USAGE VIA API:

	POST /api/scenarios/load
	X-User-ID: 1
	X-User-Admin: true
	{"scenario_id": "over-20k"}

	Load and reset need an admin caller.

	The response lists the seeded users; send their id as X-User-ID.

NOTE:

	Scenarios reset the database. Only available with the sqlite driver.

SEE ALSO:
  - handlers.go: Handler, error helpers
  - store/sqlite: seeding methods
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
	"github.com/warp/rate-engine/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "twin-reflexology",
		Name:        "Twin Reflexology",
		Description: "Wage by tier only, two weeks of cash and bank entries",
	},
	{
		ID:          "over-20k",
		Name:        "Over 20k Threshold",
		Description: "OVER_20K_5050 enabled; worker 101 sits at 19,900 this month",
	},
	{
		ID:          "edit-window",
		Name:        "Edit Window",
		Description: "60 days of entries; staff see 30 days, one user is limited to 7",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Demo == nil {
		writeError(w, http.StatusNotImplemented, "Scenarios require the sqlite driver", nil)
		return
	}
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, r, "Invalid request body", err)
		return
	}

	var loader func(context.Context) (LoadScenarioResponse, error)
	switch req.ScenarioID {
	case "twin-reflexology":
		loader = h.loadTwinReflexologyScenario
	case "over-20k":
		loader = h.loadOver20KScenario
	case "edit-window":
		loader = h.loadEditWindowScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Demo.Reset(ctx); err != nil {
		h.writeServiceError(w, r, "Failed to reset database", err)
		return
	}
	h.Pending.Clear()
	h.currentScenario = ""

	resp, err := loader(ctx)
	if err != nil {
		h.writeServiceError(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	for _, s := range scenarios {
		if s.ID == req.ScenarioID {
			resp.Scenario = s
		}
	}
	h.currentScenario = req.ScenarioID

	LoggerFromContext(ctx).Info("scenario loaded",
		"scenario", req.ScenarioID, "company_id", resp.CompanyID, "entries", resp.Entries)
	writeJSON(w, http.StatusOK, resp)
}

// ResetDatabase clears every table except the rule catalog.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Demo == nil {
		writeError(w, http.StatusNotImplemented, "Scenarios require the sqlite driver", nil)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Demo.Reset(r.Context()); err != nil {
		h.writeServiceError(w, r, "Failed to reset database", err)
		return
	}
	h.Pending.Clear()
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SEED DATA
// =============================================================================

type demoTier struct {
	code, name string
	sortOrder  int
}

var demoTiers = []demoTier{
	{"T1", "Wage Tier 1 (1yr)", 1},
	{"T2", "Wage Tier 2 (2yr)", 2},
	{"T3", "Wage Tier 3 (3yr)", 3},
	{"T4", "Wage Tier 4 (4yr)", 4},
	{"MY", "Malaysian", 99},
}

type demoJob struct {
	code, jobType string
	normalPrice   string
	wages         map[string]string // tier code -> rate
}

var demoJobs = []demoJob{
	{"JC01", "Foot 60", "68", map[string]string{"T1": "27.2", "T2": "27.2", "T3": "28", "T4": "28", "MY": "34"}},
	{"JC01-1", "Foot 90", "102", map[string]string{"T1": "40.8", "T2": "40.8", "T3": "43", "T4": "43", "MY": "51"}},
	{"JC01-2", "Foot 120", "136", map[string]string{"T1": "54.4", "T2": "54.4", "T3": "57", "T4": "57", "MY": "68"}},
	{"JC02", "Foot Oil 60", "70", map[string]string{"T1": "28", "T2": "28", "T3": "29", "T4": "29", "MY": "35"}},
	// no list price: needs a custom customer rate on entry
	{"MISC", "Custom Service", "0", map[string]string{"T1": "18", "T2": "18", "T3": "20", "T4": "20", "MY": "22"}},
}

type demoWorker struct {
	code, name, tier string
}

var demoWorkers = []demoWorker{
	{"101", "Ana", "T1"},
	{"102", "Bee", "T3"},
	{"201", "Mei", "MY"},
	{"301", "Trainee", ""},
}

var demoPermissions = []struct{ code, description string }{
	{"PAGE_WORK_ENTRIES", "Open the work entries page"},
	{"PAGE_REPORTS", "Open the reports page"},
	{"WORK_ENTRY_CREATE", "Create work entries"},
	{payroll.PermEditEntry, "Edit work entries"},
	{payroll.PermDeleteEntry, "Delete work entries"},
	{payroll.PermEditRates, "Override customer and wage rates"},
	{payroll.PermReportPayTypeView, "Filter reports by cash or bank"},
}

var staffPermissions = []string{"PAGE_WORK_ENTRIES", "WORK_ENTRY_CREATE", payroll.PermEditEntry, payroll.PermDeleteEntry}

// demoCompany is what seedCompany created.
type demoCompany struct {
	id      payroll.CompanyID
	workers map[string]payroll.WorkerID
	users   []DemoUserDTO
}

func (h *Handler) seedCompany(ctx context.Context, staffDays int) (*demoCompany, error) {
	store := h.Demo
	companyID, err := store.CreateCompany(ctx, "Twin Reflexology", "TRX")
	if err != nil {
		return nil, fmt.Errorf("create company: %w", err)
	}
	c := &demoCompany{id: companyID, workers: make(map[string]payroll.WorkerID)}

	tiers := make(map[string]payroll.WageTierID, len(demoTiers))
	for _, t := range demoTiers {
		id, err := store.SaveWageTier(ctx, payroll.WageTier{
			CompanyID: companyID, Code: t.code, Name: t.name, SortOrder: t.sortOrder, Active: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create tier %s: %w", t.code, err)
		}
		tiers[t.code] = id
	}

	for _, j := range demoJobs {
		job := payroll.Job{CompanyID: companyID, Code: j.code, Type: j.jobType, NormalPrice: generic.MustParseDecimal(j.normalPrice)}
		for _, t := range demoTiers {
			if rate, ok := j.wages[t.code]; ok {
				job.WageRates = append(job.WageRates, payroll.TierWage{TierID: tiers[t.code], Rate: generic.MustParseDecimal(rate)})
			}
		}
		if _, err := store.SaveJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create job %s: %w", j.code, err)
		}
	}

	for _, dw := range demoWorkers {
		w := payroll.Worker{CompanyID: companyID, Code: dw.code, Name: dw.name}
		if dw.tier != "" {
			tier := tiers[dw.tier]
			w.WageTierID = &tier
		}
		id, err := store.SaveWorker(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("create worker %s: %w", dw.code, err)
		}
		c.workers[dw.code] = id
	}

	if err := h.seedAccess(ctx, c, staffDays); err != nil {
		return nil, err
	}
	if _, err := h.Service.EnableDefaultRules(ctx, companyID); err != nil {
		return nil, err
	}
	return c, nil
}

func (h *Handler) seedAccess(ctx context.Context, c *demoCompany, staffDays int) error {
	store := h.Demo
	all := make([]string, len(demoPermissions))
	for i, p := range demoPermissions {
		if err := store.SavePermission(ctx, p.code, p.description, true); err != nil {
			return fmt.Errorf("create permission %s: %w", p.code, err)
		}
		all[i] = p.code
	}

	managerRole, err := store.CreateRole(ctx, sqlite.Role{Code: "manager", Name: "Manager"})
	if err != nil {
		return fmt.Errorf("create role manager: %w", err)
	}
	if err := store.GrantRolePermissions(ctx, managerRole, all...); err != nil {
		return err
	}
	staffRole, err := store.CreateRole(ctx, sqlite.Role{Code: "staff", Name: "Staff", DaysLimit: &staffDays})
	if err != nil {
		return fmt.Errorf("create role staff: %w", err)
	}
	if err := store.GrantRolePermissions(ctx, staffRole, staffPermissions...); err != nil {
		return err
	}

	users := []struct {
		name, role string
		roleID     int64
		admin      bool
	}{
		{"admin", "", 0, true},
		{"manager", "manager", managerRole, false},
		{"staff", "staff", staffRole, false},
	}
	for _, u := range users {
		id, err := store.CreateUser(ctx, u.name, u.roleID, u.admin)
		if err != nil {
			return fmt.Errorf("create user %s: %w", u.name, err)
		}
		c.users = append(c.users, DemoUserDTO{ID: int64(id), Username: u.name, Role: u.role, IsAdmin: u.admin})
	}
	return nil
}

// demoEntry is one seeded entry, dated daysAgo before today.
type demoEntry struct {
	daysAgo  int
	worker   string
	job      string
	amount   string
	bank     bool
	jobNo2   string
	customer string // custom customer rate, "" for the list price
	wage     string // custom wage rate, "" for the tier rate
}

// seedEntries prepares every entry through the service and confirms them.
func (h *Handler) seedEntries(ctx context.Context, c *demoCompany, entries []demoEntry) (int, error) {
	today := h.Clock.Today()
	var pending payroll.PendingSet
	for i, e := range entries {
		in := payroll.EntryInput{
			WorkerID: c.workers[e.worker],
			JobCode:  e.job,
			Amount:   generic.MustParseDecimal(e.amount),
			WorkDate: today.AddDays(-e.daysAgo).String(),
			JobNo1:   fmt.Sprintf("TRX-%04d", i+1),
			JobNo2:   e.jobNo2,
			IsBank:   e.bank,
		}
		if e.customer != "" {
			in.Override.CustomerRate = decimal.NewNullDecimal(generic.MustParseDecimal(e.customer))
		}
		if e.wage != "" {
			in.Override.WageRate = decimal.NewNullDecimal(generic.MustParseDecimal(e.wage))
		}
		if _, err := h.Service.PrepareEntry(ctx, c.id, in, &pending); err != nil {
			return 0, fmt.Errorf("seed entry %d: %w", i+1, err)
		}
	}

	res := h.Service.Confirm(ctx, c.id, &pending)
	if res.Failed > 0 {
		return len(res.Saved), fmt.Errorf("seed entries: %d not saved: %s", res.Failed, pending.Entries[0].LastError)
	}
	return len(res.Saved), nil
}

func (c *demoCompany) response(entries int) LoadScenarioResponse {
	workers := make(map[string]int64, len(c.workers))
	for code, id := range c.workers {
		workers[code] = int64(id)
	}
	return LoadScenarioResponse{CompanyID: int64(c.id), Workers: workers, Users: c.users, Entries: entries}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadTwinReflexologyScenario(ctx context.Context) (LoadScenarioResponse, error) {
	c, err := h.seedCompany(ctx, 30)
	if err != nil {
		return LoadScenarioResponse{}, err
	}
	n, err := h.seedEntries(ctx, c, []demoEntry{
		{daysAgo: 13, worker: "101", job: "JC01", amount: "1"},
		{daysAgo: 12, worker: "102", job: "JC01-1", amount: "1", bank: true},
		{daysAgo: 10, worker: "201", job: "JC02", amount: "2"},
		{daysAgo: 7, worker: "101", job: "JC01-2", amount: "1", bank: true, jobNo2: "B-17"},
		{daysAgo: 5, worker: "102", job: "JC01", amount: "1.5", wage: "30"},
		{daysAgo: 3, worker: "201", job: "JC01", amount: "1", bank: true},
		{daysAgo: 1, worker: "101", job: "MISC", amount: "1", customer: "45"},
	})
	if err != nil {
		return LoadScenarioResponse{}, err
	}
	return c.response(n), nil
}

func (h *Handler) loadOver20KScenario(ctx context.Context) (LoadScenarioResponse, error) {
	c, err := h.seedCompany(ctx, 30)
	if err != nil {
		return LoadScenarioResponse{}, err
	}
	if _, err := h.Service.UpdateCompanyRules(ctx, c.id, []payroll.RuleCode{payroll.RuleOver20K5050}); err != nil {
		return LoadScenarioResponse{}, err
	}

	// Kept in the current month so the next entry crosses the threshold.
	today := h.Clock.Today()
	daysAgo := 0
	if today.Day() > 1 {
		daysAgo = 1
	}
	n, err := h.seedEntries(ctx, c, []demoEntry{
		{daysAgo: daysAgo, worker: "101", job: "JC01", amount: "1", customer: "19900", bank: true},
	})
	if err != nil {
		return LoadScenarioResponse{}, err
	}
	return c.response(n), nil
}

func (h *Handler) loadEditWindowScenario(ctx context.Context) (LoadScenarioResponse, error) {
	c, err := h.seedCompany(ctx, 30)
	if err != nil {
		return LoadScenarioResponse{}, err
	}

	limited, err := h.Demo.CreateUser(ctx, "weekly", 0, false)
	if err != nil {
		return LoadScenarioResponse{}, fmt.Errorf("create user weekly: %w", err)
	}
	week := 7
	if err := h.Demo.SetDaysOverride(ctx, limited, &week); err != nil {
		return LoadScenarioResponse{}, err
	}
	c.users = append(c.users, DemoUserDTO{ID: int64(limited), Username: "weekly", Role: "override:7d"})

	var entries []demoEntry
	workers := []string{"101", "102", "201"}
	for days := 0; days <= 60; days += 5 {
		entries = append(entries, demoEntry{
			daysAgo: days,
			worker:  workers[(days/5)%len(workers)],
			job:     "JC01",
			amount:  "1",
			bank:    days%10 == 0,
		})
	}
	n, err := h.seedEntries(ctx, c, entries)
	if err != nil {
		return LoadScenarioResponse{}, err
	}
	return c.response(n), nil
}
