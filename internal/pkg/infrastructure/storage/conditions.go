package storage

import (
	"context"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/jackc/pgx/v5"
)

type ConditionFunc func(*Condition) *Condition

type Condition struct {
	PatientID string
	AlertID   string
	Signal    string

	AlertCondition string
	States         []string
	Severities     []string

	Tenant  string
	Tenants []string

	Active *bool

	NotObservedSince time.Time
	Since            time.Time
	Until            time.Time

	Search string

	IncludeDeleted bool

	sortBy    string
	sortOrder string

	offset *int
	limit  *int
}

func (c Condition) SortBy() string {
	return c.sortBy
}

func (c Condition) SortOrder() string {
	if c.sortOrder == "" {
		return "ASC"
	}
	return c.sortOrder
}

func (c Condition) Offset() int {
	if c.offset == nil {
		return 0
	}
	return *c.offset
}

func (c Condition) Limit() int {
	if c.limit == nil {
		return 0
	}
	return *c.limit
}

func (c Condition) NamedArgs() pgx.NamedArgs {
	args := pgx.NamedArgs{}

	if c.PatientID != "" {
		args["patient_id"] = c.PatientID
	}
	if c.AlertID != "" {
		args["alert_id"] = c.AlertID
	}
	if c.Signal != "" {
		args["signal"] = c.Signal
	}
	if c.AlertCondition != "" {
		args["condition"] = c.AlertCondition
	}
	if len(c.States) > 0 {
		args["states"] = c.States
	}
	if len(c.Severities) > 0 {
		args["severities"] = c.Severities
	}
	if c.Tenant != "" {
		args["tenant"] = c.Tenant
	}
	if c.Tenants != nil {
		args["tenants"] = c.Tenants
	}
	if c.Active != nil {
		args["active"] = *c.Active
	}
	if !c.NotObservedSince.IsZero() {
		args["not_observed_since"] = c.NotObservedSince.UTC()
	}
	if !c.Since.IsZero() {
		args["since"] = c.Since.UTC()
	}
	if !c.Until.IsZero() {
		args["until"] = c.Until.UTC()
	}
	if c.Search != "" {
		args["search"] = "%" + c.Search + "%"
	}

	return args
}

// Where renders the accumulated predicates without the WHERE keyword so
// callers can append table specific clauses. An empty condition set renders
// as TRUE to keep the generated SQL valid.
func (c Condition) Where() string {
	where := []string{}

	if c.PatientID != "" {
		where = append(where, "patient_id = @patient_id")
	}

	if c.AlertID != "" {
		where = append(where, "alert_id = @alert_id")
	}

	if c.Signal != "" {
		where = append(where, "signal = @signal")
	}

	if c.AlertCondition != "" {
		where = append(where, "condition = @condition")
	}

	if len(c.States) > 0 {
		where = append(where, "state = ANY(@states)")
	}

	if len(c.Severities) > 0 {
		where = append(where, "severity = ANY(@severities)")
	}

	if len(c.Tenant) > 0 && len(c.Tenants) > 0 && slices.Contains(c.Tenants, c.Tenant) {
		where = append(where, "tenant = @tenant")
	} else if len(c.Tenants) > 0 {
		where = append(where, "tenant = ANY(@tenants)")
	}

	if c.Active != nil {
		where = append(where, "active = @active")
	}

	if !c.NotObservedSince.IsZero() {
		where = append(where, "(last_observed_at IS NULL OR last_observed_at < @not_observed_since)")
	}

	if !c.Since.IsZero() {
		where = append(where, "created_on >= @since")
	}

	if !c.Until.IsZero() {
		where = append(where, "created_on <= @until")
	}

	if c.Search != "" {
		where = append(where, "(patient_id ILIKE @search OR name ILIKE @search)")
	}

	if len(where) == 0 {
		return "TRUE"
	}

	return strings.Join(where, " AND ")
}

var re = regexp.MustCompile(`[^a-zA-ZåäöÅÄÖ0-9 _,;().-]+|[%]`)

func WithSearch(s string) ConditionFunc {
	return func(c *Condition) *Condition {
		s = re.ReplaceAllString(s, "")
		c.Search = strings.TrimSpace(s)
		return c
	}
}

func WithPatientID(patientID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.PatientID = patientID
		return c
	}
}

func WithAlertID(alertID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.AlertID = alertID
		return c
	}
}

func WithSignal(signal string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Signal = signal
		return c
	}
}

func WithAlertCondition(condition string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.AlertCondition = condition
		return c
	}
}

func WithStates(states []string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.States = states
		return c
	}
}

func WithSeverities(severities []string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Severities = severities
		return c
	}
}

func WithTenant(tenant string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Tenants = append(c.Tenants, tenant)
		c.Tenants = unique(c.Tenants)
		c.Tenant = tenant
		return c
	}
}

func WithTenants(tenants []string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Tenants = unique(tenants)
		return c
	}
}

func WithActive(active bool) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Active = &active
		return c
	}
}

func WithNotObservedSince(ts time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.NotObservedSince = ts
		return c
	}
}

func WithSince(ts time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Since = ts
		return c
	}
}

func WithUntil(ts time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Until = ts
		return c
	}
}

func WithOffset(offset int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.offset = &offset
		return c
	}
}

func WithLimit(limit int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.limit = &limit
		return c
	}
}

func WithSortBy(sortBy string) ConditionFunc {
	return func(c *Condition) *Condition {
		switch strings.ToLower(sortBy) {
		case "patient_id":
			c.sortBy = "patient_id"
		case "created":
			fallthrough
		case "created_on":
			c.sortBy = "created_on"
		case "severity":
			c.sortBy = "severity"
		case "state":
			c.sortBy = "state"
		case "name":
			c.sortBy = "name"
		}
		return c
	}
}

func WithSortDesc(desc bool) ConditionFunc {
	return func(c *Condition) *Condition {
		if desc {
			c.sortOrder = "DESC"
		} else {
			c.sortOrder = "ASC"
		}
		return c
	}
}

func WithDeleted() ConditionFunc {
	return func(c *Condition) *Condition {
		c.IncludeDeleted = true
		return c
	}
}

func unique(s []string) []string {
	keys := make(map[string]bool)
	list := []string{}
	for _, entry := range s {
		if _, value := keys[entry]; !value {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

func ParseConditions(ctx context.Context, params map[string][]string) []ConditionFunc {
	log := logging.GetFromContext(ctx)

	conditions := make([]ConditionFunc, 0)

	for k, v := range params {
		switch strings.ToLower(k) {
		case "patient_id":
			conditions = append(conditions, WithPatientID(v[0]))
		case "state":
			conditions = append(conditions, WithStates(v))
		case "severity":
			conditions = append(conditions, WithSeverities(v))
		case "condition":
			conditions = append(conditions, WithAlertCondition(v[0]))
		case "limit":
			limit, _ := strconv.Atoi(v[0])
			conditions = append(conditions, WithLimit(limit))
		case "offset":
			offset, _ := strconv.Atoi(v[0])
			conditions = append(conditions, WithOffset(offset))
		case "sortby":
			conditions = append(conditions, WithSortBy(v[0]))
		case "sortorder":
			conditions = append(conditions, WithSortDesc(strings.EqualFold(v[0], "desc")))
		case "search":
			conditions = append(conditions, WithSearch(v[0]))
		case "since":
			if t, err := time.Parse(time.RFC3339, v[0]); err == nil {
				conditions = append(conditions, WithSince(t))
			}
		case "until":
			if t, err := time.Parse(time.RFC3339, v[0]); err == nil {
				conditions = append(conditions, WithUntil(t))
			}
		default:
			log.Debug("unknown query parameter", "param", k, "value", v[0])
		}
	}

	return conditions
}
