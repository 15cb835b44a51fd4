// Package visibility applies role-based field allow-lists to record field
// bags. The rules live in the store and are owned by portal administrators;
// this package only consumes them.
package visibility

import (
	"context"
	"strings"

	"github.com/harborview/lp-portal-sync/internal/airtable"
)

// Role identifies which allow-list column applies to a request.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleInvestor Role = "investor"
)

// ParseRole maps a request-supplied role name onto a known role, defaulting
// to the restricted investor role.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleInvestor
}

// Rule hides or shows one field of one table per role. A field with no rule
// is visible to everyone.
type Rule struct {
	Table    string
	Field    string
	Admin    bool
	Investor bool
}

// Rules is an immutable rule set keyed by (table, field).
type Rules struct {
	byKey map[string]Rule
}

// NewRules builds a rule set.
func NewRules(rules []Rule) *Rules {
	byKey := make(map[string]Rule, len(rules))
	for _, r := range rules {
		byKey[key(r.Table, r.Field)] = r
	}
	return &Rules{byKey: byKey}
}

// Lister is the store operation needed to load rules.
type Lister interface {
	ListAll(ctx context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error)
}

// Load reads the rule set from its store table. Rule records carry a Table
// and Field name plus one visibility checkbox per role; Airtable omits
// unchecked checkboxes from the field bag entirely, so absence means hidden.
func Load(ctx context.Context, store Lister, table string) (*Rules, error) {
	records, err := store.ListAll(ctx, table, airtable.ListOptions{})
	if err != nil {
		return nil, err
	}
	rules := make([]Rule, 0, len(records))
	for _, rec := range records {
		tbl, _ := rec.Fields["Table"].(string)
		field, _ := rec.Fields["Field"].(string)
		if tbl == "" || field == "" {
			continue
		}
		rules = append(rules, Rule{
			Table:    tbl,
			Field:    field,
			Admin:    truthy(rec.Fields["Admin Visible"]),
			Investor: truthy(rec.Fields["Investor Visible"]),
		})
	}
	return NewRules(rules), nil
}

// Filter projects a field bag down to what the role may see. The input map
// is not modified.
func (r *Rules) Filter(role Role, table string, fields map[string]any) map[string]any {
	if r == nil || len(r.byKey) == 0 {
		return fields
	}
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		if r.visible(role, table, name) {
			out[name] = value
		}
	}
	return out
}

// FilterRecord applies Filter to a record, returning a filtered copy.
func (r *Rules) FilterRecord(role Role, table string, rec airtable.Record) airtable.Record {
	rec.Fields = r.Filter(role, table, rec.Fields)
	return rec
}

func (r *Rules) visible(role Role, table, field string) bool {
	rule, ok := r.byKey[key(table, field)]
	if !ok {
		return true
	}
	if role == RoleAdmin {
		return rule.Admin
	}
	return rule.Investor
}

func key(table, field string) string {
	return strings.ToLower(table) + "\x00" + strings.ToLower(field)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return strings.EqualFold(val, "true") || val == "1" || strings.EqualFold(val, "checked")
	default:
		return false
	}
}
