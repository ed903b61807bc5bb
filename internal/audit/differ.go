package audit

import (
	"context"
	"encoding/json"
	"fmt"
)

// Snapshot is the flattened field state of an entity before or after a
// mutation.
type Snapshot map[string]any

// LabelLookup resolves a foreign key into its human-readable label. The
// second return is false when the referenced row no longer exists.
type LabelLookup interface {
	Label(ctx context.Context, id int64) (string, bool, error)
}

// Reference declares how a foreign-key field is rendered in a diff: the raw
// id is dropped and the resolved label appears under OutputField, falling
// back to Fallback when the row is gone.
type Reference struct {
	OutputField string
	Fallback    string
	Lookup      LabelLookup
}

// Policy classifies the fields of an audited entity. System fields are
// storage bookkeeping and never appear in output; sensitive fields are
// redacted on both sides regardless of their values; reference fields are
// resolved to labels; everything else is emitted as a literal old/new pair.
type Policy struct {
	system     map[string]struct{}
	sensitive  map[string]struct{}
	references map[string]Reference
}

// NewPolicy returns a policy pre-loaded with the platform-wide system and
// sensitive field conventions.
func NewPolicy() *Policy {
	p := &Policy{
		system:     make(map[string]struct{}),
		sensitive:  make(map[string]struct{}),
		references: make(map[string]Reference),
	}
	p.WithSystem(
		"created_at", "updated_at", "deleted_at",
		"createdAt", "updatedAt", "deletedAt",
		"created_by", "updated_by",
	)
	p.WithSensitive("password", "token", "secret")
	return p
}

// WithSystem marks additional fields as system bookkeeping.
func (p *Policy) WithSystem(fields ...string) *Policy {
	for _, f := range fields {
		p.system[f] = struct{}{}
	}
	return p
}

// WithSensitive marks additional fields as sensitive.
func (p *Policy) WithSensitive(fields ...string) *Policy {
	for _, f := range fields {
		p.sensitive[f] = struct{}{}
	}
	return p
}

// WithReference declares a foreign-key field.
func (p *Policy) WithReference(field string, ref Reference) *Policy {
	if ref.OutputField == "" {
		ref.OutputField = field
	}
	p.references[field] = ref
	return p
}

// DiffOptions tunes a single diff computation. Overrides are merged into the
// computed change set verbatim, letting business logic assert derived fields
// (role memberships, resolved labels) that are not native columns. Force
// keeps an otherwise empty update from collapsing into a no-op.
type DiffOptions struct {
	Overrides map[string]any
	Force     bool
}

// Differ computes redacted, FK-resolved change sets.
type Differ struct {
	policy *Policy
}

// NewDiffer constructs a Differ over the given policy.
func NewDiffer(policy *Policy) *Differ {
	if policy == nil {
		policy = NewPolicy()
	}
	return &Differ{policy: policy}
}

// ForUpdate builds the details document for a mutation of an existing
// entity. Only fields named in changed are considered. A nil result with a
// nil error means the change set was empty after filtering and no audit
// entry should be produced.
func (d *Differ) ForUpdate(ctx context.Context, prev, curr Snapshot, changed []string, opts DiffOptions) (map[string]any, error) {
	changes := make(map[string]any)
	for _, field := range changed {
		if _, ok := d.policy.system[field]; ok {
			continue
		}
		if _, ok := d.policy.sensitive[field]; ok {
			changes[field] = FieldChange{Old: RedactedValue, New: RedactedValue}
			continue
		}
		if ref, ok := d.policy.references[field]; ok {
			oldLabel, err := d.resolveLabel(ctx, ref, prev[field])
			if err != nil {
				return nil, err
			}
			newLabel, err := d.resolveLabel(ctx, ref, curr[field])
			if err != nil {
				return nil, err
			}
			changes[ref.OutputField] = FieldChange{Old: oldLabel, New: newLabel}
			continue
		}
		changes[field] = FieldChange{Old: prev[field], New: curr[field]}
	}

	for field, value := range opts.Overrides {
		changes[field] = value
	}

	if len(changes) == 0 && !opts.Force {
		return nil, nil
	}

	return map[string]any{
		DetailChanges:     changes,
		DetailDisplayName: displayName(curr),
	}, nil
}

// ForCreate builds the details document for a newly created entity: the full
// snapshot minus system fields, with sensitive values redacted and foreign
// keys replaced by their resolved labels.
func (d *Differ) ForCreate(ctx context.Context, snap Snapshot, opts DiffOptions) (map[string]any, error) {
	data := make(map[string]any, len(snap))
	for field, value := range snap {
		if _, ok := d.policy.system[field]; ok {
			continue
		}
		if _, ok := d.policy.sensitive[field]; ok {
			data[field] = RedactedValue
			continue
		}
		if ref, ok := d.policy.references[field]; ok {
			label, err := d.resolveLabel(ctx, ref, value)
			if err != nil {
				return nil, err
			}
			data[ref.OutputField] = label
			continue
		}
		data[field] = value
	}

	for field, value := range opts.Overrides {
		data[field] = value
	}

	return map[string]any{
		DetailData:        data,
		DetailDisplayName: displayName(snap),
	}, nil
}

func (d *Differ) resolveLabel(ctx context.Context, ref Reference, raw any) (string, error) {
	id, ok := toInt64(raw)
	if !ok {
		return ref.Fallback, nil
	}
	if ref.Lookup == nil {
		return ref.Fallback, nil
	}
	label, found, err := ref.Lookup.Label(ctx, id)
	if err != nil {
		return "", fmt.Errorf("audit: resolve reference label: %w", err)
	}
	if !found {
		return ref.Fallback, nil
	}
	return label, nil
}

// displayName probes the snapshot for the first present human-friendly name
// field, in priority order.
func displayName(snap Snapshot) any {
	for _, field := range []string{"nombre", "name", "username"} {
		if value, ok := snap[field]; ok {
			if s, ok := value.(string); ok && s != "" {
				return s
			}
		}
	}
	return nil
}

func toInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		id, err := v.Int64()
		return id, err == nil
	case *int64:
		if v == nil {
			return 0, false
		}
		return *v, true
	default:
		return 0, false
	}
}
