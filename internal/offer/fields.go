package offer

import "strings"

// ParseFields flattens a field allow-list given as comma lists and/or
// repeated values. Blank names are ignored and duplicates collapsed.
func ParseFields(values ...string) []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			fields = append(fields, name)
		}
	}
	return fields
}

// Select prunes each offer to the requested top-level keys. With no fields
// the offers are returned whole.
func Select(offers []*NormalizedOffer, fields []string) []any {
	out := make([]any, 0, len(offers))
	for _, o := range offers {
		if len(fields) == 0 {
			out = append(out, o)
			continue
		}
		all := o.Fields()
		pruned := make(map[string]any, len(fields))
		for _, name := range fields {
			if v, ok := all[name]; ok {
				pruned[name] = v
			}
		}
		out = append(out, pruned)
	}
	return out
}
