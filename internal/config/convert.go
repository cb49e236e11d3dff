package config

import "strings"

// NormalizeTickers trims, upper-cases and de-duplicates market names while
// keeping their order.
func NormalizeTickers(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, ticker := range in {
		v := strings.ToUpper(strings.TrimSpace(ticker))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
