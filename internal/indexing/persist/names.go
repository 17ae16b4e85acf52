package persist

import (
	"strconv"
	"strings"
)

// maxIdentifier is the longest name PostgreSQL keeps; longer names are truncated
// by the server, so they are truncated here to match what the catalog reports.
const maxIdentifier = 63

// reserved maps column names that collide with SQL keywords.
var reserved = map[string]string{
	"to":     "turnovers",
	"from":   "from_field",
	"order":  "order_field",
	"group":  "group_field",
	"select": "select_field",
	"where":  "where_field",
	"having": "having_field",
	"union":  "union_field",
	"user":   "user_field",
}

// ColumnName canonicalizes a response column: alphanumerics only, lower case,
// reserved words remapped.
func ColumnName(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if mapped, ok := reserved[name]; ok {
		return mapped
	}
	return name
}

// identifier lower-cases s and turns every run of other characters into a
// single underscore.
func identifier(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// DimensionColumn canonicalizes a dimension's storage column, keeping underscores.
func DimensionColumn(name string) string {
	return identifier(name)
}

// TablePrefix returns the prefix shared by every physical table of a source.
func TablePrefix(prefix, source string) string {
	return identifier(prefix+"_"+source) + "_"
}

// TableName returns the physical table of one sub-result of a source.
func TableName(prefix, source, sub string) string {
	name := TablePrefix(prefix, source) + identifier(sub)
	if len(name) > maxIdentifier {
		name = name[:maxIdentifier]
	}
	return strings.TrimRight(name, "_")
}

// Owned filters tables down to those belonging to source. A table that also
// matches the prefix of a longer sibling source name belongs to that sibling.
func Owned(tables []string, prefix, source string, siblings []string) []string {
	own := TablePrefix(prefix, source)
	var longer []string
	for _, s := range siblings {
		p := TablePrefix(prefix, s)
		if len(p) > len(own) && strings.HasPrefix(p, own) {
			longer = append(longer, p)
		}
	}

	var out []string
next:
	for _, t := range tables {
		if !strings.HasPrefix(t, own) {
			continue
		}
		for _, p := range longer {
			if strings.HasPrefix(t, p) {
				continue next
			}
		}
		out = append(out, t)
	}
	return out
}

// columnNames canonicalizes a header, naming blanks by position and suffixing
// duplicates. Names already taken (dimension columns) are treated as duplicates.
func columnNames(header []string, taken map[string]bool) []string {
	out := make([]string, len(header))
	for i, raw := range header {
		name := ColumnName(raw)
		if name == "" {
			name = "col" + strconv.Itoa(i)
		}
		base := name
		for n := 2; taken[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		taken[name] = true
		out[i] = name
	}
	return out
}
