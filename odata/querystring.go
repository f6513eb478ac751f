package odata

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// knownOptions lists every "$"-prefixed query option this subset
// understands. Any other "$"-prefixed key is rejected at parse time (spec
// §4.2: unknown reserved options are a validation error, not silently
// ignored, so a typo doesn't silently change a query's semantics).
var knownOptions = map[string]bool{
	"$filter": true, "$orderby": true, "$select": true,
	"$skip": true, "$top": true, "$count": true,
}

// ParseQueryString decodes the OData-subset query-string encoding of a
// QueryDescription (spec §4.2). It is tolerant of absent fields and
// preserves unrecognized, non-"$"/"__"-prefixed parameters in Params (key
// lowercased, value verbatim) so embedder-defined filters survive a round
// trip.
func ParseQueryString(raw string) (*QueryDescription, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("odata: malformed query string: %w", err)
	}

	q := &QueryDescription{Params: map[string]string{}}

	for key, vs := range values {
		if len(vs) == 0 {
			continue
		}
		val := vs[0]
		lower := strings.ToLower(key)

		switch {
		case lower == "$filter":
			node, err := ParseFilter(val)
			if err != nil {
				return nil, err
			}
			q.Filter = node
		case lower == "$orderby":
			clauses, err := parseOrderBy(val)
			if err != nil {
				return nil, err
			}
			q.OrderBy = clauses
		case lower == "$select":
			q.Select = splitNonEmpty(val, ',')
		case lower == "$skip":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("odata: invalid $skip %q: %w", val, err)
			}
			q.Skip = &n
		case lower == "$top":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("odata: invalid $top %q: %w", val, err)
			}
			q.Top = &n
		case lower == "$count":
			q.RequestTotalCount = strings.EqualFold(val, "true")
		case lower == "__includedeleted":
			q.IncludeDeleted = strings.EqualFold(val, "true")
		case strings.HasPrefix(key, "$"):
			if !knownOptions[lower] {
				return nil, fmt.Errorf("odata: unknown reserved query option %q", key)
			}
		case strings.HasPrefix(key, "__"):
			// other reserved (double-underscore) options besides
			// __includedeleted are not part of this subset; ignore rather
			// than reject so a newer server's extra reserved params don't
			// break an older client.
		default:
			q.Params[lower] = val
		}
	}

	return q, nil
}

func parseOrderBy(val string) ([]OrderClause, error) {
	terms := splitNonEmpty(val, ',')
	clauses := make([]OrderClause, 0, len(terms))
	for _, term := range terms {
		fields := strings.Fields(term)
		if len(fields) == 0 {
			continue
		}
		ascending := true
		if len(fields) > 1 {
			switch strings.ToLower(fields[1]) {
			case "desc":
				ascending = false
			case "asc":
				ascending = true
			default:
				return nil, fmt.Errorf("odata: invalid $orderby direction %q", fields[1])
			}
		}
		clauses = append(clauses, OrderClause{Path: strings.Split(fields[0], "."), Ascending: ascending})
	}
	return clauses, nil
}

func splitNonEmpty(s string, sep byte) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, string(sep))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// ValidateParamKey rejects user-supplied query parameter keys that collide
// with the reserved namespaces ("$" and "__"), since those are reserved for
// this subset's own options and future extensions (spec §4.2).
func ValidateParamKey(key string) error {
	if strings.HasPrefix(key, "$") || strings.HasPrefix(key, "__") {
		return &ParamError{Key: key, Message: "parameter keys starting with \"$\" or \"__\" are reserved"}
	}
	return nil
}

// ParamError marks a reserved-namespace collision in a caller-supplied query
// parameter.
type ParamError struct {
	Key     string
	Message string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("odata: invalid parameter %q: %s", e.Key, e.Message)
}

// EncodedQueryString renders ToQueryString with every value percent-encoded,
// the form the pipeline's HTTP transport sends on the wire.
func (q *QueryDescription) EncodedQueryString() string {
	raw := q.ToQueryString()
	if raw == "" {
		return ""
	}
	pairs := strings.Split(raw, "&")
	encoded := make([]string, len(pairs))
	for i, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			encoded[i] = url.QueryEscape(kv[0])
			continue
		}
		encoded[i] = url.QueryEscape(kv[0]) + "=" + url.QueryEscape(kv[1])
	}
	return strings.Join(encoded, "&")
}
