package pagination

import "strings"

// LinkHeader is the (lower-cased) response header carrying continuation links.
const LinkHeader = "link"

// NextLink returns the continuation URL from a Link header such as
//
//	<https://api.ciscospark.com/v1/rooms?max=100&cursor=abc>; rel="next"
//
// The entry with rel="next" wins. A header whose entries carry no rel at all
// is treated as a bare continuation and its first URL is used.
func NextLink(headers map[string]string) (string, bool) {
	value := strings.TrimSpace(headers[LinkHeader])
	if value == "" {
		return "", false
	}

	first := ""
	sawRel := false
	for _, entry := range splitLinks(value) {
		target, params, ok := parseLink(entry)
		if !ok {
			continue
		}
		if first == "" {
			first = target
		}
		rels, hasRel := params["rel"]
		if !hasRel {
			continue
		}
		sawRel = true
		for _, rel := range strings.Fields(rels) {
			if strings.EqualFold(rel, "next") {
				return target, true
			}
		}
	}

	if !sawRel && first != "" {
		return first, true
	}
	return "", false
}

// splitLinks splits on commas that are outside <...>.
func splitLinks(value string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range value {
		switch r {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, value[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, value[start:])
}

func parseLink(entry string) (string, map[string]string, bool) {
	entry = strings.TrimSpace(entry)
	if !strings.HasPrefix(entry, "<") {
		return "", nil, false
	}
	end := strings.Index(entry, ">")
	if end < 0 {
		return "", nil, false
	}
	target := strings.TrimSpace(entry[1:end])
	if target == "" {
		return "", nil, false
	}

	params := make(map[string]string)
	for _, p := range strings.Split(entry[end+1:], ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		params[strings.ToLower(strings.TrimSpace(key))] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return target, params, true
}
