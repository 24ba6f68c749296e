package inbox

import (
	"fmt"
	"strings"
)

// Query is a conjunction of terms:
//
//	in:<folder>      folder equals
//	is:read|unread   read flag
//	label:<name>     label present
//	from:<text>      sender contains, case-insensitive
//	<word>           subject or body contains, case-insensitive
type Query struct {
	Folder string
	Read   *bool
	Labels []string
	From   []string
	Words  []string
}

func ParseQuery(raw string) (Query, error) {
	var q Query
	for _, term := range strings.Fields(raw) {
		key, value, hasKey := strings.Cut(term, ":")
		if !hasKey || value == "" {
			q.Words = append(q.Words, strings.ToLower(term))
			continue
		}
		switch strings.ToLower(key) {
		case "in":
			q.Folder = strings.ToLower(value)
		case "is":
			switch strings.ToLower(value) {
			case "read":
				read := true
				q.Read = &read
			case "unread":
				read := false
				q.Read = &read
			default:
				return Query{}, fmt.Errorf("unsupported query term %q", term)
			}
		case "label":
			q.Labels = append(q.Labels, strings.ToLower(value))
		case "from":
			q.From = append(q.From, strings.ToLower(value))
		default:
			q.Words = append(q.Words, strings.ToLower(term))
		}
	}
	return q, nil
}

func (q Query) Match(msg Message) bool {
	if q.Folder != "" && !strings.EqualFold(msg.Folder, q.Folder) {
		return false
	}
	if q.Read != nil && msg.Read != *q.Read {
		return false
	}
	for _, want := range q.Labels {
		if !hasLabel(msg.Labels, want) {
			return false
		}
	}
	from := strings.ToLower(msg.From)
	for _, want := range q.From {
		if !strings.Contains(from, want) {
			return false
		}
	}
	text := strings.ToLower(msg.Subject + "\n" + msg.Body)
	for _, word := range q.Words {
		if !strings.Contains(text, word) {
			return false
		}
	}
	return true
}

func hasLabel(labels []string, want string) bool {
	for _, label := range labels {
		if strings.EqualFold(label, want) {
			return true
		}
	}
	return false
}
