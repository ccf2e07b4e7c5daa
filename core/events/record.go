package events

// Record is the flattened form of an event: a type plus string attributes.
// Indexers persist it and streaming clients receive it as JSON.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the named attribute, or the empty string when absent.
func (r *Record) Attr(key string) string {
	if r == nil || r.Attributes == nil {
		return ""
	}
	return r.Attributes[key]
}
