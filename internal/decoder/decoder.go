// Package decoder turns raw webhook bodies into loosely typed tracking
// entries. The retranslator sends the same logical payload in JSON, SOAP/XML
// or form encoding depending on its configuration, so all three decoders
// produce the same entry shape.
package decoder

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"github.com/clbanning/mxj/v2"

	"wialon-bridge/internal/models"
	"wialon-bridge/internal/observability"
)

// Entry is one decoded, not-yet-validated tracking submission.
type Entry map[string]any

// trackingIndicators are the keys whose presence marks a substructure as a
// tracking entry during the SOAP tree search.
var trackingIndicators = []string{
	"coordX", "coordY", "gpsCode", "latitude", "longitude",
	"unitId", "unit_id", "telemetryDetails", "lat", "lon",
}

// Decoder dispatches on content type and decodes payloads to entries.
type Decoder struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Decoder {
	return &Decoder{log: log}
}

// Decode picks a decoder from the declared content type, falling back to a
// first-byte sniff when the header is absent or unrecognized. It returns the
// decoded entries together with the encoding label attached to records as
// provenance. Malformed payloads yield zero entries, never an error.
func (d *Decoder) Decode(contentType string, body []byte, form url.Values) ([]Entry, string) {
	switch {
	case strings.Contains(contentType, "application/json"):
		return d.decodeJSON(body), models.EncodingJSON
	case strings.Contains(contentType, "application/xml"),
		strings.Contains(contentType, "text/xml"),
		strings.Contains(contentType, "soap+xml"):
		return d.decodeXML(body), models.EncodingXML
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		return d.decodeForm(body, form), models.EncodingForm
	}

	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return d.decodeJSON(body), models.EncodingJSON
	case strings.HasPrefix(trimmed, "<"):
		return d.decodeXML(body), models.EncodingXML
	default:
		return d.decodeForm(body, form), models.EncodingForm
	}
}

// decodeJSON accepts a single object or an array of objects. Array elements
// that are not objects are dropped.
func (d *Decoder) decodeJSON(body []byte) []Entry {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		d.log.Error("json decode failed", "error", err)
		observability.ParseErrors.WithLabelValues(models.EncodingJSON).Inc()
		return nil
	}

	var entries []Entry
	switch v := data.(type) {
	case map[string]any:
		entries = append(entries, Entry(v))
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				entries = append(entries, Entry(m))
			}
		}
	}
	return entries
}

// decodeForm treats the whole form as exactly one entry. When the request
// body was not parsed upstream (sniffed form payloads), it is parsed here.
func (d *Decoder) decodeForm(body []byte, form url.Values) []Entry {
	if len(form) == 0 && len(body) > 0 {
		parsed, err := url.ParseQuery(strings.TrimSpace(string(body)))
		if err != nil {
			d.log.Error("form decode failed", "error", err)
			observability.ParseErrors.WithLabelValues(models.EncodingForm).Inc()
			return nil
		}
		form = parsed
	}
	if len(form) == 0 {
		return nil
	}
	entry := Entry{}
	for key, values := range form {
		if len(values) > 0 {
			entry[key] = values[0]
		}
	}
	return []Entry{entry}
}

// decodeXML parses the body into a generic map tree. A SOAP envelope is
// unwrapped to its Body element by name match regardless of namespace
// prefix; the body (or the whole tree for plain XML) is then searched
// recursively for substructures carrying tracking-indicator keys.
func (d *Decoder) decodeXML(body []byte) []Entry {
	tree, err := mxj.NewMapXml(body)
	if err != nil {
		d.log.Error("xml decode failed", "error", err)
		observability.ParseErrors.WithLabelValues(models.EncodingXML).Inc()
		return nil
	}

	root := map[string]any(tree)
	search := root
	if envelope, ok := childByNameContains(root, "Envelope"); ok {
		search = envelope
		if soapBody, ok := childByNameContains(envelope, "Body"); ok {
			search = soapBody
		}
	}

	var entries []Entry
	collectEntries(search, &entries)
	return entries
}

// childByNameContains finds the first child map whose element name contains
// the given fragment, ignoring namespace prefixes.
func childByNameContains(node map[string]any, fragment string) (map[string]any, bool) {
	for key, value := range node {
		if !strings.Contains(key, fragment) {
			continue
		}
		if m, ok := value.(map[string]any); ok {
			return m, true
		}
	}
	return nil, false
}

// collectEntries walks the tree depth first. A map exposing any tracking
// indicator key becomes an entry; descent continues below it so sibling and
// nested submissions in one envelope are all collected.
func collectEntries(node any, entries *[]Entry) {
	switch v := node.(type) {
	case map[string]any:
		for _, indicator := range trackingIndicators {
			if _, ok := v[indicator]; ok {
				*entries = append(*entries, Entry(v))
				break
			}
		}
		for _, child := range v {
			collectEntries(child, entries)
		}
	case []any:
		for _, item := range v {
			collectEntries(item, entries)
		}
	}
}
