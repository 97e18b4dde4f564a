package ajax

import (
	"strings"

	"github.com/tidwall/sjson"
)

// Result is the settled outcome of a request run with Do.
type Result struct {
	ID      string
	Kind    Kind
	Payload any
	Info    string
	Details *ResponseDetails
	Code    int
}

// Err returns the sentinel error of the result kind, nil on success.
func (r Result) Err() error {
	return r.Kind.Err()
}

// JSON encodes the result as {"id","kind","info","code","payload","headers"},
// headers being the response headers joined by ",". It is the format handed to
// WebAssembly guests, MCP clients and printed by the CLI.
func (r Result) JSON() []byte {
	doc := []byte(`{}`)
	doc, _ = sjson.SetBytes(doc, "id", r.ID)
	doc, _ = sjson.SetBytes(doc, "kind", r.Kind.String())
	doc, _ = sjson.SetBytes(doc, "info", r.Info)
	doc, _ = sjson.SetBytes(doc, "code", r.Code)
	doc, _ = sjson.SetBytes(doc, "payload", r.Payload)
	if r.Details != nil {
		doc, _ = sjson.SetRawBytes(doc, "headers", []byte(`{}`))
		for _, name := range r.Details.headers.Keys() {
			v, _ := r.Details.GetResponseHeader(name)
			doc, _ = sjson.SetBytes(doc, "headers."+escapePath(name), v)
		}
	}
	return doc
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `#`, `\#`, `@`, `\@`, `:`, `\:`,
)

func escapePath(k string) string {
	return pathEscaper.Replace(k)
}
