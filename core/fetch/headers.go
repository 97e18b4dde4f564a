package fetch

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/ajaxbridge/ajaxbridge/model"
	"github.com/hashicorp/go-multierror"
)

// Headers is a case-insensitive, multi-valued header collection following the
// Fetch API Headers semantics. Names are stored trimmed and lower-cased, in
// first-insertion order.
//
// A Headers value is not safe for concurrent mutation. Clone it before handing
// it to another goroutine.
type Headers struct {
	names  []string
	values map[string][]string
}

// Entry is one (name, joined value) pair as produced by Entries and All.
type Entry struct {
	Name  string
	Value string
}

// HeaderWriter receives headers in ApplyTo. http.Header satisfies it.
type HeaderWriter interface {
	Add(key, value string)
}

func NewHeaders() *Headers {
	return &Headers{values: map[string][]string{}}
}

// FromPlainMapping builds a collection from name/value pairs. Every value must
// be a string; all offending names are reported in the returned error.
func FromPlainMapping(fields map[string]any) (*Headers, error) {
	h := NewHeaders()
	var errs *multierror.Error
	for _, name := range sortedKeys(fields) {
		value, ok := fields[name].(string)
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("%w: value of header %q must be a string, got %T", model.ErrInvalidValue, name, fields[name]))
			continue
		}
		if err := h.Set(name, value); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return h, nil
}

// FromWire copies an already multi-valued header source, like http.Header.
// Values are taken as received, without validation.
func FromWire(src map[string][]string) *Headers {
	h := NewHeaders()
	for _, name := range sortedKeys(src) {
		h.add(normalizeName(name), src[name]...)
	}
	return h
}

func (h *Headers) Append(name, value string) error {
	key, v, err := normalize(name, value)
	if err != nil {
		return err
	}
	h.add(key, v)
	return nil
}

// Set replaces all values of name with value.
func (h *Headers) Set(name, value string) error {
	key, v, err := normalize(name, value)
	if err != nil {
		return err
	}
	if _, ok := h.values[key]; ok {
		h.values[key] = []string{v}
		return nil
	}
	h.add(key, v)
	return nil
}

func (h *Headers) add(key string, values ...string) {
	if h.values == nil {
		h.values = map[string][]string{}
	}
	if _, ok := h.values[key]; !ok {
		h.names = append(h.names, key)
		h.values[key] = make([]string, 0, len(values))
	}
	h.values[key] = append(h.values[key], values...)
}

func (h *Headers) Delete(name string) {
	key := normalizeName(name)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	h.names = slices.DeleteFunc(h.names, func(n string) bool { return n == key })
}

// Get returns all values of name joined by ",".
func (h *Headers) Get(name string) (string, bool) {
	vv, ok := h.values[normalizeName(name)]
	if !ok {
		return "", false
	}
	return strings.Join(vv, ","), true
}

func (h *Headers) Has(name string) bool {
	_, ok := h.values[normalizeName(name)]
	return ok
}

func (h *Headers) Len() int {
	return len(h.names)
}

// Entries returns one pair per name, values joined by ", ".
func (h *Headers) Entries() []Entry {
	res := make([]Entry, 0, len(h.names))
	for _, n := range h.names {
		res = append(res, Entry{Name: n, Value: strings.Join(h.values[n], ", ")})
	}
	return res
}

func (h *Headers) Keys() []string {
	return slices.Clone(h.names)
}

// Values returns one string per name, in Entries order, joined by ",".
func (h *Headers) Values() []string {
	res := make([]string, 0, len(h.names))
	for _, n := range h.names {
		res = append(res, strings.Join(h.values[n], ","))
	}
	return res
}

// All iterates the same pairs as Entries. Each range works on a snapshot taken
// when the iteration starts.
func (h *Headers) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, e := range h.Entries() {
			if !yield(e.Name, e.Value) {
				return
			}
		}
	}
}

// Overlay replaces, name by name, the values of h with the values o holds for
// the same name. Names only present in o are added at the end, in o's order.
func (h *Headers) Overlay(o *Headers) {
	for _, n := range o.names {
		if _, ok := h.values[n]; ok {
			h.values[n] = slices.Clone(o.values[n])
			continue
		}
		h.add(n, o.values[n]...)
	}
}

// Clone returns a deep copy.
func (h *Headers) Clone() *Headers {
	c := &Headers{
		names:  slices.Clone(h.names),
		values: make(map[string][]string, len(h.values)),
	}
	for k, vv := range h.values {
		c.values[k] = slices.Clone(vv)
	}
	return c
}

// ApplyTo writes every header to w, one call per name, values joined by ",".
func (h *Headers) ApplyTo(w HeaderWriter) {
	for _, n := range h.names {
		w.Add(n, strings.Join(h.values[n], ","))
	}
}

// Wire returns the collection as a plain multimap.
func (h *Headers) Wire() map[string][]string {
	res := make(map[string][]string, len(h.values))
	for k, vv := range h.values {
		res[k] = slices.Clone(vv)
	}
	return res
}

func (h *Headers) String() string {
	var sb strings.Builder
	for i, e := range h.Entries() {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(e.Name)
		sb.WriteString(": ")
		sb.WriteString(e.Value)
	}
	return sb.String()
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalize(name, value string) (string, string, error) {
	key := normalizeName(name)
	if key == "" || strings.ContainsAny(key, illegalChars) {
		return "", "", fmt.Errorf("%w: illegal header name %q", model.ErrInvalidValue, name)
	}
	v := strings.TrimSpace(value)
	if strings.ContainsAny(v, illegalChars) {
		return "", "", fmt.Errorf("%w: illegal character in value of header %q", model.ErrInvalidValue, key)
	}
	return key, v, nil
}

const illegalChars = "\x00\r\n"

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
