package domain

import "strings"

// SignatureSeparator joins dimension values; no value may contain it.
const SignatureSeparator = "|"

// Signature is the ordered tuple of a work item's dimension values.
type Signature string

// SignatureOf builds a signature from dimension values in definition order.
func SignatureOf(values ...string) Signature {
	return Signature(strings.Join(values, SignatureSeparator))
}

// Values splits the signature back into its dimension values.
func (s Signature) Values() []string {
	return strings.Split(string(s), SignatureSeparator)
}

// Key is one dimension value of a work item.
type Key struct {
	Column string
	Param  string
	Kind   ParamKind
	Value  string
}

// WorkItem is one concrete call to make against a data source.
type WorkItem struct {
	Source    string
	Endpoint  string
	Partition Partition
	Keys      []Key
	Static    []Param
}

// Signature identifies the item within its source.
func (w WorkItem) Signature() Signature {
	values := make([]string, len(w.Keys))
	for i, k := range w.Keys {
		values[i] = k.Value
	}
	return SignatureOf(values...)
}

// Params returns every remote parameter: dimension keys plus static values.
func (w WorkItem) Params() map[string]string {
	params := make(map[string]string, len(w.Keys)+len(w.Static))
	for _, p := range w.Static {
		params[p.Name] = p.Value
	}
	for _, k := range w.Keys {
		params[k.Param] = k.Value
	}
	return params
}
