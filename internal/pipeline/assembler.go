package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kalambet/sdsx/internal/sections"
	"github.com/shopspring/decimal"
)

// Field is one extracted section in a record.
type Field struct {
	Key   string
	Value json.RawMessage
}

// DocumentRecord is the assembled output for one document. Its JSON form
// always lists document_name, then the sections in registry order, then
// total_tokens and total_cost.
type DocumentRecord struct {
	DocumentName string
	Sections     []Field
	TotalTokens  int
	TotalCost    decimal.Decimal
}

// Section returns the value of the section with key.
func (r *DocumentRecord) Section(key string) (json.RawMessage, bool) {
	for _, f := range r.Sections {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the top-level JSON keys in output order.
func (r *DocumentRecord) Keys() []string {
	keys := make([]string, 0, len(r.Sections)+3)
	keys = append(keys, "document_name")
	for _, f := range r.Sections {
		keys = append(keys, f.Key)
	}
	return append(keys, "total_tokens", "total_cost")
}

func (r DocumentRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"document_name":`)
	name, err := json.Marshal(r.DocumentName)
	if err != nil {
		return nil, err
	}
	buf.Write(name)

	for _, f := range r.Sections {
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(f.Value)
	}

	buf.WriteString(`,"total_tokens":`)
	buf.WriteString(strconv.Itoa(r.TotalTokens))
	buf.WriteString(`,"total_cost":`)
	buf.WriteString(r.TotalCost.String())
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a record back, keeping section order as written.
func (r *DocumentRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	var out DocumentRecord
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: unexpected token %v", tok)
		}

		switch key {
		case "document_name":
			if err := dec.Decode(&out.DocumentName); err != nil {
				return fmt.Errorf("record: document_name: %w", err)
			}
		case "total_tokens":
			if err := dec.Decode(&out.TotalTokens); err != nil {
				return fmt.Errorf("record: total_tokens: %w", err)
			}
		case "total_cost":
			var n json.Number
			if err := dec.Decode(&n); err != nil {
				return fmt.Errorf("record: total_cost: %w", err)
			}
			d, err := decimal.NewFromString(n.String())
			if err != nil {
				return fmt.Errorf("record: total_cost: %w", err)
			}
			out.TotalCost = d
		default:
			var v json.RawMessage
			if err := dec.Decode(&v); err != nil {
				return fmt.Errorf("record: %s: %w", key, err)
			}
			out.Sections = append(out.Sections, Field{Key: key, Value: v})
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	*r = out
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("record: expected %q, got %v", want, tok)
	}
	return nil
}

// Assemble folds outcomes into a record ordered by the registry, regardless
// of the order outcomes arrived in. Failed sections are omitted and add
// nothing to the totals. An outcome for an unknown section, a duplicate, or a
// value that is not JSON is an *AssemblyError. Schema conformance is the
// extractor's job.
func Assemble(documentName string, registry *sections.Registry, outcomes []Outcome) (*DocumentRecord, error) {
	byKey := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		if registry.Position(o.SectionKey) < 0 {
			return nil, &AssemblyError{Key: o.SectionKey, Reason: "not in registry"}
		}
		if _, dup := byKey[o.SectionKey]; dup {
			return nil, &AssemblyError{Key: o.SectionKey, Reason: "duplicate outcome"}
		}
		byKey[o.SectionKey] = o
	}

	rec := &DocumentRecord{
		DocumentName: documentName,
		Sections:     []Field{},
		TotalCost:    decimal.Zero,
	}
	for _, spec := range registry.Specs() {
		o, ok := byKey[spec.Key]
		if !ok || !o.OK() {
			continue
		}

		var buf bytes.Buffer
		if err := json.Compact(&buf, o.Value); err != nil {
			return nil, &AssemblyError{Key: spec.Key, Reason: "invalid JSON value: " + err.Error()}
		}
		rec.Sections = append(rec.Sections, Field{Key: spec.Key, Value: buf.Bytes()})
		rec.TotalTokens += o.Tokens
		rec.TotalCost = rec.TotalCost.Add(o.Cost)
	}
	return rec, nil
}
