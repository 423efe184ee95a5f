// Package xmldict converts Jenkins config.xml documents to and from an
// ordered dictionary.
//
// A document is a Dict with a single key, the root element name. Element
// values are:
//
//	nil             empty element (<description/>)
//	string          text-only element
//	*Dict           element with attributes ("@name" keys), child elements
//	                and, when it also carries text, a "#text" key
//	[]interface{}   repeated sibling elements with the same name
//
// Keys keep the order in which they were first seen and Get groups repeated
// siblings by name. A parsed Dict also records the document order of its
// child elements, so interleaved siblings (<a/><b/><a/>, as in a job's
// builders) are written back in the order they were read. The JSON form
// carries that order in an "#order" list when it differs from key order.
package xmldict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dict is an insertion-ordered map of element and attribute names to values.
type Dict struct {
	keys   []string
	values map[string]interface{}
	// seq is the name of each child element in document order, one entry
	// per occurrence.
	seq []string
}

// orderKey is the JSON key carrying the child element order.
const orderKey = "#order"

// New returns an empty Dict.
func New() *Dict {
	return &Dict{values: make(map[string]interface{})}
}

// Len returns the number of keys.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.keys))
	copy(keys, d.keys)
	return keys
}

// Get returns the value stored under key.
func (d *Dict) Get(key string) (interface{}, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Set stores value under key. A new key is appended; an existing key keeps
// its position.
func (d *Dict) Set(key string, value interface{}) *Dict {
	if d.values == nil {
		d.values = make(map[string]interface{})
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return d
}

// Delete removes key.
func (d *Dict) Delete(key string) {
	if d == nil {
		return
	}
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Root returns the root element name and value of a document.
func (d *Dict) Root() (string, interface{}, error) {
	if d.Len() != 1 {
		return "", nil, fmt.Errorf("xmldict: document must have exactly one root element, got %d", d.Len())
	}
	name := d.keys[0]
	return name, d.values[name], nil
}

// String returns the text of a text-only element, or the "#text" of an
// element with attributes.
func (d *Dict) String(key string) string {
	v, _ := d.Get(key)
	switch t := v.(type) {
	case string:
		return t
	case *Dict:
		return t.String("#text")
	}
	return ""
}

// Path walks slash-separated keys ("scm/@class", "builders/hudson.tasks.Shell/1/command").
// Numeric segments index repeated elements.
func (d *Dict) Path(path string) (interface{}, bool) {
	var cur interface{} = d
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		switch node := cur.(type) {
		case *Dict:
			v, ok := node.Get(seg)
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Equal reports whether two dicts hold the same keys, in the same order,
// with equal values.
func (d *Dict) Equal(other *Dict) bool {
	if d.Len() != other.Len() {
		return false
	}
	for i, k := range d.keys {
		if other.keys[i] != k {
			return false
		}
		if !valueEqual(d.values[k], other.values[k]) {
			return false
		}
	}
	return equalStrings(d.childOrder(), other.childOrder())
}

// childOrder returns the name of each child element in the order Marshal
// writes them: the recorded document order first, then whatever was added
// or grown since, in key order.
func (d *Dict) childOrder() []string {
	if d == nil {
		return nil
	}
	emitted := make(map[string]int)
	var order []string
	for _, k := range d.seq {
		v, ok := d.values[k]
		if !ok || isMeta(k) || emitted[k] >= itemCount(v) {
			continue
		}
		emitted[k]++
		order = append(order, k)
	}
	for _, k := range d.keys {
		if isMeta(k) {
			continue
		}
		for n := itemCount(d.values[k]); emitted[k] < n; emitted[k]++ {
			order = append(order, k)
		}
	}
	return order
}

// interleaved reports whether the child order differs from key order.
func (d *Dict) interleaved() bool {
	var grouped []string
	for _, k := range d.keys {
		if isMeta(k) {
			continue
		}
		for i := 0; i < itemCount(d.values[k]); i++ {
			grouped = append(grouped, k)
		}
	}
	return !equalStrings(grouped, d.childOrder())
}

// nthItem returns the i-th element stored under a key.
func nthItem(v interface{}, i int) interface{} {
	if list, ok := v.([]interface{}); ok {
		return list[i]
	}
	return v
}

func itemCount(v interface{}) int {
	if list, ok := v.([]interface{}); ok {
		return len(list)
	}
	return 1
}

func isMeta(key string) bool {
	return strings.HasPrefix(key, "@") || key == "#text"
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func valueEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case *Dict:
		bv, ok := b.(*Dict)
		return ok && av.Equal(bv)
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// MarshalJSON encodes the dict as a JSON object in key order.
func (d *Dict) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, fmt.Errorf("encoding %q: %w", k, err)
		}
		buf.Write(val)
	}
	if d.interleaved() {
		order, err := json.Marshal(d.childOrder())
		if err != nil {
			return nil, err
		}
		if len(d.keys) > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"` + orderKey + `":`)
		buf.Write(order)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order. Numbers and
// booleans become their string form, since XML has no other scalar type.
func (d *Dict) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("xmldict: expected JSON object, got %v", tok)
	}
	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	d.keys = parsed.keys
	d.values = parsed.values
	d.seq = parsed.seq
	return nil
}

func decodeObject(dec *json.Decoder) (*Dict, error) {
	d := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("xmldict: expected object key, got %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		if key == orderKey {
			if d.seq, err = orderList(v); err != nil {
				return nil, err
			}
			continue
		}
		d.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return d, nil
}

func orderList(v interface{}) ([]string, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("xmldict: %s must be a list of element names", orderKey)
	}
	names := make([]string, 0, len(list))
	for _, item := range list {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("xmldict: %s must be a list of element names", orderKey)
		}
		names = append(names, name)
	}
	return names, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			list := []interface{}{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("xmldict: unexpected %v", t)
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return tok, nil
}
