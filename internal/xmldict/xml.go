package xmldict

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Declaration is the XML declaration Jenkins writes at the top of config.xml.
const Declaration = "<?xml version='1.1' encoding='UTF-8'?>"

type frame struct {
	name  string
	dict  *Dict
	text  strings.Builder
	elems int
}

// value keeps text verbatim on leaf elements. Between child elements it is
// indentation and only non-blank text survives, trimmed.
func (f *frame) value() interface{} {
	text := f.text.String()
	if f.elems > 0 {
		text = strings.TrimSpace(text)
	}
	if f.dict.Len() == 0 {
		if text == "" {
			return nil
		}
		return text
	}
	if text != "" {
		f.dict.Set("#text", text)
	}
	return f.dict
}

// Parse converts an XML document into a Dict.
func Parse(data []byte) (*Dict, error) {
	dec := xml.NewDecoder(bytes.NewReader(stripDeclaration(data)))
	root := New()
	var stack []*frame

	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xmldict: parsing: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && root.Len() > 0 {
				return nil, fmt.Errorf("xmldict: more than one root element (<%s>)", qualified(t.Name))
			}
			f := &frame{name: qualified(t.Name), dict: New()}
			for _, a := range t.Attr {
				f.dict.Set("@"+qualified(a.Name), a.Value)
			}
			stack = append(stack, f)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("xmldict: unexpected </%s>", qualified(t.Name))
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if name := qualified(t.Name); name != f.name {
				return nil, fmt.Errorf("xmldict: <%s> closed by </%s>", f.name, name)
			}
			parent := root
			if len(stack) > 0 {
				stack[len(stack)-1].elems++
				parent = stack[len(stack)-1].dict
			}
			appendChild(parent, f.name, f.value())
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			} else if len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("xmldict: text outside the root element")
			}
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("xmldict: unclosed element <%s>", stack[len(stack)-1].name)
	}
	if root.Len() == 0 {
		return nil, fmt.Errorf("xmldict: no root element")
	}
	return root, nil
}

// Marshal converts a single-root Dict into an XML document.
func Marshal(d *Dict) ([]byte, error) {
	name, value, err := d.Root()
	if err != nil {
		return nil, err
	}
	if _, ok := value.([]interface{}); ok {
		return nil, fmt.Errorf("xmldict: root element <%s> cannot repeat", name)
	}
	var buf bytes.Buffer
	buf.WriteString(Declaration)
	buf.WriteByte('\n')
	if err := writeElement(&buf, name, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeElement(buf *bytes.Buffer, name string, value interface{}) error {
	if !validName(name) {
		return fmt.Errorf("xmldict: invalid element name %q", name)
	}
	switch v := value.(type) {
	case nil:
		buf.WriteString("<" + name + "/>")
	case []interface{}:
		for _, item := range v {
			if _, nested := item.([]interface{}); nested {
				return fmt.Errorf("xmldict: <%s> holds a nested list", name)
			}
			if err := writeElement(buf, name, item); err != nil {
				return err
			}
		}
	case *Dict:
		buf.WriteString("<" + name)
		var text string
		for _, k := range v.keys {
			switch {
			case strings.HasPrefix(k, "@"):
				s, err := scalar(v.values[k])
				if err != nil {
					return fmt.Errorf("xmldict: attribute %s of <%s>: %w", k, name, err)
				}
				attr := k[1:]
				if !validName(attr) {
					return fmt.Errorf("xmldict: invalid attribute name %q", attr)
				}
				buf.WriteString(" " + attr + `="` + attrEscaper.Replace(s) + `"`)
			case k == "#text":
				s, err := scalar(v.values[k])
				if err != nil {
					return fmt.Errorf("xmldict: text of <%s>: %w", name, err)
				}
				text = s
			}
		}
		children := v.childOrder()
		if text == "" && len(children) == 0 {
			buf.WriteString("/>")
			return nil
		}
		buf.WriteByte('>')
		buf.WriteString(textEscaper.Replace(text))
		written := make(map[string]int)
		for _, k := range children {
			item := nthItem(v.values[k], written[k])
			written[k]++
			if _, nested := item.([]interface{}); nested {
				return fmt.Errorf("xmldict: <%s> holds a nested list", k)
			}
			if err := writeElement(buf, k, item); err != nil {
				return err
			}
		}
		buf.WriteString("</" + name + ">")
	default:
		s, err := scalar(v)
		if err != nil {
			return fmt.Errorf("xmldict: <%s>: %w", name, err)
		}
		buf.WriteString("<" + name + ">" + textEscaper.Replace(s) + "</" + name + ">")
	}
	return nil
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
		"\n", "&#xA;", "\r", "&#xD;", "\t", "&#x9;")
)

func scalar(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", nil
	case bool, int, int64, float64, json.Number:
		return fmt.Sprint(t), nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

func appendChild(parent *Dict, name string, value interface{}) {
	parent.seq = append(parent.seq, name)
	existing, ok := parent.Get(name)
	if !ok {
		parent.Set(name, value)
		return
	}
	if list, ok := existing.([]interface{}); ok {
		parent.Set(name, append(list, value))
		return
	}
	parent.Set(name, []interface{}{existing, value})
}

// qualified keeps the namespace prefix as written; RawToken does not
// resolve prefixes to URIs.
func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func validName(name string) bool {
	if name == "" || strings.ContainsAny(name, " \t\r\n<>&\"'/=") {
		return false
	}
	return name[0] != '@' && name[0] != '#'
}

// stripDeclaration drops a leading BOM and XML declaration. encoding/xml
// rejects version 1.1, which Jenkins writes on every config.xml.
func stripDeclaration(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) < 6 || !bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return data
	}
	switch trimmed[5] {
	case ' ', '\t', '\r', '\n', '?':
	default:
		return data
	}
	end := bytes.Index(trimmed, []byte("?>"))
	if end < 0 {
		return data
	}
	return trimmed[end+2:]
}
