// Package xmldoc loads an XML document into a small element tree that the
// export extractors walk by tag name.
package xmldoc

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/franz/health-cache/internal/table"
	"github.com/franz/health-cache/internal/util"
)

// Node is one element of a loaded document.
type Node struct {
	Name     xml.Name
	Attrs    []xml.Attr
	Children []*Node
	Text     string
	Line     int
}

// Load opens path and parses it into a tree rooted at the document element.
func Load(path string) (*Node, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &util.ParseError{Path: path, Err: fmt.Errorf("document missing: %w", err)}
		}
		return nil, &util.ParseError{Path: path, Err: err}
	}
	defer f.Close()

	root, err := Parse(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, &util.ParseError{Path: path, Err: err}
	}
	return root, nil
}

// Parse reads a whole document from r.
func Parse(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)

	var root *Node
	var stack []*Node
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			line, _ := dec.InputPos()
			n := &Node{Name: t.Name, Attrs: t.Copy().Attr, Line: line}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
			text.Reset()
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unexpected closing tag %s", t.Name.Local)
			}
			n := stack[len(stack)-1]
			if len(n.Children) == 0 {
				n.Text = strings.TrimSpace(text.String())
			}
			stack = stack[:len(stack)-1]
			text.Reset()
		case xml.CharData:
			if len(stack) > 0 {
				text.Write(t)
			}
		}
	}

	if root == nil {
		return nil, errors.New("document has no root element")
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("unclosed element %s", stack[len(stack)-1].Name.Local)
	}
	return root, nil
}

// Tag returns the local element name.
func (n *Node) Tag() string {
	return n.Name.Local
}

// Attr returns the value of the attribute with the given local name.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// FindAll returns the direct children with the given local name, in document order.
func (n *Node) FindAll(tag string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name.Local == tag {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the first direct child with the given local name.
func (n *Node) Find(tag string) *Node {
	for _, c := range n.Children {
		if c.Name.Local == tag {
			return c
		}
	}
	return nil
}

// Fields returns the attributes as table fields, keyed by local name.
func (n *Node) Fields() []table.Field {
	fields := make([]table.Field, len(n.Attrs))
	for i, a := range n.Attrs {
		fields[i] = table.Field{Name: a.Name.Local, Value: a.Value}
	}
	return fields
}

// AttrMap returns the attributes keyed by local name.
func (n *Node) AttrMap() map[string]string {
	m := make(map[string]string, len(n.Attrs))
	for _, a := range n.Attrs {
		m[a.Name.Local] = a.Value
	}
	return m
}
