package message

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/codecctl/internal/codec/frame"
)

const (
	AttrItem          = "item"
	AttrMaxOccurrence = "maxOccurrence"
	AttrResultID      = "resultId"
)

// Node is one element of a path-addressed message.
type Node struct {
	Name          string
	Attrs         map[string]string
	Item          int
	MaxOccurrence int
	Text          string
	Children      []*Node
}

// IsLeaf reports whether n has no child elements.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Child returns the first direct child named name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// All returns every direct child named name in document order.
func (n *Node) All(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Find walks a slash separated path below n, following the first match
// at each level.
func (n *Node) Find(path string) *Node {
	cur := n
	for _, part := range splitPath(path) {
		cur = cur.Child(part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Value returns the text at path below n.
func (n *Node) Value(path string) (string, bool) {
	target := n.Find(path)
	if target == nil {
		return "", false
	}
	return target.Text, true
}

// Int coerces the text at path to an int.
func (n *Node) Int(path string) (int, bool) {
	v, ok := n.Value(path)
	if !ok {
		return 0, false
	}
	return ParseInt(v)
}

// Bool coerces the text at path to a bool.
func (n *Node) Bool(path string) (bool, bool) {
	v, ok := n.Value(path)
	if !ok {
		return false, false
	}
	return ParseBool(v)
}

// Leaf is one text-bearing position of a Document.
type Leaf struct {
	Path  string
	Items []int
	Value string
}

// Document is a parsed XML frame. Paths are relative to the root element,
// so "Status/Video/Layout/PresentationView" addresses
// <XmlDoc><Status><Video><Layout><PresentationView>.
type Document struct {
	Root     *Node
	ResultID string
	Leaves   []Leaf

	// Path and Nodes are set on scoped views handed to handlers: Path is the
	// matched routing key and Nodes every element found at it.
	Path  string
	Nodes []*Node
}

// Find returns every node at path, expanding repeated siblings at each level.
func (d *Document) Find(path string) []*Node {
	if d == nil || d.Root == nil {
		return nil
	}
	cur := []*Node{d.Root}
	for _, part := range splitPath(path) {
		var next []*Node
		for _, n := range cur {
			next = append(next, n.All(part)...)
		}
		if len(next) == 0 {
			return nil
		}
		cur = next
	}
	return cur
}

// Scope returns a view of d narrowed to path.
func (d *Document) Scope(path string) *Document {
	return &Document{
		Root:     d.Root,
		ResultID: d.ResultID,
		Leaves:   d.Leaves,
		Path:     path,
		Nodes:    d.Find(path),
	}
}

// First returns the first scoped node, or nil.
func (d *Document) First() *Node {
	if len(d.Nodes) == 0 {
		return nil
	}
	return d.Nodes[0]
}

// ParseDocument parses one complete XML frame.
func ParseDocument(f frame.Frame) (*Document, error) {
	dec := xml.NewDecoder(strings.NewReader(string(f)))
	dec.Strict = true

	var (
		root  *Node
		stack []*Node
		text  []*strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, fmt.Errorf("%w: content after root element", ErrMalformedFrame)
			}
			n := newNode(t)
			if len(stack) == 0 {
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
			text = append(text, &strings.Builder{})
		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1].Write(t)
			}
		case xml.EndElement:
			n := stack[len(stack)-1]
			n.Text = strings.TrimSpace(text[len(text)-1].String())
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformedFrame)
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unclosed element %q", ErrMalformedFrame, stack[len(stack)-1].Name)
	}

	doc := &Document{Root: root, ResultID: root.Attrs[AttrResultID]}
	for _, c := range root.Children {
		collectLeaves(c, "", nil, &doc.Leaves)
	}
	return doc, nil
}

func newNode(t xml.StartElement) *Node {
	n := &Node{Name: t.Name.Local}
	if len(t.Attr) > 0 {
		n.Attrs = make(map[string]string, len(t.Attr))
	}
	for _, a := range t.Attr {
		n.Attrs[a.Name.Local] = a.Value
		switch a.Name.Local {
		case AttrItem:
			n.Item, _ = strconv.Atoi(a.Value)
		case AttrMaxOccurrence:
			n.MaxOccurrence, _ = strconv.Atoi(a.Value)
		}
	}
	return n
}

// collectLeaves walks depth-first, recording one Leaf per text position.
func collectLeaves(n *Node, prefix string, items []int, out *[]Leaf) {
	path := n.Name
	if prefix != "" {
		path = prefix + "/" + n.Name
	}
	itemPath := append(append([]int(nil), items...), n.Item)
	if n.IsLeaf() {
		*out = append(*out, Leaf{Path: path, Items: itemPath, Value: n.Text})
		return
	}
	for _, c := range n.Children {
		collectLeaves(c, path, itemPath, out)
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
