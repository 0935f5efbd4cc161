package healer

import "strings"

type NodeKind int

const (
	NodeText NodeKind = iota
	NodeContainer
	NodeSelfClosing
)

// Node is an element of the source skeleton. The root is a container with an
// empty ID and no markup of its own.
type Node struct {
	Kind     NodeKind
	ID       string
	Open     string
	Close    string
	Text     string
	Children []*Node
}

// Parse builds the skeleton tree of a tagged text. A closer that does not
// match the innermost open container is kept as literal text, and containers
// that are never closed are flattened into their opener text plus children.
func Parse(tagged string, tol Tolerance) *Node {
	root := &Node{Kind: NodeContainer}
	stack := []*Node{root}

	for _, tok := range Tokenize(tagged, tol) {
		top := stack[len(stack)-1]
		switch tok.Kind {
		case KindText:
			top.Children = append(top.Children, &Node{Kind: NodeText, Text: tok.Raw})
		case KindOpen:
			n := &Node{Kind: NodeContainer, ID: tok.ID, Open: tok.Raw}
			top.Children = append(top.Children, n)
			stack = append(stack, n)
		case KindSelfClose:
			top.Children = append(top.Children, &Node{Kind: NodeSelfClosing, ID: tok.ID, Open: tok.Raw})
		case KindClose:
			if len(stack) > 1 && top.ID == tok.ID {
				top.Close = tok.Raw
				stack = stack[:len(stack)-1]
				continue
			}
			top.Children = append(top.Children, &Node{Kind: NodeText, Text: tok.Raw})
		}
	}

	for len(stack) > 1 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		parent := stack[len(stack)-1]
		flat := append([]*Node{{Kind: NodeText, Text: n.Open}}, n.Children...)
		parent.Children = append(parent.Children[:len(parent.Children)-1], flat...)
	}
	return root
}

// Render serializes the subtree back to tagged text.
func (n *Node) Render() string {
	var b strings.Builder
	n.render(&b)
	return b.String()
}

func (n *Node) render(b *strings.Builder) {
	switch n.Kind {
	case NodeText:
		b.WriteString(n.Text)
	case NodeSelfClosing:
		b.WriteString(n.Open)
	case NodeContainer:
		b.WriteString(n.Open)
		for _, c := range n.Children {
			c.render(b)
		}
		b.WriteString(n.Close)
	}
}

// skeleton renders only the structure: markers and whitespace-only text.
func (n *Node) skeleton() string {
	var b strings.Builder
	var walk func(*Node)
	walk = func(n *Node) {
		switch n.Kind {
		case NodeText:
			if isBlank(n.Text) {
				b.WriteString(n.Text)
			}
		case NodeSelfClosing:
			b.WriteString(n.Open)
		case NodeContainer:
			b.WriteString(n.Open)
			for _, c := range n.Children {
				walk(c)
			}
			b.WriteString(n.Close)
		}
	}
	walk(n)
	return b.String()
}

// structuralIDs collects the ids of every container and self-closing node.
func (n *Node) structuralIDs() []string {
	var ids []string
	var walk func(*Node)
	walk = func(n *Node) {
		if n.Kind != NodeText && n.ID != "" {
			ids = append(ids, n.ID)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return ids
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
