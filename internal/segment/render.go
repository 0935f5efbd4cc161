package segment

import (
	"strings"

	"github.com/antchfx/xmlquery"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true, "track": true, "wbr": true,
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", `"`, "&quot;", "\n", "&#10;", "\t", "&#9;")
)

// renderer serializes a node tree without touching whitespace. Nodes in
// override are replaced by the given markup; nodes in unwrap contribute only
// their children.
type renderer struct {
	b        strings.Builder
	override map[*xmlquery.Node]string
	unwrap   map[*xmlquery.Node]bool
}

func renderNode(n *xmlquery.Node) string {
	r := &renderer{}
	r.node(n)
	return r.b.String()
}

func (r *renderer) node(n *xmlquery.Node) {
	if s, ok := r.override[n]; ok {
		r.b.WriteString(s)
		return
	}
	switch n.Type {
	case xmlquery.DocumentNode:
		r.children(n)
	case xmlquery.ElementNode:
		if r.unwrap[n] {
			r.children(n)
			return
		}
		name := qualifiedName(n, n.Prefix, n.Data)
		r.b.WriteString("<")
		r.b.WriteString(name)
		for _, attr := range n.Attr {
			r.b.WriteString(" ")
			r.b.WriteString(qualifiedName(n, attr.Name.Space, attr.Name.Local))
			r.b.WriteString(`="`)
			r.b.WriteString(attrEscaper.Replace(attr.Value))
			r.b.WriteString(`"`)
		}
		if n.FirstChild == nil && voidTags[strings.ToLower(n.Data)] {
			r.b.WriteString("/>")
			return
		}
		r.b.WriteString(">")
		r.children(n)
		r.b.WriteString("</")
		r.b.WriteString(name)
		r.b.WriteString(">")
	case xmlquery.TextNode:
		r.b.WriteString(textEscaper.Replace(n.Data))
	case xmlquery.CharDataNode:
		r.b.WriteString("<![CDATA[")
		r.b.WriteString(n.Data)
		r.b.WriteString("]]>")
	case xmlquery.CommentNode:
		r.b.WriteString("<!--")
		r.b.WriteString(n.Data)
		r.b.WriteString("-->")
	}
}

func (r *renderer) children(n *xmlquery.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.node(c)
	}
}

// qualifiedName joins prefix and local name. A prefix that came back as a
// namespace URI is mapped to the prefix declared for it.
func qualifiedName(n *xmlquery.Node, prefix, local string) string {
	if prefix == "" {
		return local
	}
	if strings.Contains(prefix, ":") {
		prefix = prefixFor(n, prefix)
		if prefix == "" {
			return local
		}
	}
	return prefix + ":" + local
}

func prefixFor(n *xmlquery.Node, uri string) string {
	if uri == xmlNamespace {
		return "xml"
	}
	for cur := n; cur != nil; cur = cur.Parent {
		for _, attr := range cur.Attr {
			if attr.Value != uri {
				continue
			}
			if attr.Name.Space == "xmlns" {
				return attr.Name.Local
			}
			if attr.Name.Space == "" && attr.Name.Local == "xmlns" {
				return ""
			}
		}
	}
	return ""
}
