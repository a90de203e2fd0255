package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/sanonone/cigraph/pkg/explorer"
	"github.com/sanonone/cigraph/pkg/graph"
)

type treeEdge struct {
	uid      string
	relation string
}

type tree struct {
	nodes   map[string]graph.NodeInstance
	kids    map[string][]treeEdge
	printed map[string]bool
}

func absLevel(l int) int {
	if l < 0 {
		return -l
	}
	return l
}

// buildTree hangs every visible instance under the neighbour one level
// closer to the root.
func buildTree(v *explorer.View) tree {
	t := tree{
		nodes:   make(map[string]graph.NodeInstance, len(v.Nodes)),
		kids:    make(map[string][]treeEdge),
		printed: make(map[string]bool),
	}
	for _, n := range v.Nodes {
		t.nodes[n.UID] = n
	}
	for _, e := range v.Edges {
		from, okFrom := t.nodes[e.FromUID]
		to, okTo := t.nodes[e.ToUID]
		if !okFrom || !okTo {
			continue
		}
		inner, outer := from, to
		if absLevel(from.Level) > absLevel(to.Level) {
			inner, outer = to, from
		}
		if absLevel(inner.Level) == absLevel(outer.Level) {
			continue
		}
		t.kids[inner.UID] = append(t.kids[inner.UID], treeEdge{uid: outer.UID, relation: e.Label})
	}
	for uid, ks := range t.kids {
		sort.Slice(ks, func(i, j int) bool {
			a, b := t.nodes[ks[i].uid], t.nodes[ks[j].uid]
			if a.Label != b.Label {
				return a.Label < b.Label
			}
			return a.UID < b.UID
		})
		t.kids[uid] = ks
	}
	return t
}

func describe(n graph.NodeInstance, c *color.Color, relation string) string {
	s := c.Sprint(n.Label) + "  " + Subtle.Sprintf("%s #%d", n.Type, n.ID)
	if relation != "" {
		s += Subtle.Sprintf("  (%s)", relation)
	}
	return s
}

func (t tree) branch(w io.Writer, e treeEdge, prefix string, last bool, c *color.Color) {
	connector, next := "├─ ", prefix+"│  "
	if last {
		connector, next = "└─ ", prefix+"   "
	}
	fmt.Fprintf(w, "%s%s%s\n", prefix, connector, describe(t.nodes[e.uid], c, e.relation))
	t.printed[e.uid] = true
	ks := t.kids[e.uid]
	for i, k := range ks {
		t.branch(w, k, next, i == len(ks)-1, c)
	}
}

func (t tree) side(w io.Writer, title string, edges []treeEdge, c *color.Color) {
	if len(edges) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s\n", Subtle.Sprint(title))
	for i, e := range edges {
		t.branch(w, e, "  ", i == len(edges)-1, c)
	}
}

// renderTree prints the root, then its parent side, then its child side.
// Visible instances whose path to the root is filtered out are listed last.
func renderTree(w io.Writer, v *explorer.View) {
	t := buildTree(v)
	defer t.rest(w, v)

	root, ok := v.Node(v.RootUID)
	if !ok {
		return
	}
	t.printed[root.UID] = true

	var parents, children []treeEdge
	for _, e := range t.kids[root.UID] {
		if t.nodes[e.uid].Level < 0 {
			parents = append(parents, e)
		} else {
			children = append(children, e)
		}
	}

	fmt.Fprintln(w, describe(root, Brand, ""))
	t.side(w, "parents", parents, Info)
	t.side(w, "children", children, Good)
}

func (t tree) rest(w io.Writer, v *explorer.View) {
	var left []treeEdge
	for _, n := range v.Nodes {
		if !t.printed[n.UID] {
			left = append(left, treeEdge{uid: n.UID})
		}
	}
	if len(left) == 0 && len(t.printed) == 0 {
		fmt.Fprintln(w, "  Nothing to show.")
		return
	}
	sort.Slice(left, func(i, j int) bool {
		a, b := t.nodes[left[i].uid], t.nodes[left[j].uid]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		return a.UID < b.UID
	})
	for i, e := range left {
		if t.printed[e.uid] {
			continue
		}
		if i == 0 {
			fmt.Fprintf(w, "  %s\n", Subtle.Sprint("unattached"))
		}
		t.branch(w, e, "  ", i == len(left)-1, Warn)
	}
}
