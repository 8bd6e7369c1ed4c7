// SCOPEDECODE - Protocol and measurement decoding for captured instrument waveforms.
// Copyright (C) 2016 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package decode

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Graph evaluates a set of nodes once per capture cycle. Each decoder is
// refreshed after everything upstream of it.
type Graph struct {
	nodes []Node
	log   *logrus.Entry
}

func NewGraph() *Graph {
	return &Graph{log: logrus.WithField("node", "graph")}
}

// Add registers n with the graph and returns it.
func (g *Graph) Add(n Node) Node {
	g.nodes = append(g.nodes, n)
	return n
}

func (g *Graph) Nodes() []Node { return g.nodes }

// Connect wires output stream of src to input slot of dst. Connections that
// would make dst depend on itself are rejected.
func (g *Graph) Connect(dst Decoder, slot int, src Node, stream int) error {
	if dependsOn(src, dst) {
		return xerrors.Errorf("decode: connecting %s to %s would create a cycle", src.Name(), dst.Name())
	}
	return Connect(dst, slot, StreamRef{Node: src, Index: stream})
}

// dependsOn reports whether n is target or is fed, directly or indirectly, by
// target.
func dependsOn(n, target Node) bool {
	if n == target {
		return true
	}
	d, ok := n.(Decoder)
	if !ok {
		return false
	}
	b := d.Ports()
	for slot := 0; slot < b.NumInputs(); slot++ {
		if up := b.Input(slot).Node; up != nil && dependsOn(up, target) {
			return true
		}
	}
	return false
}

// Refresh pulls every node in dependency order. Nodes reachable from the
// graph's members but never added are refreshed as well.
func (g *Graph) Refresh() {
	done := make(map[Node]bool, len(g.nodes))

	var visit func(n Node)
	visit = func(n Node) {
		if done[n] {
			return
		}
		done[n] = true

		d, ok := n.(Decoder)
		if !ok {
			return
		}

		b := d.Ports()
		for slot := 0; slot < b.NumInputs(); slot++ {
			if up := b.Input(slot).Node; up != nil {
				visit(up)
			}
		}

		b.ClearErrors()
		d.Refresh()
		if errs := b.Errors(); len(errs) > 0 {
			g.log.WithField("errors", len(errs)).Debugf("refreshed %s", d.Name())
		}
	}

	for _, n := range g.nodes {
		visit(n)
	}
}
