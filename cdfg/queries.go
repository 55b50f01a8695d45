package cdfg

// Reachable reports, per block, whether the block can be reached from a
// root.
func (g *Graph) Reachable() []bool {
	seen := make([]bool, len(g.Blocks))
	var stack []BlockID
	for _, r := range g.Roots {
		if !seen[r] {
			seen[r] = true
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range g.Blocks[id].Successors {
			if !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}
	return seen
}

// PostOrder returns every block in depth-first post order from the roots.
// Blocks not reachable from a root follow, each starting a new search in
// offset order.
func (g *Graph) PostOrder() []BlockID {
	type frame struct {
		id   BlockID
		next int
	}
	seen := make([]bool, len(g.Blocks))
	order := make([]BlockID, 0, len(g.Blocks))

	visit := func(root BlockID) {
		if seen[root] {
			return
		}
		seen[root] = true
		stack := []frame{{id: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succs := g.Blocks[top.id].Successors
			if top.next < len(succs) {
				s := succs[top.next]
				top.next++
				if !seen[s] {
					seen[s] = true
					stack = append(stack, frame{id: s})
				}
				continue
			}
			order = append(order, top.id)
			stack = stack[:len(stack)-1]
		}
	}

	for _, r := range g.Roots {
		visit(r)
	}
	for _, b := range g.Blocks {
		visit(b.ID)
	}
	return order
}

// ReversePostOrder returns PostOrder reversed.
func (g *Graph) ReversePostOrder() []BlockID {
	po := g.PostOrder()
	rpo := make([]BlockID, len(po))
	for i, id := range po {
		rpo[len(po)-1-i] = id
	}
	return rpo
}

// Predecessors returns the blocks with an edge into id, in offset order.
func (g *Graph) Predecessors(id BlockID) []BlockID {
	var preds []BlockID
	for _, b := range g.Blocks {
		for _, s := range b.Successors {
			if s == id {
				preds = append(preds, b.ID)
				break
			}
		}
	}
	return preds
}

// Users returns, for every instruction, the instructions that consume it.
func (g *Graph) Users() map[InstrID][]InstrID {
	users := make(map[InstrID][]InstrID)
	for _, in := range g.instrs {
		for _, p := range in.Operands() {
			users[p] = append(users[p], in.ID)
		}
	}
	return users
}
