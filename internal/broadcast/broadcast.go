package broadcast

import (
	"slices"
	"sync"
)

// Delivery selects how a packet is queued on a connection.
type Delivery int

const (
	// Unreliable packets are dropped when the connection is backed up.
	Unreliable Delivery = iota
	// ReliableOrdered packets are delivered in send order or not at all:
	// a connection that cannot accept one is closed.
	ReliableOrdered
)

// Sender is a live connection handle.
type Sender interface {
	Deliver(data []byte, mode Delivery) bool
}

// Group is an insertion-ordered set of players and their connections.
type Group struct {
	Mu      sync.Mutex
	order   []int32
	Clients map[int32]Sender
}

func NewGroup() *Group {
	return &Group{
		Clients: make(map[int32]Sender),
	}
}

// Add appends id to the group. It reports false if id is already present.
func (g *Group) Add(id int32, s Sender) bool {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if _, ok := g.Clients[id]; ok {
		return false
	}
	g.Clients[id] = s
	g.order = append(g.order, id)
	return true
}

// Replace swaps the connection of an existing member.
func (g *Group) Replace(id int32, s Sender) bool {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if _, ok := g.Clients[id]; !ok {
		return false
	}
	g.Clients[id] = s
	return true
}

func (g *Group) Remove(id int32) bool {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if _, ok := g.Clients[id]; !ok {
		return false
	}
	delete(g.Clients, id)
	g.order = slices.DeleteFunc(g.order, func(v int32) bool { return v == id })
	return true
}

func (g *Group) Has(id int32) bool {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	_, ok := g.Clients[id]
	return ok
}

func (g *Group) Len() int {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return len(g.order)
}

// IDs returns the members in join order.
func (g *Group) IDs() []int32 {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return slices.Clone(g.order)
}

// Send delivers data to every member and returns how many accepted it.
func (g *Group) Send(data []byte, mode Delivery) int {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	sent := 0
	for _, id := range g.order {
		if g.Clients[id].Deliver(data, mode) {
			sent++
		}
	}
	return sent
}

// Clear drops every member.
func (g *Group) Clear() {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	g.order = nil
	g.Clients = make(map[int32]Sender)
}
