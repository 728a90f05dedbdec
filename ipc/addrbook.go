package ipc

import (
	"sync"

	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
	"github.com/irdest-go/ratman/route"
)

// AddressBook is the client-facing registry of locally owned
// addresses, per spec.md §4.8 (ADDR/CREATE, DESTROY, UP, DOWN, LIST).
// Bringing an address up or down toggles whether the route table
// treats it as local; DESTROY forgets it entirely.
type AddressBook struct {
	table *route.Table

	mu   sync.RWMutex
	up   map[id.Address]bool
	name map[id.Address]string
}

func newAddressBook(table *route.Table) *AddressBook {
	return &AddressBook{table: table, up: make(map[id.Address]bool), name: make(map[id.Address]string)}
}

func (b *AddressBook) Create(name string) id.Address {
	addr := id.RandomAddress()
	b.mu.Lock()
	b.up[addr] = false
	b.name[addr] = name
	b.mu.Unlock()
	return addr
}

func (b *AddressBook) Destroy(addr id.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.up[addr]; !ok {
		return cos.NewErrClient("unknown-address", "%s was not created on this router", addr)
	}
	delete(b.up, addr)
	delete(b.name, addr)
	b.table.RemoveLocal(addr)
	return nil
}

func (b *AddressBook) Up(addr id.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.up[addr]; !ok {
		return cos.NewErrClient("unknown-address", "%s was not created on this router", addr)
	}
	b.up[addr] = true
	b.table.AddLocal(addr)
	return nil
}

func (b *AddressBook) Down(addr id.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.up[addr]; !ok {
		return cos.NewErrClient("unknown-address", "%s was not created on this router", addr)
	}
	b.up[addr] = false
	b.table.RemoveLocal(addr)
	return nil
}

func (b *AddressBook) List() []id.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]id.Address, 0, len(b.up))
	for a := range b.up {
		out = append(out, a)
	}
	return out
}
