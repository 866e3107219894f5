// Package wallets tracks the wallets a process manages and which one is
// currently selected.
package wallets

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/brojonat/tzwallet/service/diskcache"
	"github.com/brojonat/tzwallet/service/tezos"
	"gopkg.in/yaml.v3"
)

var ErrUnknownWallet = errors.New("wallet is not registered")

// Wallet is one tracked address.
type Wallet struct {
	Address string `yaml:"address" json:"address"`
	Label   string `yaml:"label,omitempty" json:"label,omitempty"`
}

// File is the YAML layout of WALLETS_FILE.
type File struct {
	Wallets  []Wallet `yaml:"wallets"`
	Selected string   `yaml:"selected,omitempty"`
}

// Registry holds the tracked wallets and the selected address. It is safe
// for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	wallets  []Wallet
	selected string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// LoadFile reads a YAML wallet list. The first wallet is selected unless the
// file names one.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallets file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse wallets file: %w", err)
	}

	r := NewRegistry()
	for _, w := range f.Wallets {
		if err := r.Add(w); err != nil {
			return nil, fmt.Errorf("wallets file %s: %w", path, err)
		}
	}
	if f.Selected != "" {
		if err := r.Select(f.Selected); err != nil {
			return nil, fmt.Errorf("wallets file %s: %w", path, err)
		}
	}
	return r, nil
}

// Add registers a wallet. Adding an already registered address updates its
// label. The first wallet added becomes the selected one.
func (r *Registry) Add(w Wallet) error {
	if err := tezos.ValidateAddress(w.Address); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.wallets {
		if r.wallets[i].Address == w.Address {
			r.wallets[i].Label = w.Label
			return nil
		}
	}
	r.wallets = append(r.wallets, w)
	if r.selected == "" {
		r.selected = w.Address
	}
	return nil
}

// Remove unregisters address. If it was selected, the first remaining
// wallet becomes selected.
func (r *Registry) Remove(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, w := range r.wallets {
		if w.Address != address {
			continue
		}
		r.wallets = append(r.wallets[:i], r.wallets[i+1:]...)
		if r.selected == address {
			r.selected = ""
			if len(r.wallets) > 0 {
				r.selected = r.wallets[0].Address
			}
		}
		return true
	}
	return false
}

// Select makes address the selected wallet.
func (r *Registry) Select(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.wallets {
		if w.Address == address {
			r.selected = address
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownWallet, address)
}

// Selected returns the selected address, or "" when no wallet is registered.
func (r *Registry) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// IsSelected compares by normalized key, so casing and whitespace are ignored.
func (r *Registry) IsSelected(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected != "" && diskcache.NormalizedKey(r.selected) == diskcache.NormalizedKey(address)
}

// Contains reports whether address is registered.
func (r *Registry) Contains(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.wallets {
		if w.Address == address {
			return true
		}
	}
	return false
}

// All returns a copy of the registered wallets in insertion order.
func (r *Registry) All() []Wallet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Wallet, len(r.wallets))
	copy(out, r.wallets)
	return out
}

// Addresses returns the registered addresses in insertion order.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.wallets))
	for i, w := range r.wallets {
		out[i] = w.Address
	}
	return out
}
