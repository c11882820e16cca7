package fakes

import (
	"sync"

	"github.com/systmms/vaultsync/internal/prompt"
)

// FakePrompter answers prompts from scripted lists and records the titles
// it was asked. When a list runs out it answers no, or "" for a Select.
type FakePrompter struct {
	mu         sync.Mutex
	Confirms   []bool
	Selections []string
	Err        error
	Asked      []string
}

// NewFakePrompter answers the confirmations in order.
func NewFakePrompter(confirms ...bool) *FakePrompter {
	return &FakePrompter{Confirms: confirms}
}

func (p *FakePrompter) Confirm(title, description string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Asked = append(p.Asked, title)
	if p.Err != nil {
		return false, p.Err
	}
	if len(p.Confirms) == 0 {
		return false, nil
	}
	ok := p.Confirms[0]
	p.Confirms = p.Confirms[1:]
	return ok, nil
}

func (p *FakePrompter) Select(title, description string, options []prompt.Option) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Asked = append(p.Asked, title)
	if p.Err != nil {
		return "", p.Err
	}
	if len(p.Selections) == 0 {
		return "", nil
	}
	v := p.Selections[0]
	p.Selections = p.Selections[1:]
	return v, nil
}

// AskedCount returns how many prompts were shown.
func (p *FakePrompter) AskedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Asked)
}

var _ prompt.Prompter = (*FakePrompter)(nil)
