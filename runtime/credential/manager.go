// Package credential implements the CredentialStore port with an
// in-memory per-domain manager.
package credential

import (
	"fmt"
	"sync"

	"ruleflow/runtime"
)

// Manager keeps at most one credential per domain. Storing replaces
// any previous credential for the same domain; retrieval filters out
// expired entries.
type Manager struct {
	mu    sync.RWMutex
	creds map[string]runtime.Credential
}

func NewManager() *Manager {
	return &Manager{creds: make(map[string]runtime.Credential)}
}

func (m *Manager) Store(cred runtime.Credential) error {
	if cred.Domain == "" {
		return fmt.Errorf("credential has no domain")
	}
	if len(cred.Values) == 0 {
		return fmt.Errorf("credential for %s has no values", cred.Domain)
	}
	m.mu.Lock()
	m.creds[cred.Domain] = cred
	m.mu.Unlock()
	return nil
}

func (m *Manager) Retrieve(domain string) (runtime.Credential, bool) {
	m.mu.RLock()
	cred, ok := m.creds[domain]
	m.mu.RUnlock()
	if !ok {
		return runtime.Credential{}, false
	}
	if cred.Expired() {
		m.mu.Lock()
		delete(m.creds, domain)
		m.mu.Unlock()
		return runtime.Credential{}, false
	}
	return cred, true
}

// Clear removes the credential for a domain.
func (m *Manager) Clear(domain string) {
	m.mu.Lock()
	delete(m.creds, domain)
	m.mu.Unlock()
}
