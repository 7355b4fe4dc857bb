// Package roster supplies the teammate roster and per-user settings the
// decision layer consults. The data is read-only reference data sourced
// externally; implementations are swappable (file-backed in production,
// in-memory in tests).
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// Repository provides roster lookups.
type Repository interface {
	Teammates(ctx context.Context) ([]domain.Teammate, error)
	User(ctx context.Context, userID string) (domain.UserProfile, bool, error)
}

type fileDocument struct {
	Teammates []teammateEntry `json:"teammates"`
	Users     []userEntry     `json:"users"`
}

type teammateEntry struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	PathPatterns []string `json:"path_patterns"`
	Components   []string `json:"components"`
	Workload     float64  `json:"workload"`
	Availability float64  `json:"availability"`
	Timezone     string   `json:"timezone"`
}

type userEntry struct {
	ID              string `json:"id"`
	Timezone        string `json:"timezone"`
	AutomationOptIn bool   `json:"automation_opt_in"`
	NotifyURL       string `json:"notify_url"`
}

// FileRepository loads the roster from a JSON document once at startup.
type FileRepository struct {
	teammates []domain.Teammate
	users     map[string]domain.UserProfile
}

// LoadFile reads and parses the roster document. A malformed document is a
// startup-time failure, never a per-evaluation one.
func LoadFile(path string) (*FileRepository, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}

	repo := &FileRepository{users: make(map[string]domain.UserProfile)}
	for _, t := range doc.Teammates {
		if t.ID == "" {
			return nil, fmt.Errorf("roster: teammate with empty id")
		}
		repo.teammates = append(repo.teammates, domain.Teammate{
			ID:           t.ID,
			Name:         t.Name,
			PathPatterns: t.PathPatterns,
			Components:   t.Components,
			Workload:     t.Workload,
			Availability: t.Availability,
			Timezone:     t.Timezone,
		})
	}
	for _, u := range doc.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("roster: user with empty id")
		}
		repo.users[u.ID] = domain.UserProfile{
			ID:              u.ID,
			Timezone:        u.Timezone,
			AutomationOptIn: u.AutomationOptIn,
			NotifyURL:       u.NotifyURL,
		}
	}
	return repo, nil
}

func (r *FileRepository) Teammates(ctx context.Context) ([]domain.Teammate, error) {
	out := make([]domain.Teammate, len(r.teammates))
	copy(out, r.teammates)
	return out, nil
}

func (r *FileRepository) User(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	u, ok := r.users[userID]
	return u, ok, nil
}

// Memory is a mutable in-memory repository for tests and the storage-free
// serve mode.
type Memory struct {
	mu        sync.RWMutex
	teammates []domain.Teammate
	users     map[string]domain.UserProfile
}

func NewMemory() *Memory {
	return &Memory{users: make(map[string]domain.UserProfile)}
}

func (m *Memory) AddTeammate(t domain.Teammate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teammates = append(m.teammates, t)
}

func (m *Memory) PutUser(u domain.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) Teammates(ctx context.Context) ([]domain.Teammate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Teammate, len(m.teammates))
	copy(out, m.teammates)
	return out, nil
}

func (m *Memory) User(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	return u, ok, nil
}
