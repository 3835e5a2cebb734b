package application

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/models"
)

// MemoryRegistry is an in-process Registry with the same guards as PostgresRegistry.
// The settlement adapter and orchestrator tests run against it.
type MemoryRegistry struct {
	mu           sync.Mutex
	now          func() time.Time
	applications map[int64]*models.Application
	franchises   map[string]*models.Franchise
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		now:          time.Now,
		applications: make(map[int64]*models.Application),
		franchises:   make(map[string]*models.Franchise),
	}
}

// AddFranchise stores f, replacing any franchise with the same id.
func (m *MemoryRegistry) AddFranchise(f models.Franchise) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.franchises[f.ID] = &f
}

// AddApplication stores app. OwnerAccount is filled from the franchise when known.
func (m *MemoryRegistry) AddApplication(app models.Application) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.franchises[app.FranchiseID]; ok && app.OwnerAccount == "" {
		app.OwnerAccount = f.OwnerAccount
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = m.now()
	}
	app.UpdatedAt = app.CreatedAt
	m.applications[app.ID] = &app
}

// SetUpdatedAt backdates an application, for staleness checks.
func (m *MemoryRegistry) SetUpdatedAt(id int64, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if app, ok := m.applications[id]; ok {
		app.UpdatedAt = t
	}
}

func (m *MemoryRegistry) Get(_ context.Context, id int64) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return nil, errors.NewApplicationNotFoundError(id)
	}
	cp := *app
	return &cp, nil
}

func (m *MemoryRegistry) Franchise(_ context.Context, franchiseID string) (*models.Franchise, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.franchises[franchiseID]
	if !ok {
		return nil, errors.NewInvalidInputError("franchise " + franchiseID + " not found")
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryRegistry) Approve(_ context.Context, id int64, caller string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, err := m.review(id, caller)
	if err != nil {
		return err
	}
	m.set(app, models.StatusPendingPayment)
	return nil
}

func (m *MemoryRegistry) Reject(_ context.Context, id int64, caller, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errors.NewRejectionReasonRequiredError(id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	app, err := m.review(id, caller)
	if err != nil {
		return err
	}
	app.RejectionReason = &reason
	m.set(app, models.StatusRejected)
	return nil
}

func (m *MemoryRegistry) review(id int64, caller string) (*models.Application, error) {
	app, ok := m.applications[id]
	if !ok {
		return nil, errors.NewApplicationNotFoundError(id)
	}
	if app.OwnerAccount != caller {
		return nil, errors.NewNotAuthorizedError(id, caller)
	}
	if app.Status != models.StatusSubmitted {
		return nil, errors.NewInvalidStateError(id, string(app.Status), string(models.StatusSubmitted))
	}
	return app, nil
}

func (m *MemoryRegistry) RecordPayment(_ context.Context, id int64, blockIndex uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return false, errors.NewApplicationNotFoundError(id)
	}
	if app.Status == models.StatusPendingPayment {
		app.PaymentBlockIndex = &blockIndex
		m.set(app, models.StatusPaid)
		return true, nil
	}
	if app.PaymentBlockIndex != nil && *app.PaymentBlockIndex == blockIndex {
		return false, nil
	}
	return false, errors.NewInvalidStateError(id, string(app.Status), string(models.StatusPendingPayment))
}

func (m *MemoryRegistry) CompleteApplication(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return false, errors.NewApplicationNotFoundError(id)
	}
	switch app.Status {
	case models.StatusPaid:
		m.set(app, models.StatusAwaitingIssuance)
		return true, nil
	case models.StatusAwaitingIssuance:
		return false, nil
	}
	return false, errors.NewInvalidStateError(id, string(app.Status), string(models.StatusPaid))
}

func (m *MemoryRegistry) RecordLicenseToken(_ context.Context, id int64, tokenID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return false, errors.NewApplicationNotFoundError(id)
	}
	if app.LicenseTokenID != nil {
		if *app.LicenseTokenID == tokenID {
			return false, nil
		}
		return false, errors.NewInvalidStateError(id, string(app.Status), string(models.StatusAwaitingIssuance))
	}
	if app.Status != models.StatusAwaitingIssuance {
		return false, errors.NewInvalidStateError(id, string(app.Status), string(models.StatusAwaitingIssuance))
	}
	app.LicenseTokenID = &tokenID
	app.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryRegistry) MarkIssued(_ context.Context, id int64, tokenID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return false, errors.NewApplicationNotFoundError(id)
	}
	if app.Status == models.StatusAwaitingIssuance && (app.LicenseTokenID == nil || *app.LicenseTokenID == tokenID) {
		app.LicenseTokenID = &tokenID
		m.set(app, models.StatusIssued)
		return true, nil
	}
	if app.Status == models.StatusIssued && app.LicenseTokenID != nil && *app.LicenseTokenID == tokenID {
		return false, nil
	}
	return false, errors.NewInvalidStateError(id, string(app.Status), string(models.StatusAwaitingIssuance))
}

func (m *MemoryRegistry) ListStale(_ context.Context, statuses []models.ApplicationStatus, olderThan time.Time) ([]models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Application
	for _, app := range m.applications {
		if !app.UpdatedAt.Before(olderThan) {
			continue
		}
		for _, s := range statuses {
			if app.Status == s {
				out = append(out, *app)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// set applies a transition; callers have already checked the guard.
func (m *MemoryRegistry) set(app *models.Application, to models.ApplicationStatus) {
	if !models.CanTransition(app.Status, to) {
		panic("application: illegal transition " + string(app.Status) + " -> " + string(to))
	}
	app.Status = to
	app.UpdatedAt = m.now()
}

var (
	_ Registry = (*PostgresRegistry)(nil)
	_ Registry = (*MemoryRegistry)(nil)
)
