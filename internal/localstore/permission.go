package localstore

import (
	"context"
	"sync"

	"github.com/hray3182/habitline/internal/models"
)

const permissionKey = "notification_permission"

// Prompt asks whether notifications may be shown on this device.
type Prompt func(ctx context.Context) bool

// Permissions tracks the notification permission of this device. The state
// lives in memory and is mirrored to the store when the store is usable, so a
// broken store never blocks delivery.
//
// Only a grant is persisted. A denial holds for the life of the process and
// the prompt is asked again on the next start.
type Permissions struct {
	store  *Store
	prompt Prompt

	mu    sync.Mutex
	state models.Permission
}

func NewPermissions(store *Store, prompt Prompt) *Permissions {
	return &Permissions{store: store, prompt: prompt, state: models.PermissionDefault}
}

// State returns the permission decided in this process, else the stored one,
// else default. Storage errors are not reported.
func (p *Permissions) State(ctx context.Context) (models.Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current(ctx), nil
}

func (p *Permissions) current(ctx context.Context) models.Permission {
	if p.state != models.PermissionDefault {
		return p.state
	}
	value, ok, err := p.store.getSetting(ctx, permissionKey)
	if err != nil || !ok || models.Permission(value) != models.PermissionGranted {
		return models.PermissionDefault
	}
	p.state = models.PermissionGranted
	return p.state
}

// Request prompts if the permission is still undetermined. A decided
// permission is returned as-is; denied is not re-prompted in this process.
func (p *Permissions) Request(ctx context.Context) (models.Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state := p.current(ctx); state != models.PermissionDefault {
		return state, nil
	}

	p.state = models.PermissionDenied
	if p.prompt != nil && p.prompt(ctx) {
		p.state = models.PermissionGranted
		// Best effort: the in-memory grant stands if the write fails.
		_ = p.store.setSetting(ctx, permissionKey, string(p.state))
	}
	return p.state, nil
}
