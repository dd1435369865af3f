// Package controller serves the admin and dashboard API: provider/model/budget
// CRUD, settings, feedback, analytics, live activity, and health.
package controller

import (
	"github.com/cheaprelay/cheaprelay/relay"
	"github.com/cheaprelay/cheaprelay/relay/activity"
	"github.com/cheaprelay/cheaprelay/relay/cache"
)

// Admin bundles the long-lived collaborators the admin handlers mutate.
type Admin struct {
	Registry *relay.Registry
	Cache    *cache.Store
	Activity *activity.Registry
}

// NewAdmin wires the admin surface.
func NewAdmin(reg *relay.Registry, store *cache.Store, act *activity.Registry) *Admin {
	return &Admin{Registry: reg, Cache: store, Activity: act}
}

// reinitProviders rebuilds adapters and drops cached responses after any
// catalog mutation, so stale targets never serve another request.
func (a *Admin) reinitProviders() error {
	a.Cache.Flush()
	return a.Registry.Reload()
}
