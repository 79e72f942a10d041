// Package orch implements the orchestration agent: it watches the
// configuration database and projects validated entries into the
// application and state databases.
package orch

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/soniclab/swsslite/internal/metrics"
	"github.com/soniclab/swsslite/internal/platform"
	"github.com/soniclab/swsslite/internal/store"
	"github.com/soniclab/swsslite/internal/tables"
)

const agentName = "orchagent"

// Agent is the orchestration agent. It is the only writer of the
// application and state databases.
type Agent struct {
	config   store.Store
	appl     store.Store
	state    store.Store
	defaults *platform.Defaults
	logger   *logrus.Entry
}

// New creates an orchestration agent over the given stores.
func New(config, appl, state store.Store, defaults *platform.Defaults) *Agent {
	return &Agent{
		config:   config,
		appl:     appl,
		state:    state,
		defaults: defaults,
		logger:   logrus.WithField("agent", agentName),
	}
}

// Run seeds the default application state and then processes configuration
// notifications until ctx is cancelled or the feed closes. Event failures
// are logged and skipped; they never terminate the loop.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Orchestration agent starting")

	if err := a.bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	events, err := a.config.Watch(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to watch configuration store: %w", err)
	}

	a.logger.Info("Entering configuration notification loop")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Orchestration agent stopped")
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				a.logger.Info("Configuration notification feed closed")
				return nil
			}
			a.handle(ctx, ev)
		}
	}
}

// bootstrap writes the default port entries before any notification is
// consumed, independent of configuration store contents.
func (a *Agent) bootstrap(ctx context.Context) error {
	a.logger.Info("Initializing default application state")

	for _, port := range a.defaults.Ports {
		rec := store.Record{
			tables.FieldAdminStatus: a.defaults.AdminStatus,
			tables.FieldOperStatus:  tables.AdminUp,
			tables.FieldSpeed:       a.defaults.Speed,
			tables.FieldMTU:         a.defaults.MTU,
		}
		if err := a.appl.Set(ctx, tables.ApplKey(tables.ApplPortTable, port), rec); err != nil {
			return err
		}
		if err := a.setState(ctx, tables.ApplPortTable, port, tables.StateOK); err != nil {
			return err
		}
	}

	a.logger.WithField("ports", len(a.defaults.Ports)).Info("Default application state initialized")
	return nil
}

// handle processes a single configuration notification. All failures end
// here: one bad record must never halt the pipeline.
func (a *Agent) handle(ctx context.Context, ev store.Event) {
	if ev.Op != store.OpSet {
		// Deletion propagation is out of scope; see DESIGN.md.
		metrics.EventsSkipped.WithLabelValues(agentName, "delete").Inc()
		return
	}

	entry, err := tables.ParseConfigKey(ev.Key)
	if err != nil {
		a.logger.WithError(err).WithField("key", ev.Key).Warn("Skipping malformed configuration key")
		metrics.EventsSkipped.WithLabelValues(agentName, "malformed_key").Inc()
		return
	}
	if entry == nil {
		a.logger.WithField("key", ev.Key).Debug("Ignoring configuration key outside known tables")
		return
	}

	rec, err := a.config.Get(ctx, ev.Key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Removed between notification and read; nothing to project.
			metrics.EventsSkipped.WithLabelValues(agentName, "missing_record").Inc()
			return
		}
		a.logger.WithError(err).WithField("key", ev.Key).Error("Failed to read configuration record")
		metrics.EventsSkipped.WithLabelValues(agentName, "read_error").Inc()
		return
	}

	if err := a.process(ctx, entry, rec); err != nil {
		a.logger.WithError(err).WithField("key", ev.Key).Error("Failed to process configuration event")
		metrics.EventsSkipped.WithLabelValues(agentName, "process_error").Inc()
		return
	}

	metrics.EventsProcessed.WithLabelValues(agentName, tables.Table(entry)).Inc()
}

func (a *Agent) process(ctx context.Context, entry tables.ConfigEntry, rec store.Record) error {
	switch e := entry.(type) {
	case tables.VlanConfig:
		return a.processVlan(ctx, e)
	case tables.VlanMemberConfig:
		return a.processVlanMember(ctx, e, rec)
	case tables.PortConfig:
		return a.processPort(ctx, e, rec)
	default:
		return fmt.Errorf("unhandled configuration entry %T", entry)
	}
}

// processVlan derives the numeric VLAN id from the symbolic name and
// projects it into the application database. A name that fails derivation
// leaves an error status behind and produces no application record.
func (a *Agent) processVlan(ctx context.Context, e tables.VlanConfig) error {
	vlanID, err := tables.VlanID(e.Name)
	if err != nil {
		if stateErr := a.setState(ctx, tables.ApplVlanTable, e.Name, tables.StateError); stateErr != nil {
			a.logger.WithError(stateErr).WithField("vlan", e.Name).Warn("Failed to record error status")
		}
		return err
	}

	rec := store.Record{tables.FieldVlanID: strconv.Itoa(vlanID)}
	if err := a.appl.Set(ctx, tables.ApplKey(tables.ApplVlanTable, e.Name), rec); err != nil {
		return err
	}
	if err := a.setState(ctx, tables.ApplVlanTable, e.Name, tables.StateOK); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"vlan":   e.Name,
		"vlanid": vlanID,
	}).Info("VLAN configuration applied")
	return nil
}

// processVlanMember projects a VLAN membership, defaulting the tagging
// mode to untagged when the configuration omits it.
func (a *Agent) processVlanMember(ctx context.Context, e tables.VlanMemberConfig, rec store.Record) error {
	tagging := rec[tables.FieldTaggingMode]
	if tagging == "" {
		tagging = tables.TaggingUntagged
	}

	out := store.Record{tables.FieldTaggingMode: tagging}
	key := tables.ApplKey(tables.ApplVlanMemberTable, e.VlanName, e.PortName)
	if err := a.appl.Set(ctx, key, out); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"vlan":         e.VlanName,
		"port":         e.PortName,
		"tagging_mode": tagging,
	}).Info("VLAN member configuration applied")
	return nil
}

// processPort copies all declared port fields verbatim into the
// application database.
func (a *Agent) processPort(ctx context.Context, e tables.PortConfig, rec store.Record) error {
	if err := a.appl.Set(ctx, tables.ApplKey(tables.ApplPortTable, e.Name), rec.Clone()); err != nil {
		return err
	}
	if err := a.setState(ctx, tables.ApplPortTable, e.Name, tables.StateOK); err != nil {
		return err
	}

	a.logger.WithField("port", e.Name).Info("Port configuration applied")
	return nil
}

func (a *Agent) setState(ctx context.Context, table, name, state string) error {
	rec := store.Record{tables.FieldState: state}
	return a.state.Set(ctx, tables.StateKey(table, name), rec)
}
