// Package syncd implements the sync daemon: it watches the application
// database and realizes entries as simulated SAI objects in the ASIC
// database, with zero-initialized counters in the counters database.
package syncd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/soniclab/swsslite/internal/identity"
	"github.com/soniclab/swsslite/internal/metrics"
	"github.com/soniclab/swsslite/internal/platform"
	"github.com/soniclab/swsslite/internal/sai"
	"github.com/soniclab/swsslite/internal/store"
	"github.com/soniclab/swsslite/internal/tables"
)

const agentName = "syncd"

// Daemon is the sync daemon. It is the only writer of the ASIC and
// counters databases and the sole owner of the identity registry.
type Daemon struct {
	appl     store.Store
	asic     store.Store
	counters store.Store
	ids      *identity.Registry
	defaults *platform.Defaults
	logger   *logrus.Entry
}

// New creates a sync daemon over the given stores. The identity registry
// starts empty and is seeded from the platform OID base.
func New(appl, asic, counters store.Store, defaults *platform.Defaults) *Daemon {
	return &Daemon{
		appl:     appl,
		asic:     asic,
		counters: counters,
		ids:      identity.NewRegistry(defaults.OIDBase),
		defaults: defaults,
		logger:   logrus.WithField("agent", agentName),
	}
}

// Run seeds the default SAI objects and then processes application
// notifications until ctx is cancelled or the feed closes. Event failures
// are logged and skipped; they never terminate the loop.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("Sync daemon starting")

	if err := d.bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	events, err := d.appl.Watch(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to watch application store: %w", err)
	}

	d.logger.Info("Entering application notification loop")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Sync daemon stopped")
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				d.logger.Info("Application notification feed closed")
				return nil
			}
			d.handle(ctx, ev)
		}
	}
}

// bootstrap creates the singleton switch object and the default ports
// before any notification is consumed.
func (d *Daemon) bootstrap(ctx context.Context) error {
	d.logger.Info("Initializing default SAI objects")

	switchID, created := d.ids.Ensure(sai.SwitchName)
	if created {
		rec := store.Record{sai.AttrSwitchInit: "true"}
		if err := d.asic.Set(ctx, sai.StateKey(sai.ObjectTypeSwitch, switchID), rec); err != nil {
			d.ids.Drop(sai.SwitchName)
			return err
		}
		metrics.ObjectsCreated.WithLabelValues(string(sai.ObjectTypeSwitch)).Inc()
		d.logger.WithField("oid", switchID.String()).Info("Created SAI switch object")
	}

	for _, port := range d.defaults.Ports {
		if _, err := d.ensurePortObject(ctx, port); err != nil {
			return err
		}
	}

	d.logger.WithField("ports", len(d.defaults.Ports)).Info("Default SAI objects initialized")
	return nil
}

// handle processes a single application notification under the
// log-and-continue policy.
func (d *Daemon) handle(ctx context.Context, ev store.Event) {
	if ev.Op != store.OpSet {
		// Deletion propagation is out of scope; see DESIGN.md.
		metrics.EventsSkipped.WithLabelValues(agentName, "delete").Inc()
		return
	}

	entry, err := tables.ParseApplKey(ev.Key)
	if err != nil {
		d.logger.WithError(err).WithField("key", ev.Key).Warn("Skipping malformed application key")
		metrics.EventsSkipped.WithLabelValues(agentName, "malformed_key").Inc()
		return
	}
	if entry == nil {
		d.logger.WithField("key", ev.Key).Debug("Ignoring application key outside known tables")
		return
	}

	rec, err := d.appl.Get(ctx, ev.Key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.EventsSkipped.WithLabelValues(agentName, "missing_record").Inc()
			return
		}
		d.logger.WithError(err).WithField("key", ev.Key).Error("Failed to read application record")
		metrics.EventsSkipped.WithLabelValues(agentName, "read_error").Inc()
		return
	}

	if err := d.process(ctx, entry, rec); err != nil {
		d.logger.WithError(err).WithField("key", ev.Key).Error("Failed to process application event")
		metrics.EventsSkipped.WithLabelValues(agentName, "process_error").Inc()
		return
	}

	metrics.EventsProcessed.WithLabelValues(agentName, tables.ApplTable(entry)).Inc()
}

func (d *Daemon) process(ctx context.Context, entry tables.ApplEntry, rec store.Record) error {
	switch e := entry.(type) {
	case tables.VlanTableEntry:
		return d.processVlanTable(ctx, e)
	case tables.VlanMemberTableEntry:
		return d.processVlanMemberTable(ctx, e, rec)
	case tables.PortTableEntry:
		return d.processPortTable(ctx, e, rec)
	default:
		return fmt.Errorf("unhandled application entry %T", entry)
	}
}

func (d *Daemon) processVlanTable(ctx context.Context, e tables.VlanTableEntry) error {
	vlanID, err := tables.VlanID(e.Name)
	if err != nil {
		return err
	}
	_, err = d.ensureVlanObject(ctx, vlanID)
	return err
}

// processVlanMemberTable realizes a VLAN membership. Missing dependency
// objects are created first: the VLAN, then the port, then the membership
// itself. Reprocessing reuses the existing membership object and only
// refreshes its tagging mode.
func (d *Daemon) processVlanMemberTable(ctx context.Context, e tables.VlanMemberTableEntry, rec store.Record) error {
	vlanID, err := tables.VlanID(e.VlanName)
	if err != nil {
		return err
	}

	vlanOID, err := d.ensureVlanObject(ctx, vlanID)
	if err != nil {
		return err
	}
	portOID, err := d.ensurePortObject(ctx, e.PortName)
	if err != nil {
		return err
	}

	tagging := sai.TaggingModeUntagged
	if rec[tables.FieldTaggingMode] == tables.TaggingTagged {
		tagging = sai.TaggingModeTagged
	}

	memberOID, created := d.ids.Ensure(sai.VlanMemberName(vlanID, e.PortName))
	out := store.Record{
		sai.AttrVlanMemberVlanID:     vlanOID.String(),
		sai.AttrVlanMemberBridgePort: portOID.String(),
		sai.AttrVlanMemberTagging:    tagging,
	}
	if err := d.asic.Set(ctx, sai.StateKey(sai.ObjectTypeVlanMember, memberOID), out); err != nil {
		if created {
			d.ids.Drop(sai.VlanMemberName(vlanID, e.PortName))
		}
		return err
	}

	if created {
		metrics.ObjectsCreated.WithLabelValues(string(sai.ObjectTypeVlanMember)).Inc()
		metrics.IdentityEntries.Set(float64(d.ids.Len()))
	}

	d.logger.WithFields(logrus.Fields{
		"vlanid":       vlanID,
		"port":         e.PortName,
		"oid":          memberOID.String(),
		"tagging_mode": tagging,
	}).Info("SAI VLAN member realized")
	return nil
}

// processPortTable updates the port object with whichever of admin_status,
// speed and mtu the event carries, leaving other attributes unchanged, and
// makes sure the port's traffic counters exist.
func (d *Daemon) processPortTable(ctx context.Context, e tables.PortTableEntry, rec store.Record) error {
	portOID, err := d.ensurePortObject(ctx, e.Name)
	if err != nil {
		return err
	}

	key := sai.StateKey(sai.ObjectTypePort, portOID)
	current, err := d.asic.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		current = store.Record{}
	}

	if adminStatus, ok := rec[tables.FieldAdminStatus]; ok {
		current[sai.AttrPortAdminState] = strconv.FormatBool(adminStatus == tables.AdminUp)
	}
	if speed, ok := rec[tables.FieldSpeed]; ok {
		current[sai.AttrPortSpeed] = speed
	}
	if mtu, ok := rec[tables.FieldMTU]; ok {
		current[sai.AttrPortMTU] = mtu
	}

	if err := d.asic.Set(ctx, key, current); err != nil {
		return err
	}

	if err := d.ensureCounters(ctx, portOID, sai.PortStats); err != nil {
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"port": e.Name,
		"oid":  portOID.String(),
	}).Info("SAI port updated")
	return nil
}

// ensureVlanObject returns the ObjectID for the VLAN, creating the ASIC
// object and its zeroed counters on first sight. The identity entry is
// kept only once the object write succeeds, so a redelivered event after a
// failed write still creates the object.
func (d *Daemon) ensureVlanObject(ctx context.Context, vlanID int) (identity.ObjectID, error) {
	name := sai.VlanName(vlanID)
	id, created := d.ids.Ensure(name)
	if created {
		rec := store.Record{sai.AttrVlanID: strconv.Itoa(vlanID)}
		if err := d.asic.Set(ctx, sai.StateKey(sai.ObjectTypeVlan, id), rec); err != nil {
			d.ids.Drop(name)
			return 0, err
		}

		metrics.ObjectsCreated.WithLabelValues(string(sai.ObjectTypeVlan)).Inc()
		metrics.IdentityEntries.Set(float64(d.ids.Len()))
		d.logger.WithFields(logrus.Fields{
			"vlanid": vlanID,
			"oid":    id.String(),
		}).Info("Created SAI VLAN object")
	}

	if err := d.ensureCounters(ctx, id, sai.VlanStats); err != nil {
		return 0, err
	}
	return id, nil
}

// ensurePortObject returns the ObjectID for the port, creating the ASIC
// object with platform-default attributes and its zeroed counters on first
// sight. Like ensureVlanObject, the identity entry is kept only once the
// object write succeeds.
func (d *Daemon) ensurePortObject(ctx context.Context, port string) (identity.ObjectID, error) {
	name := sai.PortName(port)
	id, created := d.ids.Ensure(name)
	if created {
		rec := store.Record{
			sai.AttrPortAdminState: strconv.FormatBool(d.defaults.AdminStatus == tables.AdminUp),
			sai.AttrPortSpeed:      d.defaults.Speed,
			sai.AttrPortMTU:        d.defaults.MTU,
		}
		if err := d.asic.Set(ctx, sai.StateKey(sai.ObjectTypePort, id), rec); err != nil {
			d.ids.Drop(name)
			return 0, err
		}

		metrics.ObjectsCreated.WithLabelValues(string(sai.ObjectTypePort)).Inc()
		metrics.IdentityEntries.Set(float64(d.ids.Len()))
		d.logger.WithFields(logrus.Fields{
			"port": port,
			"oid":  id.String(),
		}).Info("Created SAI port object")
	}

	if err := d.ensureCounters(ctx, id, sai.PortStats); err != nil {
		return 0, err
	}
	return id, nil
}

// ensureCounters writes a zeroed counter record for the object unless one
// already exists. Existing counters are never reset.
func (d *Daemon) ensureCounters(ctx context.Context, id identity.ObjectID, stats []string) error {
	key := sai.CounterKey(id)

	_, err := d.counters.Get(ctx, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	rec := make(store.Record, len(stats))
	for _, stat := range stats {
		rec[stat] = "0"
	}
	return d.counters.Set(ctx, key, rec)
}
