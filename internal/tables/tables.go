// Package tables defines the composite-key shapes of the configuration,
// application and state databases, and the typed table dispatch used at
// the notification boundary.
package tables

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Configuration database tables. Keys are pipe-delimited:
// "VLAN|Vlan100", "VLAN_MEMBER|Vlan100|Ethernet0", "PORT|Ethernet0".
const (
	ConfigVlanTable       = "VLAN"
	ConfigVlanMemberTable = "VLAN_MEMBER"
	ConfigPortTable       = "PORT"
)

// Application database tables. Keys are colon-delimited:
// "VLAN_TABLE:Vlan100", "VLAN_MEMBER_TABLE:Vlan100:Ethernet0".
const (
	ApplVlanTable       = "VLAN_TABLE"
	ApplVlanMemberTable = "VLAN_MEMBER_TABLE"
	ApplPortTable       = "PORT_TABLE"
)

const (
	configSep = "|"
	applSep   = ":"
	stateSep  = "|"
)

// Record field names shared across the pipeline.
const (
	FieldVlanID      = "vlanid"
	FieldTaggingMode = "tagging_mode"
	FieldAdminStatus = "admin_status"
	FieldOperStatus  = "oper_status"
	FieldSpeed       = "speed"
	FieldMTU         = "mtu"
	FieldState       = "state"
)

// Tagging modes for VLAN membership.
const (
	TaggingTagged   = "tagged"
	TaggingUntagged = "untagged"
)

// Admin status values.
const (
	AdminUp   = "up"
	AdminDown = "down"
)

// State database status values.
const (
	StateOK      = "ok"
	StatePending = "pending"
	StateError   = "error"
)

var (
	// ErrMalformedKey is returned when a key does not have the arity its
	// table requires.
	ErrMalformedKey = errors.New("tables: malformed key")
	// ErrMalformedName is returned when a VLAN name is not Vlan<digits>.
	ErrMalformedName = errors.New("tables: malformed VLAN name")
)

// VlanID derives the numeric VLAN id from a symbolic name of the form
// Vlan<digits>.
func VlanID(name string) (int, error) {
	digits, ok := strings.CutPrefix(name, "Vlan")
	if !ok || digits == "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformedName, name)
	}
	id, err := strconv.Atoi(digits)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedName, name)
	}
	return id, nil
}

// ConfigEntry is the typed identity of one configuration database key,
// selected once when the notification arrives.
type ConfigEntry interface {
	configEntry()
}

// VlanConfig is a "VLAN|<name>" key.
type VlanConfig struct {
	Name string
}

// VlanMemberConfig is a "VLAN_MEMBER|<vlan>|<port>" key.
type VlanMemberConfig struct {
	VlanName string
	PortName string
}

// PortConfig is a "PORT|<name>" key.
type PortConfig struct {
	Name string
}

func (VlanConfig) configEntry()       {}
func (VlanMemberConfig) configEntry() {}
func (PortConfig) configEntry()       {}

// ConfigKey builds a configuration database key.
func ConfigKey(table string, names ...string) string {
	return table + configSep + strings.Join(names, configSep)
}

// ParseConfigKey classifies a configuration database key. Keys of unknown
// tables return (nil, nil): they belong to collaborators outside the
// pipeline and are ignored.
func ParseConfigKey(key string) (ConfigEntry, error) {
	parts := strings.Split(key, configSep)
	switch parts[0] {
	case ConfigVlanTable:
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
		return VlanConfig{Name: parts[1]}, nil
	case ConfigVlanMemberTable:
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
		return VlanMemberConfig{VlanName: parts[1], PortName: parts[2]}, nil
	case ConfigPortTable:
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
		return PortConfig{Name: parts[1]}, nil
	default:
		return nil, nil
	}
}

// ApplEntry is the typed identity of one application database key.
type ApplEntry interface {
	applEntry()
}

// VlanTableEntry is a "VLAN_TABLE:<name>" key.
type VlanTableEntry struct {
	Name string
}

// VlanMemberTableEntry is a "VLAN_MEMBER_TABLE:<vlan>:<port>" key.
type VlanMemberTableEntry struct {
	VlanName string
	PortName string
}

// PortTableEntry is a "PORT_TABLE:<name>" key.
type PortTableEntry struct {
	Name string
}

func (VlanTableEntry) applEntry()       {}
func (VlanMemberTableEntry) applEntry() {}
func (PortTableEntry) applEntry()       {}

// ApplKey builds an application database key.
func ApplKey(table string, names ...string) string {
	return table + applSep + strings.Join(names, applSep)
}

// ParseApplKey classifies an application database key. Unknown tables
// return (nil, nil).
func ParseApplKey(key string) (ApplEntry, error) {
	parts := strings.Split(key, applSep)
	switch parts[0] {
	case ApplVlanTable:
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
		return VlanTableEntry{Name: parts[1]}, nil
	case ApplVlanMemberTable:
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
		return VlanMemberTableEntry{VlanName: parts[1], PortName: parts[2]}, nil
	case ApplPortTable:
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
		return PortTableEntry{Name: parts[1]}, nil
	default:
		return nil, nil
	}
}

// StateKey builds a state database key.
func StateKey(table, name string) string {
	return table + stateSep + name
}

// Table returns the table name a config entry belongs to, for logging and
// metrics labels.
func Table(e ConfigEntry) string {
	switch e.(type) {
	case VlanConfig:
		return ConfigVlanTable
	case VlanMemberConfig:
		return ConfigVlanMemberTable
	case PortConfig:
		return ConfigPortTable
	default:
		return "unknown"
	}
}

// ApplTable returns the table name an application entry belongs to.
func ApplTable(e ApplEntry) string {
	switch e.(type) {
	case VlanTableEntry:
		return ApplVlanTable
	case VlanMemberTableEntry:
		return ApplVlanMemberTable
	case PortTableEntry:
		return ApplPortTable
	default:
		return "unknown"
	}
}
