// Package sai defines the simulated SAI object-model vocabulary: object
// types, attribute and statistic names, and the ASIC/counters key shapes.
package sai

import (
	"fmt"

	"github.com/soniclab/swsslite/internal/identity"
)

// ObjectType identifies a simulated hardware object kind.
type ObjectType string

const (
	ObjectTypeSwitch     ObjectType = "SAI_OBJECT_TYPE_SWITCH"
	ObjectTypeVlan       ObjectType = "SAI_OBJECT_TYPE_VLAN"
	ObjectTypeVlanMember ObjectType = "SAI_OBJECT_TYPE_VLAN_MEMBER"
	ObjectTypePort       ObjectType = "SAI_OBJECT_TYPE_PORT"
)

// Object attributes.
const (
	AttrSwitchInit           = "SAI_SWITCH_ATTR_INIT_SWITCH"
	AttrVlanID               = "SAI_VLAN_ATTR_VLAN_ID"
	AttrVlanMemberVlanID     = "SAI_VLAN_MEMBER_ATTR_VLAN_ID"
	AttrVlanMemberBridgePort = "SAI_VLAN_MEMBER_ATTR_BRIDGE_PORT_ID"
	AttrVlanMemberTagging    = "SAI_VLAN_MEMBER_ATTR_VLAN_TAGGING_MODE"
	AttrPortAdminState       = "SAI_PORT_ATTR_ADMIN_STATE"
	AttrPortSpeed            = "SAI_PORT_ATTR_SPEED"
	AttrPortMTU              = "SAI_PORT_ATTR_MTU"
)

// Tagging mode attribute values.
const (
	TaggingModeTagged   = "SAI_VLAN_TAGGING_MODE_TAGGED"
	TaggingModeUntagged = "SAI_VLAN_TAGGING_MODE_UNTAGGED"
)

// VlanStats are the per-VLAN counters, zero-initialized at object creation.
var VlanStats = []string{
	"SAI_VLAN_STAT_IN_OCTETS",
	"SAI_VLAN_STAT_OUT_OCTETS",
	"SAI_VLAN_STAT_IN_PACKETS",
	"SAI_VLAN_STAT_OUT_PACKETS",
}

// PortStats are the per-port traffic counters.
var PortStats = []string{
	"SAI_PORT_STAT_IF_IN_OCTETS",
	"SAI_PORT_STAT_IF_OUT_OCTETS",
	"SAI_PORT_STAT_IF_IN_UCAST_PKTS",
	"SAI_PORT_STAT_IF_OUT_UCAST_PKTS",
}

// StateKey builds the ASIC database key for an object:
// "ASIC_STATE:<type>:<oid>".
func StateKey(t ObjectType, id identity.ObjectID) string {
	return fmt.Sprintf("ASIC_STATE:%s:%s", t, id)
}

// CounterKey builds the counters database key for an object:
// "COUNTERS:<oid>".
func CounterKey(id identity.ObjectID) string {
	return fmt.Sprintf("COUNTERS:%s", id)
}

// Logical names used in the identity registry.

// SwitchName is the logical name of the singleton switch object.
const SwitchName = "switch"

// VlanName returns the logical name for a VLAN object.
func VlanName(vlanID int) string {
	return fmt.Sprintf("vlan_%d", vlanID)
}

// PortName returns the logical name for a port object.
func PortName(port string) string {
	return fmt.Sprintf("port_%s", port)
}

// VlanMemberName returns the logical name for a VLAN membership object.
func VlanMemberName(vlanID int, port string) string {
	return fmt.Sprintf("vlan_member_%d_%s", vlanID, port)
}
