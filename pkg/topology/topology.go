package topology

import "sort"

// Topology is a validated, immutable resource graph. Construct one with
// Build; a Topology in hand satisfies every structural invariant.
type Topology struct {
	// Name is the description name, if any.
	Name string `json:"name,omitempty"`

	Networks         map[string]*Network         `json:"networks,omitempty"`
	Subnets          map[string]*Subnet          `json:"subnets,omitempty"`
	RouteTables      map[string]*RouteTable      `json:"route_tables,omitempty"`
	Gateways         map[string]*Gateway         `json:"gateways,omitempty"`
	SecurityGroups   map[string]*SecurityGroup   `json:"security_groups,omitempty"`
	NetworkACLs      map[string]*NetworkACL      `json:"network_acls,omitempty"`
	Endpoints        map[string]*Endpoint        `json:"endpoints,omitempty"`
	IAMRoles         map[string]*IAMRole         `json:"iam_roles,omitempty"`
	InstanceProfiles map[string]*InstanceProfile `json:"instance_profiles,omitempty"`
	Instances        map[string]*Instance        `json:"instances,omitempty"`
	FlowLogs         map[string]*FlowLog         `json:"flow_logs,omitempty"`
	Alarms           map[string]*Alarm           `json:"alarms,omitempty"`
	Topics           map[string]*Topic           `json:"topics,omitempty"`

	// entities indexes every entity by logical id across kinds.
	entities map[string]Entity
}

// Entity looks up any entity by its logical id.
func (t *Topology) Entity(id string) (Entity, bool) {
	e, ok := t.entities[id]
	return e, ok
}

// EntityIDs returns every logical id in ascending order.
func (t *Topology) EntityIDs() []string {
	ids := make([]string, 0, len(t.entities))
	for id := range t.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entities returns every entity ordered by ascending logical id.
func (t *Topology) Entities() []Entity {
	out := make([]Entity, 0, len(t.entities))
	for _, id := range t.EntityIDs() {
		out = append(out, t.entities[id])
	}
	return out
}

// Len returns the number of entities in the topology.
func (t *Topology) Len() int { return len(t.entities) }

// NetworkIDs returns network ids in ascending order.
func (t *Topology) NetworkIDs() []string { return sortedKeys(t.Networks) }

// SubnetIDs returns subnet ids in ascending order.
func (t *Topology) SubnetIDs() []string { return sortedKeys(t.Subnets) }

// RouteTableIDs returns route table ids in ascending order.
func (t *Topology) RouteTableIDs() []string { return sortedKeys(t.RouteTables) }

// GatewayIDs returns gateway ids in ascending order.
func (t *Topology) GatewayIDs() []string { return sortedKeys(t.Gateways) }

// SecurityGroupIDs returns security group ids in ascending order.
func (t *Topology) SecurityGroupIDs() []string { return sortedKeys(t.SecurityGroups) }

// NetworkACLIDs returns network ACL ids in ascending order.
func (t *Topology) NetworkACLIDs() []string { return sortedKeys(t.NetworkACLs) }

// EndpointIDs returns endpoint ids in ascending order.
func (t *Topology) EndpointIDs() []string { return sortedKeys(t.Endpoints) }

// IAMRoleIDs returns IAM role ids in ascending order.
func (t *Topology) IAMRoleIDs() []string { return sortedKeys(t.IAMRoles) }

// InstanceProfileIDs returns instance profile ids in ascending order.
func (t *Topology) InstanceProfileIDs() []string { return sortedKeys(t.InstanceProfiles) }

// InstanceIDs returns instance ids in ascending order.
func (t *Topology) InstanceIDs() []string { return sortedKeys(t.Instances) }

// FlowLogIDs returns flow log ids in ascending order.
func (t *Topology) FlowLogIDs() []string { return sortedKeys(t.FlowLogs) }

// AlarmIDs returns alarm ids in ascending order.
func (t *Topology) AlarmIDs() []string { return sortedKeys(t.Alarms) }

// TopicIDs returns topic ids in ascending order.
func (t *Topology) TopicIDs() []string { return sortedKeys(t.Topics) }

// SubnetsOfNetwork returns the subnets of one network, ordered by id.
func (t *Topology) SubnetsOfNetwork(networkID string) []*Subnet {
	var out []*Subnet
	for _, id := range t.SubnetIDs() {
		if s := t.Subnets[id]; s.NetworkID == networkID {
			out = append(out, s)
		}
	}
	return out
}

// InstancesInSubnet returns the instances placed in one subnet, ordered
// by id.
func (t *Topology) InstancesInSubnet(subnetID string) []*Instance {
	var out []*Instance
	for _, id := range t.InstanceIDs() {
		if i := t.Instances[id]; i.SubnetID == subnetID {
			out = append(out, i)
		}
	}
	return out
}

// FlowLogsOfNetwork returns the flow logs attached to one network,
// ordered by id.
func (t *Topology) FlowLogsOfNetwork(networkID string) []*FlowLog {
	var out []*FlowLog
	for _, id := range t.FlowLogIDs() {
		if f := t.FlowLogs[id]; f.NetworkID == networkID {
			out = append(out, f)
		}
	}
	return out
}

// AlarmsOnTarget returns the alarms attached to one network or
// instance, ordered by id.
func (t *Topology) AlarmsOnTarget(targetID string) []*Alarm {
	var out []*Alarm
	for _, id := range t.AlarmIDs() {
		if a := t.Alarms[id]; a.TargetID == targetID {
			out = append(out, a)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
