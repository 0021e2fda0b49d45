package topology

import "fmt"

// Kind identifies the type of a topology entity.
type Kind string

const (
	// KindNetwork is a virtual network with a CIDR block.
	KindNetwork Kind = "network"

	// KindSubnet is an address range carved out of a network.
	KindSubnet Kind = "subnet"

	// KindRouteTable is an ordered list of routes.
	KindRouteTable Kind = "route_table"

	// KindGateway is an internet or NAT gateway.
	KindGateway Kind = "gateway"

	// KindSecurityGroup is a stateful ingress/egress rule set.
	KindSecurityGroup Kind = "security_group"

	// KindNetworkACL is a numbered, first-match-wins rule set on subnets.
	KindNetworkACL Kind = "network_acl"

	// KindEndpoint is an interface or gateway service endpoint.
	KindEndpoint Kind = "endpoint"

	// KindIAMRole is an IAM role with a trust policy.
	KindIAMRole Kind = "iam_role"

	// KindInstanceProfile wraps exactly one IAM role for instance attachment.
	KindInstanceProfile Kind = "instance_profile"

	// KindInstance is a compute instance placed in a subnet.
	KindInstance Kind = "instance"

	// KindFlowLog is network traffic logging metadata.
	KindFlowLog Kind = "flow_log"

	// KindAlarm is a monitoring alarm attached to a network or instance.
	KindAlarm Kind = "alarm"

	// KindTopic is a notification topic targeted by alarms.
	KindTopic Kind = "topic"
)

// Validate checks if the kind is one of the supported entity kinds.
func (k Kind) Validate() error {
	switch k {
	case KindNetwork, KindSubnet, KindRouteTable, KindGateway,
		KindSecurityGroup, KindNetworkACL, KindEndpoint, KindIAMRole,
		KindInstanceProfile, KindInstance, KindFlowLog, KindAlarm, KindTopic:
		return nil
	default:
		return fmt.Errorf("unknown entity kind: %s", k)
	}
}

// Entity is implemented by every topology entity.
type Entity interface {
	// EntityID returns the unique logical id of the entity.
	EntityID() string

	// EntityKind returns the entity kind.
	EntityKind() Kind

	// EntityLiveID returns the live-resource identifier, or "" for
	// entities in a desired topology.
	EntityLiveID() string
}

// Network is a virtual network.
type Network struct {
	// ID is the unique logical id within a topology.
	ID string `json:"id" yaml:"id" validate:"required"`

	// CIDR is the network's address block. Immutable: changing it
	// forces replacement of the network and everything it contains.
	CIDR string `json:"cidr" yaml:"cidr" validate:"required,cidr"`

	// EnableDNSSupport enables DNS resolution inside the network.
	EnableDNSSupport bool `json:"enable_dns_support" yaml:"enable_dns_support"`

	// EnableDNSHostnames enables DNS hostnames for instances.
	EnableDNSHostnames bool `json:"enable_dns_hostnames" yaml:"enable_dns_hostnames"`

	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// LiveID is the live-resource identifier; set only on observed
	// topologies returned by the provisioning collaborator.
	LiveID string `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (n *Network) EntityID() string     { return n.ID }
func (n *Network) EntityKind() Kind     { return KindNetwork }
func (n *Network) EntityLiveID() string { return n.LiveID }

// Subnet is an address range inside a network, pinned to one
// availability zone and associated with exactly one route table and
// exactly one network ACL.
type Subnet struct {
	ID        string `json:"id" yaml:"id" validate:"required"`
	NetworkID string `json:"network_id" yaml:"network_id" validate:"required"`

	// CIDR must be contained in the owning network's CIDR. Immutable.
	CIDR string `json:"cidr" yaml:"cidr" validate:"required,cidr"`

	// AvailabilityZone is the placement zone. Immutable.
	AvailabilityZone string `json:"availability_zone" yaml:"availability_zone" validate:"required"`

	// MapPublicIPOnLaunch assigns public addresses to instances at launch.
	MapPublicIPOnLaunch bool `json:"map_public_ip_on_launch" yaml:"map_public_ip_on_launch"`

	RouteTableID string `json:"route_table_id" yaml:"route_table_id" validate:"required"`
	NetworkACLID string `json:"network_acl_id" yaml:"network_acl_id" validate:"required"`

	Tags   map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID string            `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (s *Subnet) EntityID() string     { return s.ID }
func (s *Subnet) EntityKind() Kind     { return KindSubnet }
func (s *Subnet) EntityLiveID() string { return s.LiveID }

// Route directs traffic for a destination CIDR to a target. The target
// is a gateway id, or the literal "local" for intra-network traffic.
type Route struct {
	DestinationCIDR string `json:"destination_cidr" yaml:"destination_cidr" validate:"required,cidr"`
	TargetID        string `json:"target_id" yaml:"target_id" validate:"required"`
}

// RouteTableLocalTarget is the implicit in-network route target.
const RouteTableLocalTarget = "local"

// RouteTable is an ordered list of routes scoped to one network.
type RouteTable struct {
	ID        string            `json:"id" yaml:"id" validate:"required"`
	NetworkID string            `json:"network_id" yaml:"network_id" validate:"required"`
	Routes    []Route           `json:"routes" yaml:"routes" validate:"dive"`
	Tags      map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID    string            `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (r *RouteTable) EntityID() string     { return r.ID }
func (r *RouteTable) EntityKind() Kind     { return KindRouteTable }
func (r *RouteTable) EntityLiveID() string { return r.LiveID }

// GatewayKind distinguishes internet gateways from NAT gateways.
type GatewayKind string

const (
	GatewayInternet GatewayKind = "internet"
	GatewayNAT      GatewayKind = "nat"
)

// Validate checks if the gateway kind is supported.
func (g GatewayKind) Validate() error {
	switch g {
	case GatewayInternet, GatewayNAT:
		return nil
	default:
		return fmt.Errorf("unknown gateway kind: %s", g)
	}
}

// Gateway is an internet or NAT gateway. NAT gateways are placed in a
// subnet; internet gateways attach directly to the network. The kind
// and placement subnet are immutable.
type Gateway struct {
	ID        string      `json:"id" yaml:"id" validate:"required"`
	NetworkID string      `json:"network_id" yaml:"network_id" validate:"required"`
	Kind      GatewayKind `json:"kind" yaml:"kind" validate:"required"`

	// SubnetID is the placement subnet. Required for NAT gateways,
	// forbidden for internet gateways.
	SubnetID string `json:"subnet_id,omitempty" yaml:"subnet_id,omitempty"`

	Tags   map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID string            `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (g *Gateway) EntityID() string     { return g.ID }
func (g *Gateway) EntityKind() Kind     { return KindGateway }
func (g *Gateway) EntityLiveID() string { return g.LiveID }

// SecurityGroupRule is one ingress or egress rule. Exactly one of
// SourceCIDR and SourceSecurityGroupID identifies the peer (the source
// for ingress rules, the destination for egress rules).
type SecurityGroupRule struct {
	// Protocol is "tcp", "udp", "icmp" or "all".
	Protocol string `json:"protocol" yaml:"protocol" validate:"required,oneof=tcp udp icmp all"`

	// FromPort and ToPort bound the matched port range, inclusive.
	// Both are ignored for protocols without ports.
	FromPort int `json:"from_port" yaml:"from_port" validate:"min=0,max=65535"`
	ToPort   int `json:"to_port" yaml:"to_port" validate:"min=0,max=65535"`

	SourceCIDR            string `json:"source_cidr,omitempty" yaml:"source_cidr,omitempty" validate:"omitempty,cidr"`
	SourceSecurityGroupID string `json:"source_security_group,omitempty" yaml:"source_security_group,omitempty"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// SecurityGroup is a stateful rule set scoped to one network.
type SecurityGroup struct {
	ID        string              `json:"id" yaml:"id" validate:"required"`
	NetworkID string              `json:"network_id" yaml:"network_id" validate:"required"`
	Ingress   []SecurityGroupRule `json:"ingress,omitempty" yaml:"ingress,omitempty" validate:"dive"`
	Egress    []SecurityGroupRule `json:"egress,omitempty" yaml:"egress,omitempty" validate:"dive"`
	Tags      map[string]string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID    string              `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (s *SecurityGroup) EntityID() string     { return s.ID }
func (s *SecurityGroup) EntityKind() Kind     { return KindSecurityGroup }
func (s *SecurityGroup) EntityLiveID() string { return s.LiveID }

// ACLAction is the verdict of a matching ACL rule.
type ACLAction string

const (
	ACLAllow ACLAction = "allow"
	ACLDeny  ACLAction = "deny"
)

// ACLRule is one numbered network ACL entry. Rules are evaluated in
// ascending number order and the first match wins.
type ACLRule struct {
	// Number determines evaluation priority and must be unique per
	// direction within the ACL.
	Number int `json:"number" yaml:"number" validate:"min=1"`

	Protocol string    `json:"protocol" yaml:"protocol" validate:"required,oneof=tcp udp icmp all"`
	FromPort int       `json:"from_port" yaml:"from_port" validate:"min=0,max=65535"`
	ToPort   int       `json:"to_port" yaml:"to_port" validate:"min=0,max=65535"`
	CIDR     string    `json:"cidr" yaml:"cidr" validate:"required,cidr"`
	Action   ACLAction `json:"action" yaml:"action" validate:"required,oneof=allow deny"`
}

// NetworkACL is a numbered rule set associated with zero or more subnets.
// Traffic not matched by any rule is denied.
type NetworkACL struct {
	ID        string            `json:"id" yaml:"id" validate:"required"`
	NetworkID string            `json:"network_id" yaml:"network_id" validate:"required"`
	Ingress   []ACLRule         `json:"ingress,omitempty" yaml:"ingress,omitempty" validate:"dive"`
	Egress    []ACLRule         `json:"egress,omitempty" yaml:"egress,omitempty" validate:"dive"`
	Tags      map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID    string            `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (a *NetworkACL) EntityID() string     { return a.ID }
func (a *NetworkACL) EntityKind() Kind     { return KindNetworkACL }
func (a *NetworkACL) EntityLiveID() string { return a.LiveID }

// EndpointKind distinguishes interface endpoints from gateway endpoints.
type EndpointKind string

const (
	EndpointInterface EndpointKind = "interface"
	EndpointGateway   EndpointKind = "gateway"
)

// Validate checks if the endpoint kind is supported.
func (e EndpointKind) Validate() error {
	switch e {
	case EndpointInterface, EndpointGateway:
		return nil
	default:
		return fmt.Errorf("unknown endpoint kind: %s", e)
	}
}

// Endpoint is a private service endpoint placed in subnets. The target
// service and owning network are immutable.
type Endpoint struct {
	ID        string       `json:"id" yaml:"id" validate:"required"`
	NetworkID string       `json:"network_id" yaml:"network_id" validate:"required"`
	Kind      EndpointKind `json:"kind" yaml:"kind" validate:"required"`

	// Service is the target service identifier.
	Service string `json:"service" yaml:"service" validate:"required"`

	SubnetIDs        []string `json:"subnet_ids,omitempty" yaml:"subnet_ids,omitempty"`
	SecurityGroupIDs []string `json:"security_group_ids,omitempty" yaml:"security_group_ids,omitempty"`

	Tags   map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID string            `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (e *Endpoint) EntityID() string     { return e.ID }
func (e *Endpoint) EntityKind() Kind     { return KindEndpoint }
func (e *Endpoint) EntityLiveID() string { return e.LiveID }

// IAMRole is an IAM role with a trust policy principal and attached
// policy identifiers.
type IAMRole struct {
	ID string `json:"id" yaml:"id" validate:"required"`

	// TrustPrincipal is the service principal allowed to assume the role.
	TrustPrincipal string `json:"trust_principal" yaml:"trust_principal" validate:"required"`

	PolicyIDs []string `json:"policy_ids,omitempty" yaml:"policy_ids,omitempty"`

	Tags   map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID string            `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (r *IAMRole) EntityID() string     { return r.ID }
func (r *IAMRole) EntityKind() Kind     { return KindIAMRole }
func (r *IAMRole) EntityLiveID() string { return r.LiveID }

// InstanceProfile wraps exactly one IAM role.
type InstanceProfile struct {
	ID     string            `json:"id" yaml:"id" validate:"required"`
	RoleID string            `json:"role_id" yaml:"role_id" validate:"required"`
	Tags   map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID string            `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (p *InstanceProfile) EntityID() string     { return p.ID }
func (p *InstanceProfile) EntityKind() Kind     { return KindInstanceProfile }
func (p *InstanceProfile) EntityLiveID() string { return p.LiveID }

// Instance is a compute instance. The placement subnet is immutable.
type Instance struct {
	ID       string `json:"id" yaml:"id" validate:"required"`
	SubnetID string `json:"subnet_id" yaml:"subnet_id" validate:"required"`

	SecurityGroupIDs  []string `json:"security_group_ids,omitempty" yaml:"security_group_ids,omitempty"`
	InstanceProfileID string   `json:"instance_profile_id,omitempty" yaml:"instance_profile_id,omitempty"`

	// EncryptedStorage indicates whether attached storage is encrypted
	// at rest.
	EncryptedStorage bool `json:"encrypted_storage" yaml:"encrypted_storage"`

	// MonitoringEnabled indicates whether detailed monitoring is on.
	MonitoringEnabled bool `json:"monitoring_enabled" yaml:"monitoring_enabled"`

	// Privileged marks instances with privileged capability
	// requirements; such instances must carry an instance profile.
	Privileged bool `json:"privileged" yaml:"privileged"`

	Tags   map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID string            `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (i *Instance) EntityID() string     { return i.ID }
func (i *Instance) EntityKind() Kind     { return KindInstance }
func (i *Instance) EntityLiveID() string { return i.LiveID }

// FlowLog captures network traffic metadata for one network.
type FlowLog struct {
	ID        string `json:"id" yaml:"id" validate:"required"`
	NetworkID string `json:"network_id" yaml:"network_id" validate:"required"`

	// RetentionDays is how long captured logs are kept.
	RetentionDays int `json:"retention_days" yaml:"retention_days" validate:"min=0"`

	// Destination is the log delivery target identifier.
	Destination string `json:"destination" yaml:"destination" validate:"required"`

	Tags   map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID string            `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (f *FlowLog) EntityID() string     { return f.ID }
func (f *FlowLog) EntityKind() Kind     { return KindFlowLog }
func (f *FlowLog) EntityLiveID() string { return f.LiveID }

// Alarm is a monitoring alarm attached to a network or instance,
// publishing to a topic when its threshold is crossed.
type Alarm struct {
	ID string `json:"id" yaml:"id" validate:"required"`

	// TargetID names the monitored network or instance.
	TargetID string `json:"target_id" yaml:"target_id" validate:"required"`

	Metric    string  `json:"metric" yaml:"metric" validate:"required"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	TopicID   string  `json:"topic_id" yaml:"topic_id" validate:"required"`

	Tags   map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID string            `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (a *Alarm) EntityID() string     { return a.ID }
func (a *Alarm) EntityKind() Kind     { return KindAlarm }
func (a *Alarm) EntityLiveID() string { return a.LiveID }

// Topic is a notification destination for alarms.
type Topic struct {
	ID     string            `json:"id" yaml:"id" validate:"required"`
	Name   string            `json:"name" yaml:"name" validate:"required"`
	Tags   map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	LiveID string            `json:"live_id,omitempty" yaml:"live_id,omitempty"`
}

func (t *Topic) EntityID() string     { return t.ID }
func (t *Topic) EntityKind() Kind     { return KindTopic }
func (t *Topic) EntityLiveID() string { return t.LiveID }

// Description is the structured desired- or observed-state input from
// which a Topology is built. Observed descriptions carry a live_id per
// entity; desired descriptions leave it empty.
type Description struct {
	Name string `json:"name" yaml:"name"`

	Networks         []Network         `json:"networks,omitempty" yaml:"networks,omitempty" validate:"dive"`
	Subnets          []Subnet          `json:"subnets,omitempty" yaml:"subnets,omitempty" validate:"dive"`
	RouteTables      []RouteTable      `json:"route_tables,omitempty" yaml:"route_tables,omitempty" validate:"dive"`
	Gateways         []Gateway         `json:"gateways,omitempty" yaml:"gateways,omitempty" validate:"dive"`
	SecurityGroups   []SecurityGroup   `json:"security_groups,omitempty" yaml:"security_groups,omitempty" validate:"dive"`
	NetworkACLs      []NetworkACL      `json:"network_acls,omitempty" yaml:"network_acls,omitempty" validate:"dive"`
	Endpoints        []Endpoint        `json:"endpoints,omitempty" yaml:"endpoints,omitempty" validate:"dive"`
	IAMRoles         []IAMRole         `json:"iam_roles,omitempty" yaml:"iam_roles,omitempty" validate:"dive"`
	InstanceProfiles []InstanceProfile `json:"instance_profiles,omitempty" yaml:"instance_profiles,omitempty" validate:"dive"`
	Instances        []Instance        `json:"instances,omitempty" yaml:"instances,omitempty" validate:"dive"`
	FlowLogs         []FlowLog         `json:"flow_logs,omitempty" yaml:"flow_logs,omitempty" validate:"dive"`
	Alarms           []Alarm           `json:"alarms,omitempty" yaml:"alarms,omitempty" validate:"dive"`
	Topics           []Topic           `json:"topics,omitempty" yaml:"topics,omitempty" validate:"dive"`
}
