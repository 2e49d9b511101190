package store

import (
	"strconv"
	"strings"
)

// Account is one AWS organization account with its ownership tags.
type Account struct {
	AccountID      string `gorm:"column:account_id"`
	Name           string `gorm:"column:account_name"`
	Email          string `gorm:"column:account_email"`
	Status         string `gorm:"column:account_status"`
	BusinessUnit   string `gorm:"column:account_metadata_bu"`
	CustomerName   string `gorm:"column:account_metadata_customer_name"`
	PrimaryContact string `gorm:"column:account_metadata_primary_contact"`
	ContactEmail   string `gorm:"column:account_metadata_contact_email"`
}

func (Account) TableName() string { return "aws_accounts" }

// Entry is one EC2 instance observed in an account+region, or a sentinel
// row for a region where none were observed. Sentinel rows leave every
// instance column NULL so they never join to external assets.
type Entry struct {
	AccountID       string  `gorm:"column:account_id"`
	Region          string  `gorm:"column:region"`
	RegionCount     string  `gorm:"column:region_ec2_count"`
	InstanceID      *string `gorm:"column:instance_id"`
	InstanceType    *string `gorm:"column:instance_type"`
	PublicIP        *string `gorm:"column:instance_public_ip"`
	PublicDNSName   *string `gorm:"column:instance_public_dns_name"`
	PrivateIP       *string `gorm:"column:instance_private_ip"`
	State           *string `gorm:"column:instance_state"`
	LaunchDate      *string `gorm:"column:instance_launch_date"`
	PlatformDetails *string `gorm:"column:instance_platform_details"`
	AppCode         *string `gorm:"column:app_code"`
	ServiceOwner    *string `gorm:"column:service_owner"`
	Tags            *string `gorm:"column:tags_names"`
}

func (Entry) TableName() string { return "aws_entries" }

// SentinelEntry returns the placeholder row for a region with no observed instances.
func SentinelEntry(accountID, region string) Entry {
	return Entry{AccountID: accountID, Region: region, RegionCount: "0"}
}

// IsSentinel reports whether e is a "no instances observed" placeholder.
func (e Entry) IsSentinel() bool { return e.InstanceID == nil }

// Project is an OpenStack project as listed by the identity service.
type Project struct {
	ProjectID   string `gorm:"column:project_id"`
	Name        string `gorm:"column:project_name"`
	Description string `gorm:"column:project_description"`
	Tags        string `gorm:"column:project_tags"`
	Enabled     string `gorm:"column:project_enabled"`
}

func (Project) TableName() string { return "openstack_projects" }

// Server is an OpenStack compute server. The owning project's id and name
// are copied onto every row.
type Server struct {
	ProjectID        string `gorm:"column:project_id"`
	ProjectName      string `gorm:"column:project_name"`
	Env              string `gorm:"column:env"`
	ServerID         string `gorm:"column:server_id"`
	Name             string `gorm:"column:server_name"`
	Status           string `gorm:"column:status"`
	Created          string `gorm:"column:created"`
	IPAddress0       string `gorm:"column:ip_address_0"`
	IPAddress1       string `gorm:"column:ip_address_1"`
	IPAddressAccess  string `gorm:"column:ip_address_access"`
	MetadataHostname string `gorm:"column:metadata_hostname"`
	MetadataOwner    string `gorm:"column:metadata_owner"`
	MetadataAppCode  string `gorm:"column:metadata_appcode"`
}

func (Server) TableName() string { return "openstack_servers" }

// ScanResult is one live host with at least one open port.
type ScanResult struct {
	Datacenter string `gorm:"column:datacenter"`
	PublicIP   string `gorm:"column:public_ip"`
	Ports      string `gorm:"column:ports"`
	Hostname   string `gorm:"column:hostname"`
}

func (ScanResult) TableName() string { return "nmap_results" }

// JoinPorts serializes ports in order as a comma separated list.
func JoinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// SplitPorts is the inverse of JoinPorts.
func SplitPorts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ports := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		ports = append(ports, n)
	}
	return ports, nil
}

// ExternalAsset is one host asset from the vulnerability-management inventory.
type ExternalAsset struct {
	AssetID       int64  `gorm:"column:asset_id"`
	Name          string `gorm:"column:asset_name"`
	AgentStatus   string `gorm:"column:agent_status"`
	AWSInstanceID string `gorm:"column:aws_instance_id"`
	FQDN          string `gorm:"column:fqdn"`
	IPAddress     string `gorm:"column:ip_address"`
	LastCheckedIn string `gorm:"column:last_checked_in"`
	OS            string `gorm:"column:os"`
	QwebHostID    int64  `gorm:"column:qweb_host_id"`
}

func (ExternalAsset) TableName() string { return "qualys_assets" }
