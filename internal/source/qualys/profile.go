package qualys

import (
	"fmt"
	"strconv"
)

// Services with a search profile.
const (
	ServiceAWS       = "aws"
	ServiceOpenStack = "openstack"
)

type criterion struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type searchRequest struct {
	ServiceRequest serviceRequest `json:"ServiceRequest"`
}

type serviceRequest struct {
	Filters     filters     `json:"filters"`
	Preferences preferences `json:"preferences"`
}

type filters struct {
	Criteria []criterion `json:"Criteria"`
}

type preferences struct {
	LimitResults string `json:"limitResults"`
}

// profile selects the fields and filter of one service's search.
type profile struct {
	fields   []string
	criteria []criterion
}

func profileFor(service, openStackTagID string) (profile, error) {
	switch service {
	case ServiceAWS:
		return profile{
			fields: []string{
				"id",
				"name",
				"created",
				"sourceInfo.list.Ec2AssetSourceSimple.instanceId",
				"agentInfo.lastCheckedIn",
				"agentInfo.status",
			},
			criteria: []criterion{
				{Field: "cloudProviderType", Operator: "EQUALS", Value: "AWS"},
			},
		}, nil
	case ServiceOpenStack:
		if openStackTagID == "" {
			return profile{}, fmt.Errorf("openstack search needs a tag id")
		}
		return profile{
			fields: []string{
				"agentInfo.status",
				"agentInfo.lastCheckedIn",
				"fqdn",
				"qwebHostId",
				"os",
				"address",
				"networkInterface",
			},
			criteria: []criterion{
				{Field: "tagId", Operator: "EQUALS", Value: openStackTagID},
			},
		}, nil
	default:
		return profile{}, fmt.Errorf("no search profile for service %q", service)
	}
}

// request builds a fresh payload for one page. After the first page the
// watermark restricts the search to ids above lastID.
func (p profile) request(pageSize int, lastID string) searchRequest {
	criteria := make([]criterion, len(p.criteria), len(p.criteria)+1)
	copy(criteria, p.criteria)
	if lastID != "" {
		criteria = append(criteria, criterion{Field: "id", Operator: "GREATER", Value: lastID})
	}

	return searchRequest{ServiceRequest: serviceRequest{
		Filters:     filters{Criteria: criteria},
		Preferences: preferences{LimitResults: strconv.Itoa(pageSize)},
	}}
}
