package qualys

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// flexString accepts a JSON string, number, bool, null or {"$date": ...}
// and keeps its text. Anything else decodes to "".
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*s = ""
	case b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
	case b[0] == '{':
		var v struct {
			Date flexString `json:"$date"`
		}
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = v.Date
	case b[0] == '[':
		*s = ""
	default:
		*s = flexString(b)
	}
	return nil
}

// flexInt accepts a JSON number or numeric string. Anything unparsable
// decodes to 0.
type flexInt int64

func (i *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	n, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		*i = 0
		return nil
	}
	*i = flexInt(n)
	return nil
}

type searchResponse struct {
	ServiceResponse serviceResponse `json:"ServiceResponse"`
}

type serviceResponse struct {
	ResponseCode   string          `json:"responseCode"`
	Count          flexInt         `json:"count"`
	HasMoreRecords flexString      `json:"hasMoreRecords"`
	LastID         flexString      `json:"lastId"`
	Data           []hostRecord    `json:"data"`
	ErrorDetails   json.RawMessage `json:"responseErrorDetails"`
}

type hostRecord struct {
	HostAsset hostAsset `json:"HostAsset"`
}

type hostAsset struct {
	ID         flexInt     `json:"id"`
	Name       flexString  `json:"name"`
	FQDN       flexString  `json:"fqdn"`
	Address    flexString  `json:"address"`
	OS         flexString  `json:"os"`
	QwebHostID flexInt     `json:"qwebHostId"`
	AgentInfo  *agentInfo  `json:"agentInfo"`
	SourceInfo *sourceInfo `json:"sourceInfo"`
}

type agentInfo struct {
	Status        flexString `json:"status"`
	LastCheckedIn flexString `json:"lastCheckedIn"`
}

type sourceInfo struct {
	List []map[string]json.RawMessage `json:"list"`
}

type ec2Source struct {
	InstanceID flexString `json:"instanceId"`
}

// instanceID returns the instance id of the first EC2 source entry.
func (a *hostAsset) instanceID() string {
	if a.SourceInfo == nil {
		return ""
	}
	for _, item := range a.SourceInfo.List {
		raw, ok := item["Ec2AssetSourceSimple"]
		if !ok {
			continue
		}
		var src ec2Source
		if err := json.Unmarshal(raw, &src); err != nil {
			return ""
		}
		return string(src.InstanceID)
	}
	return ""
}
