package aws

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/discovery/internal/source"
	"github.com/yairfalse/discovery/internal/store"
)

// Instance tag keys copied onto the entry row.
const (
	TagAppCode      = "AppCode"
	TagServiceOwner = "ServiceOwner"
)

// syncInstances writes the instances of one account in every region. A
// region that fails or has no instances gets a single sentinel row.
func (s *Source) syncInstances(ctx context.Context, accountID string, creds aws.CredentialsProvider, regions []string) error {
	for _, region := range regions {
		instances, err := s.describeInstances(ctx, s.newEC2(region, creds))
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).
				Str("account_id", accountID).
				Str("region", region).
				Str("error_code", errorCode(err)).
				Msg("Could not describe instances")
			source.RecordFailure(ctx, s.recorder, s.Name(), "region")
		}

		if len(instances) == 0 {
			if err := s.store.InsertEntry(ctx, store.SentinelEntry(accountID, region)); err != nil {
				return err
			}
			continue
		}

		count := strconv.Itoa(len(instances))
		for _, inst := range instances {
			if err := s.store.InsertEntry(ctx, newEntry(accountID, region, count, inst)); err != nil {
				return err
			}
		}
	}
	return nil
}

// describeInstances pages through every instance in the client's region,
// keeping the first occurrence of each instance id. Any page error
// discards the region.
func (s *Source) describeInstances(ctx context.Context, client EC2API) ([]ec2types.Instance, error) {
	var instances []ec2types.Instance
	seen := make(map[string]struct{})
	var nextToken *string

	for {
		output, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		for _, reservation := range output.Reservations {
			for _, inst := range reservation.Instances {
				id := aws.ToString(inst.InstanceId)
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				instances = append(instances, inst)
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}
	return instances, nil
}

func newEntry(accountID, region, count string, inst ec2types.Instance) store.Entry {
	e := store.Entry{
		AccountID:       accountID,
		Region:          region,
		RegionCount:     count,
		InstanceID:      inst.InstanceId,
		InstanceType:    aws.String(string(inst.InstanceType)),
		PublicIP:        inst.PublicIpAddress,
		PublicDNSName:   inst.PublicDnsName,
		PrivateIP:       inst.PrivateIpAddress,
		PlatformDetails: inst.PlatformDetails,
		AppCode:         aws.String(""),
		ServiceOwner:    aws.String(""),
		Tags:            aws.String(""),
	}

	if inst.State != nil {
		e.State = aws.String(string(inst.State.Name))
	}
	if inst.LaunchTime != nil {
		e.LaunchDate = aws.String(inst.LaunchTime.UTC().Format(time.RFC3339))
	}

	if len(inst.Tags) > 0 {
		tags := make(map[string]string, len(inst.Tags))
		for _, t := range inst.Tags {
			tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
		e.AppCode = aws.String(tags[TagAppCode])
		e.ServiceOwner = aws.String(tags[TagServiceOwner])
		e.Tags = aws.String(encodeTags(inst.Tags))
	}
	return e
}

type rawTag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// encodeTags serializes the full tag set in API order.
func encodeTags(tags []ec2types.Tag) string {
	raw := make([]rawTag, len(tags))
	for i, t := range tags {
		raw[i] = rawTag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(b)
}
