// Package aws implements the cloud-account source: organization accounts
// and the EC2 instances of every account, reached through a cross-account
// role.
package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/discovery/internal/source"
	"github.com/yairfalse/discovery/internal/store"
)

const (
	DefaultRoleName    = "QualysDiscovery"
	DefaultSessionName = "qualys_assume"
)

// Account tag keys copied onto the account row.
const (
	TagBusinessUnit   = "BusinessUnit"
	TagCustomerName   = "CustomerName"
	TagPrimaryContact = "PrimaryContact"
	TagContactEmail   = "ContactEmail"
)

// EC2Factory builds an EC2 client for region using the assumed role.
type EC2Factory func(region string, creds aws.CredentialsProvider) EC2API

// Config holds AWS source configuration.
type Config struct {
	Region      string
	RoleName    string
	SessionName string
	Recorder    source.FailureRecorder
}

// Source implements the cloud-account source.
type Source struct {
	store       *store.Store
	roleName    string
	sessionName string
	recorder    source.FailureRecorder

	// AWS clients (interfaces for testability)
	ec2Client  EC2API
	orgsClient OrganizationsAPI
	stsClient  STSAPI
	newEC2     EC2Factory
}

// New creates the source from the default credential chain.
func New(ctx context.Context, st *store.Store, cfg Config) (*Source, error) {
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	newEC2 := func(region string, creds aws.CredentialsProvider) EC2API {
		return ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
			o.Region = region
			o.Credentials = creds
		})
	}

	s := &Source{
		store:       st,
		roleName:    cfg.RoleName,
		sessionName: cfg.SessionName,
		recorder:    cfg.Recorder,
		ec2Client:   ec2.NewFromConfig(awsCfg),
		orgsClient:  organizations.NewFromConfig(awsCfg),
		stsClient:   sts.NewFromConfig(awsCfg),
		newEC2:      newEC2,
	}
	s.applyDefaults()
	return s, nil
}

func (s *Source) applyDefaults() {
	if s.roleName == "" {
		s.roleName = DefaultRoleName
	}
	if s.sessionName == "" {
		s.sessionName = DefaultSessionName
	}
}

// Name returns the source identifier.
func (s *Source) Name() string {
	return "aws"
}

// Schema returns the tables written by the source.
func (s *Source) Schema() store.Schema {
	return store.SchemaAWS
}

// Sync writes every account, then the instances of every account whose
// role can be assumed. Region, account and account tag listing failures
// are returned; a failed role assumption skips the account.
func (s *Source) Sync(ctx context.Context) error {
	regions, err := s.regions(ctx)
	if err != nil {
		return err
	}

	accounts, err := s.accounts(ctx)
	if err != nil {
		return err
	}

	if err := s.saveAccounts(ctx, accounts); err != nil {
		return err
	}

	for _, acct := range accounts {
		log.Info().Ctx(ctx).Str("account_id", acct.AccountID).Msg("Fetching instances")

		creds, err := s.assumeRole(ctx, acct.AccountID)
		if err != nil {
			log.Error().Ctx(ctx).Err(err).
				Str("account_id", acct.AccountID).
				Str("error_code", errorCode(err)).
				Msg("Could not assume role")
			source.RecordFailure(ctx, s.recorder, s.Name(), "account")
			continue
		}

		if err := s.syncInstances(ctx, acct.AccountID, creds, regions); err != nil {
			return err
		}
	}
	return nil
}

// regions lists every region enabled for the caller's own credentials.
func (s *Source) regions(ctx context.Context) ([]string, error) {
	output, err := s.ec2Client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, fmt.Errorf("describe regions: %w", err)
	}

	regions := make([]string, 0, len(output.Regions))
	for _, r := range output.Regions {
		regions = append(regions, aws.ToString(r.RegionName))
	}
	return regions, nil
}

// accounts lists every account in the organization, in listing order.
func (s *Source) accounts(ctx context.Context) ([]store.Account, error) {
	var accounts []store.Account

	paginator := organizations.NewListAccountsPaginator(s.orgsClient, &organizations.ListAccountsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		for _, a := range page.Accounts {
			accounts = append(accounts, store.Account{
				AccountID: aws.ToString(a.Id),
				Name:      aws.ToString(a.Name),
				Email:     aws.ToString(a.Email),
				Status:    string(a.Status),
			})
		}
	}
	return accounts, nil
}

// saveAccounts attaches the ownership tags and persists every account.
// A tag lookup failure aborts the sync: account ownership must be known.
func (s *Source) saveAccounts(ctx context.Context, accounts []store.Account) error {
	for i := range accounts {
		tags, err := s.accountTags(ctx, accounts[i].AccountID)
		if err != nil {
			return err
		}

		accounts[i].BusinessUnit = tags[TagBusinessUnit]
		accounts[i].CustomerName = tags[TagCustomerName]
		accounts[i].PrimaryContact = tags[TagPrimaryContact]
		accounts[i].ContactEmail = tags[TagContactEmail]

		if err := s.store.InsertAccount(ctx, accounts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) accountTags(ctx context.Context, accountID string) (map[string]string, error) {
	tags := make(map[string]string)
	var nextToken *string

	for {
		output, err := s.orgsClient.ListTagsForResource(ctx, &organizations.ListTagsForResourceInput{
			ResourceId: aws.String(accountID),
			NextToken:  nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("list tags for account %s: %w", accountID, err)
		}

		for _, t := range output.Tags {
			tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}
	return tags, nil
}

func (s *Source) assumeRole(ctx context.Context, accountID string) (aws.CredentialsProvider, error) {
	output, err := s.stsClient.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN(accountID, s.roleName)),
		RoleSessionName: aws.String(s.sessionName),
	})
	if err != nil {
		return nil, fmt.Errorf("assume role: %w", err)
	}
	if output.Credentials == nil {
		return nil, fmt.Errorf("assume role: no credentials returned")
	}

	c := output.Credentials
	return aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		aws.ToString(c.AccessKeyId),
		aws.ToString(c.SecretAccessKey),
		aws.ToString(c.SessionToken),
	)), nil
}

// errorCode returns the AWS API error code carried by err, if any.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func roleARN(accountID, roleName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
}
