// Package qualys implements the external-inventory source: a paginated
// host asset search against the Qualys asset management API.
package qualys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/discovery/internal/store"
)

const (
	DefaultSearchURL = "https://qualysapi.qg3.apps.qualys.com/qps/rest/2.0/search/am/hostasset"
	DefaultPageSize  = 500
	DefaultTimeout   = 600 * time.Second

	requestedWith   = "RH-Qualys-Automation"
	responseSuccess = "SUCCESS"
)

// ErrConnectionFailed is returned when the search answers with anything
// but a success response code.
var ErrConnectionFailed = errors.New("could not contact qualys")

// Config holds inventory source configuration.
type Config struct {
	Service        string
	SearchURL      string
	BasicAuth      string
	OpenStackTagID string
	PageSize       int
	Timeout        time.Duration
	MaxRetries     uint
	// BackOff overrides the retry schedule.
	BackOff   func() backoff.BackOff
	Transport http.RoundTripper
}

// Source implements the external-inventory source for one service profile.
type Source struct {
	store   *store.Store
	config  Config
	profile profile
	http    *http.Client
}

// New creates the source for cfg.Service.
func New(st *store.Store, cfg Config) (*Source, error) {
	if cfg.BasicAuth == "" {
		return nil, fmt.Errorf("qualys basic auth is not set")
	}
	p, err := profileFor(cfg.Service, cfg.OpenStackTagID)
	if err != nil {
		return nil, err
	}

	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	return &Source{
		store:   st,
		config:  cfg,
		profile: p,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newRetryTransport(cfg.Transport, cfg.MaxRetries, cfg.BackOff),
		},
	}, nil
}

// Name returns the source identifier.
func (s *Source) Name() string {
	return "qualys-" + s.config.Service
}

// Schema returns the tables written by the source.
func (s *Source) Schema() store.Schema {
	return store.SchemaQualys
}

// Sync pages through the search until the upstream reports no more
// records. Every error is returned: a partial inventory is not kept.
func (s *Source) Sync(ctx context.Context) error {
	log.Info().Ctx(ctx).Str("service", s.config.Service).Msg("Fetching Qualys assets")

	lastID := ""
	for {
		resp, err := s.search(ctx, lastID)
		if err != nil {
			return err
		}

		for i := range resp.Data {
			if err := s.store.InsertAsset(ctx, assetRow(&resp.Data[i].HostAsset)); err != nil {
				return err
			}
		}

		if string(resp.HasMoreRecords) != "true" {
			return nil
		}
		if resp.LastID == "" {
			return fmt.Errorf("search reported more records without a last id")
		}
		lastID = string(resp.LastID)
		log.Info().Ctx(ctx).Str("last_id", lastID).Msg("Will start another lookup")
	}
}

func (s *Source) search(ctx context.Context, lastID string) (*serviceResponse, error) {
	payload, err := json.Marshal(s.profile.request(s.config.PageSize, lastID))
	if err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}

	url := s.config.SearchURL + "?fields=" + strings.Join(s.profile.fields, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("X-Requested-With", requestedWith)
	req.Header.Set("Authorization", "Basic "+s.config.BasicAuth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search assets: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode search response (status %d): %w", resp.StatusCode, err)
	}

	sr := out.ServiceResponse
	if sr.ResponseCode != responseSuccess {
		return nil, fmt.Errorf("%w: response code %q: %s", ErrConnectionFailed, sr.ResponseCode, string(sr.ErrorDetails))
	}
	return &sr, nil
}

func assetRow(a *hostAsset) store.ExternalAsset {
	row := store.ExternalAsset{
		AssetID:       int64(a.ID),
		Name:          string(a.Name),
		AWSInstanceID: a.instanceID(),
		FQDN:          string(a.FQDN),
		IPAddress:     string(a.Address),
		OS:            string(a.OS),
		QwebHostID:    int64(a.QwebHostID),
	}
	if a.AgentInfo != nil {
		row.AgentStatus = string(a.AgentInfo.Status)
		row.LastCheckedIn = string(a.AgentInfo.LastCheckedIn)
	}
	return row
}
