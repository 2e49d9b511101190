// Package openstack implements the secondary-platform source: projects and
// servers of every configured OpenStack cluster.
package openstack

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/discovery/internal/source"
	"github.com/yairfalse/discovery/internal/store"
)

const (
	DefaultIdentityPort = 13000
	DefaultComputePort  = 13774
	DefaultTimeout      = 30 * time.Second
)

// Server metadata keys copied onto the server row.
const (
	MetaHostName     = "HostName"
	MetaServiceOwner = "ServiceOwner"
	MetaAppCode      = "AppCode"
)

// Cluster is one OpenStack deployment.
type Cluster struct {
	Env      string
	URL      string
	Username string
	Password string
}

// Config holds OpenStack source configuration.
type Config struct {
	Clusters     []Cluster
	IdentityPort int
	ComputePort  int
	Timeout      time.Duration
	HTTPClient   *http.Client
	Recorder     source.FailureRecorder
}

// Source implements the secondary-platform source.
type Source struct {
	store  *store.Store
	config Config
}

// New creates the source.
func New(st *store.Store, cfg Config) *Source {
	if cfg.IdentityPort == 0 {
		cfg.IdentityPort = DefaultIdentityPort
	}
	if cfg.ComputePort == 0 {
		cfg.ComputePort = DefaultComputePort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Source{store: st, config: cfg}
}

// Name returns the source identifier.
func (s *Source) Name() string {
	return "openstack"
}

// Schema returns the tables written by the source.
func (s *Source) Schema() store.Schema {
	return store.SchemaOpenStack
}

// Sync walks every cluster in order. Auth and listing failures skip the
// cluster or project; only storage errors are returned.
func (s *Source) Sync(ctx context.Context) error {
	for _, cl := range s.config.Clusters {
		if err := s.syncCluster(ctx, cl); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) syncCluster(ctx context.Context, cl Cluster) error {
	c := &client{
		http:         s.config.HTTPClient,
		baseURL:      strings.TrimRight(cl.URL, "/"),
		identityPort: s.config.IdentityPort,
		computePort:  s.config.ComputePort,
	}

	log.Info().Ctx(ctx).Str("cluster", cl.URL).Msg("Getting auth token")
	provider, err := c.authenticate(ctx, cl, nil)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("cluster", cl.URL).Msg("Skipping cluster")
		source.RecordFailure(ctx, s.config.Recorder, s.Name(), "cluster")
		return nil
	}

	visible, err := c.listProjects(ctx, provider)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("cluster", cl.URL).Msg("Skipping cluster")
		source.RecordFailure(ctx, s.config.Recorder, s.Name(), "cluster")
		return nil
	}

	for i := range visible {
		p := &visible[i]
		if err := s.store.InsertProject(ctx, projectRow(p)); err != nil {
			return err
		}

		scoped, err := c.authenticate(ctx, cl, p)
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Str("cluster", cl.URL).Str("project", p.Name).Msg("Skipping project")
			source.RecordFailure(ctx, s.config.Recorder, s.Name(), "project")
			continue
		}

		log.Info().Ctx(ctx).Str("cluster", cl.URL).Str("project", p.Name).Msg("Fetching servers")
		listed, err := c.listServers(ctx, scoped)
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Str("cluster", cl.URL).Str("project", p.Name).Msg("Skipping project")
			source.RecordFailure(ctx, s.config.Recorder, s.Name(), "project")
			continue
		}

		for _, srv := range listed {
			if err := s.store.InsertServer(ctx, serverRow(cl.Env, p, srv)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Enabled values stored on project rows. Disabled projects are stored
// empty, not as a false literal.
const (
	ProjectEnabled  = "1"
	ProjectDisabled = ""
)

func projectRow(p *projects.Project) store.Project {
	enabled := ProjectDisabled
	if p.Enabled {
		enabled = ProjectEnabled
	}
	return store.Project{
		ProjectID:   p.ID,
		Name:        p.Name,
		Description: p.Description,
		Tags:        strings.Join(p.Tags, ","),
		Enabled:     enabled,
	}
}

// serverRow normalizes srv.
func serverRow(env string, p *projects.Project, srv server) store.Server {
	row := store.Server{
		ProjectID:        p.ID,
		ProjectName:      p.Name,
		Env:              env,
		ServerID:         srv.ID,
		Name:             srv.Name,
		Status:           srv.Status,
		Created:          srv.Created,
		IPAddressAccess:  srv.AccessIPv4,
		MetadataHostname: srv.Metadata[MetaHostName],
		MetadataOwner:    srv.Metadata[MetaServiceOwner],
		MetadataAppCode:  srv.Metadata[MetaAppCode],
	}

	group := firstAddressGroup(srv.Addresses)
	if len(group) > 0 {
		row.IPAddress0 = group[0].Addr
	}
	if len(group) > 1 {
		row.IPAddress1 = group[1].Addr
	}
	return row
}
