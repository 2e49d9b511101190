package openstack

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
)

// userDomain is the domain every cluster account lives in.
const userDomain = "default"

type server struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Status     string               `json:"status"`
	Created    string               `json:"created"`
	AccessIPv4 string               `json:"accessIPv4"`
	Metadata   map[string]string    `json:"metadata"`
	Addresses  map[string][]address `json:"addresses"`
}

type address struct {
	Addr string `json:"addr"`
}

// client talks to the identity and compute endpoints of one cluster.
type client struct {
	http         *http.Client
	baseURL      string
	identityPort int
	computePort  int
}

func (c *client) identityEndpoint() string {
	return fmt.Sprintf("%s:%d/v3/", c.baseURL, c.identityPort)
}

func (c *client) computeEndpoint() string {
	return fmt.Sprintf("%s:%d/v2.1/", c.baseURL, c.computePort)
}

// authenticate acquires a password-grant token, scoped to p when it is set.
// Each scope gets its own provider since a provider holds a single token.
func (c *client) authenticate(ctx context.Context, cl Cluster, p *projects.Project) (*gophercloud.ProviderClient, error) {
	provider, err := openstack.NewClient(c.identityEndpoint())
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	provider.HTTPClient = *c.http

	opts := gophercloud.AuthOptions{
		IdentityEndpoint: c.identityEndpoint(),
		Username:         cl.Username,
		Password:         cl.Password,
		DomainName:       userDomain,
	}
	if p != nil {
		opts.Scope = projectScope(p)
	}

	if err := openstack.Authenticate(ctx, provider, opts); err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	return provider, nil
}

// projectScope scopes by name within the project's domain, or by id when
// the listing carried no domain.
func projectScope(p *projects.Project) *gophercloud.AuthScope {
	if p.DomainID == "" {
		return &gophercloud.AuthScope{ProjectID: p.ID}
	}
	return &gophercloud.AuthScope{ProjectName: p.Name, DomainID: p.DomainID}
}

// listProjects lists the projects visible to the provider's token.
func (c *client) listProjects(ctx context.Context, provider *gophercloud.ProviderClient) ([]projects.Project, error) {
	identity, err := openstack.NewIdentityV3(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, fmt.Errorf("identity client: %w", err)
	}

	page, err := projects.ListAvailable(identity).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	list, err := projects.ExtractProjects(page)
	if err != nil {
		return nil, fmt.Errorf("decode projects: %w", err)
	}
	return list, nil
}

// listServers lists the servers of the project the provider is scoped to.
func (c *client) listServers(ctx context.Context, provider *gophercloud.ProviderClient) ([]server, error) {
	compute := &gophercloud.ServiceClient{
		ProviderClient: provider,
		Endpoint:       c.computeEndpoint(),
		Type:           "compute",
	}

	page, err := servers.List(compute, nil).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	var list []server
	if err := servers.ExtractServersInto(page, &list); err != nil {
		return nil, fmt.Errorf("decode servers: %w", err)
	}
	return list, nil
}

// firstAddressGroup returns the addresses of the network with the lowest
// name. The API returns networks as an unordered object.
func firstAddressGroup(addrs map[string][]address) []address {
	if len(addrs) == 0 {
		return nil
	}
	names := make([]string, 0, len(addrs))
	for name := range addrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return addrs[names[0]]
}
