package main

import (
	"context"

	"github.com/yairfalse/discovery/internal/config"
	"github.com/yairfalse/discovery/internal/sink"
	"github.com/yairfalse/discovery/internal/sink/sheets"
	"github.com/yairfalse/discovery/internal/source"
	"github.com/yairfalse/discovery/internal/source/aws"
	"github.com/yairfalse/discovery/internal/source/nmap"
	"github.com/yairfalse/discovery/internal/source/openstack"
	"github.com/yairfalse/discovery/internal/source/qualys"
	"github.com/yairfalse/discovery/internal/store"
	"github.com/yairfalse/discovery/internal/telemetry"
)

// registerSources binds every source name used by a job definition to a
// factory built from cfg.
func registerSources(cfg *config.Config, metrics *telemetry.Metrics) {
	source.Register("aws", func(ctx context.Context, st *store.Store) (source.Source, error) {
		return aws.New(ctx, st, aws.Config{
			Region:      cfg.AWS.Region,
			RoleName:    cfg.AWS.RoleName,
			SessionName: cfg.AWS.SessionName,
			Recorder:    metrics,
		})
	})

	source.Register("openstack", func(_ context.Context, st *store.Store) (source.Source, error) {
		clusters := make([]openstack.Cluster, 0, len(cfg.Clusters))
		for _, c := range cfg.Clusters {
			clusters = append(clusters, openstack.Cluster{
				Env:      c.Env,
				URL:      c.URL,
				Username: c.Username,
				Password: c.Password,
			})
		}
		return openstack.New(st, openstack.Config{
			Clusters:     clusters,
			IdentityPort: cfg.OpenStack.IdentityPort,
			ComputePort:  cfg.OpenStack.ComputePort,
			Timeout:      cfg.OpenStack.Timeout,
			Recorder:     metrics,
		}), nil
	})

	source.Register("nmap", func(_ context.Context, st *store.Store) (source.Source, error) {
		dcs := make([]nmap.Datacenter, 0, len(cfg.Datacenters))
		for _, dc := range cfg.Datacenters {
			dcs = append(dcs, nmap.Datacenter{Name: dc.Name, IPRange: dc.IPRange})
		}
		return nmap.New(st, nmap.Config{
			Datacenters: dcs,
			Runner:      nmap.NewExecRunner(cfg.Nmap.SudoPath(), cfg.Nmap.Binary),
			Recorder:    metrics,
		}), nil
	})

	for _, service := range []string{qualys.ServiceAWS, qualys.ServiceOpenStack} {
		source.Register("qualys-"+service, func(_ context.Context, st *store.Store) (source.Source, error) {
			return qualys.New(st, qualys.Config{
				Service:        service,
				SearchURL:      cfg.Qualys.SearchURL,
				BasicAuth:      cfg.Qualys.BasicAuth,
				OpenStackTagID: cfg.Qualys.OpenStackTagID,
				PageSize:       cfg.Qualys.PageSize,
				Timeout:        cfg.Qualys.Timeout,
			})
		})
	}
}

// targets maps the configured worksheets onto sink targets, in file order.
func targets(cfg *config.Config) []sink.Target {
	out := make([]sink.Target, 0, len(cfg.Sheets.Reports))
	for _, r := range cfg.Sheets.Reports {
		out = append(out, sink.Target{
			Sheet:       r.Sheet,
			ReportID:    r.ID,
			HeaderRange: r.Header,
			BodyRange:   r.Rows,
		})
	}
	return out
}

// openPublisher opens the destination spreadsheet. It returns nil when no
// reports are configured.
func openPublisher(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*sink.Publisher, error) {
	if len(cfg.Sheets.Reports) == 0 {
		return nil, nil
	}

	a := cfg.Sheets.Access
	book, err := sheets.Open(ctx, sheets.Access{
		SheetURL:          a.SheetURL,
		ProjectID:         a.ProjectID,
		PrivateKeyID:      a.PrivateKeyID,
		PrivateKey:        a.PrivateKey,
		ClientEmail:       a.ClientEmail,
		ClientID:          a.ClientID,
		ClientX509CertURL: a.ClientX509CertURL,
	})
	if err != nil {
		return nil, err
	}

	return sink.NewPublisher(book, sink.Options{
		Delay:       cfg.API.Delay,
		RetryWindow: cfg.API.RetryWindow,
		ChunkSize:   cfg.API.ChunkSize,
	}).WithRecorder(metrics), nil
}
