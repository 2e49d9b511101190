package nmap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/discovery/internal/store"
)

const sampleReport = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -oX - -v -sS 198.51.100.0/29" start="1700000000" version="7.94">
  <host starttime="1700000001" endtime="1700000005">
    <status state="up" reason="echo-reply" reason_ttl="64"/>
    <address addr="198.51.100.1" addrtype="ipv4"/>
    <hostnames><hostname name="edge-1.example.com" type="PTR"/></hostnames>
    <ports>
      <port protocol="tcp" portid="22"><state state="open" reason="syn-ack" reason_ttl="64"/><service name="ssh" method="table" conf="3"/></port>
      <port protocol="tcp" portid="25"><state state="filtered"/></port>
      <port protocol="tcp" portid="80"><state state="open"/></port>
    </ports>
  </host>
  <host>
    <status state="up"/>
    <address addr="198.51.100.2" addrtype="ipv4"/>
    <hostnames/>
    <ports>
      <port protocol="tcp" portid="443"><state state="closed"/></port>
    </ports>
  </host>
  <host>
    <status state="down"/>
    <address addr="198.51.100.3" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="22"><state state="open"/></port>
    </ports>
  </host>
  <host>
    <status state="up"/>
    <address addr="198.51.100.4" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="8443"><state state="open"/></port>
    </ports>
  </host>
  <runstats><finished time="1700000010" elapsed="10.00" exit="success"/></runstats>
</nmaprun>`

type fakeRunner struct {
	reports map[string]string
	errs    map[string]error
	targets []string
}

func (r *fakeRunner) Scan(_ context.Context, target string) ([]byte, error) {
	r.targets = append(r.targets, target)
	if err := r.errs[target]; err != nil {
		return nil, err
	}
	if out, ok := r.reports[target]; ok {
		return []byte(out), nil
	}
	return []byte(`<nmaprun></nmaprun>`), nil
}

type failureRecorder struct{ units []string }

func (f *failureRecorder) RecordUnitFailure(_ context.Context, _, unit string) {
	f.units = append(f.units, unit)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Reset(context.Background(), store.SchemaNmap))
	return st
}

func TestParseHosts(t *testing.T) {
	hosts, err := ParseHosts([]byte(sampleReport))
	require.NoError(t, err)

	assert.Equal(t, []Host{
		{Address: "198.51.100.1", Hostname: "edge-1.example.com", Ports: []int{22, 80}},
		{Address: "198.51.100.4", Hostname: "", Ports: []int{8443}},
	}, hosts)
}

func TestParseHosts_Invalid(t *testing.T) {
	_, err := ParseHosts([]byte("not xml <"))
	assert.Error(t, err)
}

func TestSubnets(t *testing.T) {
	blocks, err := Subnets("10.0.0.0/27", 29)
	require.NoError(t, err)

	var got []string
	for _, b := range blocks {
		got = append(got, b.String())
	}
	assert.Equal(t, []string{"10.0.0.0/29", "10.0.0.8/29", "10.0.0.16/29", "10.0.0.24/29"}, got)
}

func TestSubnets_CrossesOctet(t *testing.T) {
	blocks, err := Subnets("10.0.0.0/23", 29)
	require.NoError(t, err)
	require.Len(t, blocks, 64)
	assert.Equal(t, "10.0.1.248/29", blocks[63].String())
}

func TestSubnets_NarrowRange(t *testing.T) {
	blocks, err := Subnets("10.0.0.4/30", 29)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "10.0.0.4/30", blocks[0].String())
}

func TestSubnets_MasksHostBits(t *testing.T) {
	blocks, err := Subnets("10.0.0.9/28", 29)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "10.0.0.0/29", blocks[0].String())
}

func TestSubnets_Invalid(t *testing.T) {
	_, err := Subnets("10.0.0.0", 29)
	assert.Error(t, err)

	_, err = Subnets("2001:db8::/64", 29)
	assert.Error(t, err)

	_, err = Subnets("10.0.0.0/24", 33)
	assert.Error(t, err)
}

func TestSubnets_WidestRange(t *testing.T) {
	blocks, err := Subnets("10.20.0.0/16", SubnetBits)
	require.NoError(t, err)
	require.Len(t, blocks, 1<<MaxSplitBits)
	assert.Equal(t, "10.20.255.248/29", blocks[len(blocks)-1].String())

	_, err = Subnets("10.0.0.0/15", SubnetBits)
	assert.ErrorContains(t, err, "too wide")

	_, err = Subnets("0.0.0.0/0", SubnetBits)
	assert.Error(t, err)
}

func TestSync_PersistsLiveHosts(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{reports: map[string]string{"198.51.100.0/29": sampleReport}}
	s := New(st, Config{
		Datacenters: []Datacenter{{Name: "dc1", IPRange: "198.51.100.0/28"}},
		Runner:      runner,
	})

	require.NoError(t, s.Sync(context.Background()))
	assert.Equal(t, []string{"198.51.100.0/29", "198.51.100.8/29"}, runner.targets)

	var rows []store.ScanResult
	require.NoError(t, st.DB().Order("public_ip").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, store.ScanResult{Datacenter: "dc1", PublicIP: "198.51.100.1", Ports: "22,80", Hostname: "edge-1.example.com"}, rows[0])

	ports, err := store.SplitPorts(rows[0].Ports)
	require.NoError(t, err)
	assert.Equal(t, []int{22, 80}, ports)
}

func TestSync_SubnetFailureContinues(t *testing.T) {
	st := newTestStore(t)
	rec := &failureRecorder{}
	runner := &fakeRunner{
		errs:    map[string]error{"198.51.100.0/29": errors.New("exit status 1")},
		reports: map[string]string{"198.51.100.8/29": sampleReport},
	}
	s := New(st, Config{
		Datacenters: []Datacenter{
			{Name: "bad", IPRange: "not-a-range"},
			{Name: "dc1", IPRange: "198.51.100.0/28"},
		},
		Runner:   runner,
		Recorder: rec,
	})

	require.NoError(t, s.Sync(context.Background()))

	n, err := st.Count(context.Background(), "nmap_results")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"datacenter", "subnet"}, rec.units)
}

func TestSync_WideRangeSkipsDatacenter(t *testing.T) {
	rec := &failureRecorder{}
	runner := &fakeRunner{}
	s := New(newTestStore(t), Config{
		Datacenters: []Datacenter{{Name: "wide", IPRange: "10.0.0.0/8"}},
		Runner:      runner,
		Recorder:    rec,
	})

	require.NoError(t, s.Sync(context.Background()))
	assert.Empty(t, runner.targets)
	assert.Equal(t, []string{"datacenter"}, rec.units)
}

func TestSync_MalformedReportSkipsSubnet(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{reports: map[string]string{"198.51.100.0/29": "<nmaprun><host>"}}
	s := New(st, Config{
		Datacenters: []Datacenter{{Name: "dc1", IPRange: "198.51.100.0/29"}},
		Runner:      runner,
	})

	require.NoError(t, s.Sync(context.Background()))

	n, err := st.Count(context.Background(), "nmap_results")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExecRunner_Args(t *testing.T) {
	r := &ExecRunner{Sudo: "/usr/bin/sudo", Binary: "/usr/bin/nmap"}
	assert.Equal(t, []string{"/usr/bin/sudo", "/usr/bin/nmap", "-oX", "-", "-v", "-sS", "10.0.0.0/29"}, r.Args("10.0.0.0/29"))

	r = &ExecRunner{Binary: "nmap"}
	assert.Equal(t, []string{"nmap", "-oX", "-", "-v", "-sS", "10.0.0.0/29"}, r.Args("10.0.0.0/29"))
}

func TestExecRunner_Scan(t *testing.T) {
	r := &ExecRunner{Binary: "echo"}
	out, err := r.Scan(context.Background(), "10.0.0.0/29")
	require.NoError(t, err)
	assert.Contains(t, string(out), "-sS 10.0.0.0/29")

	r = &ExecRunner{Binary: "/nonexistent/nmap"}
	_, err = r.Scan(context.Background(), "10.0.0.0/29")
	assert.Error(t, err)
}

func TestNewExecRunner_ExplicitBinary(t *testing.T) {
	r := NewExecRunner("", "/opt/nmap/bin/nmap")
	assert.Equal(t, "/opt/nmap/bin/nmap", r.Binary)
	assert.Empty(t, r.Sudo)
}
