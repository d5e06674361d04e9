package deployer

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/example/lizzy/internal/senza"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

type lookupStub struct {
	status string
	found  bool
}

func (l lookupStub) StackStatus(context.Context, string, string) (string, bool) {
	return l.status, l.found
}

type stubClient struct {
	removeResults []bool
	removed       []string
	domains       []senza.Domain
	domainsErr    error
	trafficErr    error
	trafficCalls  []string
	patchErr      error
	respawnErr    error
	patched       []string
	respawned     int
}

func (s *stubClient) Remove(_ context.Context, stackName, stackVersion string) bool {
	s.removed = append(s.removed, senza.StackID(stackName, stackVersion))
	if len(s.removeResults) == 0 {
		return true
	}
	ok := s.removeResults[0]
	s.removeResults = s.removeResults[1:]
	return ok
}

func (s *stubClient) Domains(context.Context, string) ([]senza.Domain, error) {
	return s.domains, s.domainsErr
}

func (s *stubClient) Traffic(_ context.Context, stackName, stackVersion string, percentage int) ([]senza.TrafficWeight, error) {
	s.trafficCalls = append(s.trafficCalls, senza.StackID(stackName, stackVersion)+"="+strconv.Itoa(percentage))
	if s.trafficErr != nil {
		return nil, s.trafficErr
	}
	return []senza.TrafficWeight{{"weight": float64(percentage)}}, nil
}

func (s *stubClient) Patch(_ context.Context, _, _, image string) error {
	s.patched = append(s.patched, image)
	return s.patchErr
}

func (s *stubClient) RespawnInstances(context.Context, string, string) error {
	s.respawned++
	return s.respawnErr
}

// logSink captures error log lines.
type logSink struct {
	mu    sync.Mutex
	lines []string
}

func (l *logSink) logger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.lines = append(l.lines, prefix+" "+args)
	}, funcr.Options{Verbosity: 1})
}

func (l *logSink) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func testDeployment() Deployment {
	return Deployment{ID: "hello-5", StackName: "hello", StackVersion: "5", Status: StatusDeploying}
}

func versions(vs ...int) StackVersions {
	sv := StackVersions{}
	for _, v := range vs {
		sv.Add("hello", v)
	}
	return sv
}

func TestDeployingTransitions(t *testing.T) {
	cases := []struct {
		name   string
		lookup lookupStub
		want   Status
	}{
		{"absent", lookupStub{found: false}, StatusRemoved},
		{"absent ignores stale status", lookupStub{status: "CREATE_COMPLETE", found: false}, StatusRemoved},
		{"in progress", lookupStub{status: "CREATE_IN_PROGRESS", found: true}, StatusDeploying},
		{"complete", lookupStub{status: "CREATE_COMPLETE", found: true}, StatusDeployed},
		{"rollback", lookupStub{status: "ROLLBACK_COMPLETE", found: true}, "CF:ROLLBACK_COMPLETE"},
		{"failed", lookupStub{status: "CREATE_FAILED", found: true}, "CF:CREATE_FAILED"},
		{"delete in progress", lookupStub{status: "DELETE_IN_PROGRESS", found: true}, "CF:DELETE_IN_PROGRESS"},
		{"verbatim", lookupStub{status: "weird status", found: true}, "CF:weird status"},
		{"empty status", lookupStub{status: "", found: true}, "CF:"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &stubClient{}
			d := NewBlueGreen(testDeployment(), client, tc.lookup, logr.Discard())
			got := d.Deploying(context.Background())
			if got != tc.want {
				t.Fatalf("Deploying()=%q want=%q", got, tc.want)
			}
			if !got.Valid() {
				t.Fatalf("status %q outside vocabulary", got)
			}
			if len(client.removed) != 0 || len(client.trafficCalls) != 0 {
				t.Fatalf("Deploying must not have side effects")
			}
		})
	}
}

func TestDeployingIsIdempotent(t *testing.T) {
	d := NewBlueGreen(testDeployment(), &stubClient{}, lookupStub{status: "CREATE_IN_PROGRESS", found: true}, logr.Discard())
	first := d.Deploying(context.Background())
	second := d.Deploying(context.Background())
	if first != second {
		t.Fatalf("first=%q second=%q", first, second)
	}
}

func TestVersionsToRemove(t *testing.T) {
	cases := []struct {
		in   []int
		want []int
	}{
		{[]int{1, 2, 3, 5}, []int{1, 2}},
		{[]int{5}, nil},
		{nil, nil},
		{[]int{4, 5}, nil},
		{[]int{1, 2, 3}, []int{1}},
	}
	for _, tc := range cases {
		got := VersionsToRemove(tc.in)
		if len(got) != len(tc.want) || (len(got) > 0 && !reflect.DeepEqual(got, tc.want)) {
			t.Fatalf("VersionsToRemove(%v)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestDeployedRemovesOldVersionsAndSwitchesTraffic(t *testing.T) {
	client := &stubClient{domains: []senza.Domain{{"domain": "hello.example.org"}}}
	d := NewBlueGreen(testDeployment(), client, lookupStub{status: "CREATE_COMPLETE", found: true}, logr.Discard())
	got := d.Deployed(context.Background(), versions(5, 3, 1, 2))
	if got != "CF:CREATE_COMPLETE" {
		t.Fatalf("Deployed()=%q", got)
	}
	if !reflect.DeepEqual(client.removed, []string{"hello-1", "hello-2"}) {
		t.Fatalf("removed=%v", client.removed)
	}
	if !reflect.DeepEqual(client.trafficCalls, []string{"hello-5=100"}) {
		t.Fatalf("traffic=%v", client.trafficCalls)
	}
}

func TestDeployedContinuesAfterRemovalFailure(t *testing.T) {
	sink := &logSink{}
	client := &stubClient{removeResults: []bool{false, true}, domains: []senza.Domain{{"domain": "hello.example.org"}}}
	d := NewBlueGreen(testDeployment(), client, lookupStub{status: "CREATE_COMPLETE", found: true}, sink.logger())
	got := d.Deployed(context.Background(), versions(1, 2, 3, 5))
	if got != "CF:CREATE_COMPLETE" {
		t.Fatalf("Deployed()=%q", got)
	}
	if !reflect.DeepEqual(client.removed, []string{"hello-1", "hello-2"}) {
		t.Fatalf("both removals must be attempted, got %v", client.removed)
	}
	if len(client.trafficCalls) != 1 {
		t.Fatalf("traffic switch must still happen, got %v", client.trafficCalls)
	}
	if !sink.contains("Failed to remove old stack version.") {
		t.Fatalf("removal failure was not logged: %v", sink.lines)
	}
}

func TestDeployedSkipsTrafficWithoutDomains(t *testing.T) {
	client := &stubClient{}
	d := NewBlueGreen(testDeployment(), client, lookupStub{status: "UPDATE_COMPLETE", found: true}, logr.Discard())
	got := d.Deployed(context.Background(), versions(4, 5))
	if got != "CF:UPDATE_COMPLETE" {
		t.Fatalf("Deployed()=%q", got)
	}
	if len(client.trafficCalls) != 0 || len(client.removed) != 0 {
		t.Fatalf("unexpected calls: traffic=%v removed=%v", client.trafficCalls, client.removed)
	}
}

func TestDeployedSkipsTrafficWhenDomainFetchFails(t *testing.T) {
	sink := &logSink{}
	client := &stubClient{domainsErr: &senza.ExecutionError{Command: "domains", Output: "throttled"}}
	d := NewBlueGreen(testDeployment(), client, lookupStub{status: "CREATE_COMPLETE", found: true}, sink.logger())
	got := d.Deployed(context.Background(), versions(5))
	if got != "CF:CREATE_COMPLETE" {
		t.Fatalf("Deployed()=%q", got)
	}
	if len(client.trafficCalls) != 0 {
		t.Fatalf("traffic must not be switched, got %v", client.trafficCalls)
	}
	if !sink.contains("Failed to get domains") {
		t.Fatalf("domain failure was not logged: %v", sink.lines)
	}
}

func TestDeployedTrafficFailureIsNotFatal(t *testing.T) {
	sink := &logSink{}
	client := &stubClient{domains: []senza.Domain{{"domain": "x"}}, trafficErr: errors.New("route53 busy")}
	d := NewBlueGreen(testDeployment(), client, lookupStub{status: "CREATE_COMPLETE", found: true}, sink.logger())
	got := d.Deployed(context.Background(), versions(1, 4, 5))
	if got != "CF:CREATE_COMPLETE" {
		t.Fatalf("Deployed()=%q", got)
	}
	if !reflect.DeepEqual(client.removed, []string{"hello-1"}) {
		t.Fatalf("removed=%v", client.removed)
	}
	if !sink.contains("Failed to switch traffic.") {
		t.Fatalf("traffic failure was not logged: %v", sink.lines)
	}
}

func TestDeployedAbsentStackDoesNothing(t *testing.T) {
	client := &stubClient{domains: []senza.Domain{{"domain": "x"}}}
	d := NewBlueGreen(testDeployment(), client, lookupStub{found: false}, logr.Discard())
	got := d.Deployed(context.Background(), versions(1, 2, 3, 4, 5))
	if got != StatusRemoved {
		t.Fatalf("Deployed()=%q", got)
	}
	if len(client.removed) != 0 || len(client.trafficCalls) != 0 {
		t.Fatalf("no side effects expected: removed=%v traffic=%v", client.removed, client.trafficCalls)
	}
}

func TestDeployedUnknownStackHasNothingToRemove(t *testing.T) {
	client := &stubClient{}
	d := NewBlueGreen(testDeployment(), client, lookupStub{status: "CREATE_COMPLETE", found: true}, logr.Discard())
	if got := d.Deployed(context.Background(), StackVersions{}); got != "CF:CREATE_COMPLETE" {
		t.Fatalf("Deployed()=%q", got)
	}
	if len(client.removed) != 0 {
		t.Fatalf("removed=%v", client.removed)
	}
}

func TestWatch(t *testing.T) {
	d := NewBlueGreen(testDeployment(), &stubClient{}, lookupStub{status: "CREATE_COMPLETE", found: true}, logr.Discard())
	if got := d.Watch(context.Background()); got != "CF:CREATE_COMPLETE" {
		t.Fatalf("Watch()=%q", got)
	}
	d = NewBlueGreen(testDeployment(), &stubClient{}, lookupStub{}, logr.Discard())
	if got := d.Watch(context.Background()); got != StatusRemoved {
		t.Fatalf("Watch()=%q", got)
	}
}

func TestFetchDomainsOutcomes(t *testing.T) {
	cases := []struct {
		client *stubClient
		want   DomainsOutcome
	}{
		{&stubClient{domains: []senza.Domain{{"domain": "x"}}}, DomainsFound},
		{&stubClient{}, DomainsEmpty},
		{&stubClient{domains: []senza.Domain{}}, DomainsEmpty},
		{&stubClient{domainsErr: errors.New("boom")}, DomainsFetchFailed},
	}
	for _, tc := range cases {
		res := FetchDomains(context.Background(), tc.client, "hello")
		if res.Outcome != tc.want {
			t.Fatalf("outcome=%s want=%s", res.Outcome, tc.want)
		}
	}
}

func TestStatusVocabulary(t *testing.T) {
	if raw, ok := CloudFormation("ROLLBACK_COMPLETE").CloudFormationStatus(); !ok || raw != "ROLLBACK_COMPLETE" {
		t.Fatalf("raw=%q ok=%v", raw, ok)
	}
	for _, s := range []Status{"CF:", "CF:CREATE_COMPLETE", StatusDeploying} {
		if !s.Valid() {
			t.Fatalf("%q must be valid", s)
		}
	}
	for _, s := range []Status{"", "LIZZY:UNKNOWN", "CREATE_COMPLETE"} {
		if s.Valid() {
			t.Fatalf("%q must be invalid", s)
		}
	}
	if !StatusRemoved.Removed() || StatusDeployed.Removed() {
		t.Fatalf("Removed() mismatch")
	}
}

func TestVersionsFromSnapshot(t *testing.T) {
	snap := senza.NewSnapshot([]senza.Stack{
		{StackName: "hello", Version: "3"},
		{StackName: "hello", Version: "1"},
		{StackName: "hello", Version: "dev"},
		{StackName: "other", Version: "7"},
	})
	sv := VersionsFromSnapshot(snap)
	if got := sortedVersions(sv["hello"]); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("hello versions=%v", got)
	}
	if _, ok := sv["other"][7]; !ok {
		t.Fatalf("other versions=%v", sv["other"])
	}
}
