package safety

import (
	"net"
	"testing"
)

type fakeResolver struct {
	ips map[string][]net.IP
}

func (f fakeResolver) LookupIP(host string) ([]net.IP, error) {
	return f.ips[host], nil
}

func TestEvaluateEgressModeOff(t *testing.T) {
	result := EvaluateEgress(EgressInput{Hosts: []string{"evil.example"}, Mode: EgressOff}, nil)
	if result.Decision != EgressAllow {
		t.Fatalf("expected allow, got %s", result.Decision)
	}
}

func TestEvaluateEgressAuditReportsButAllows(t *testing.T) {
	resolver := fakeResolver{ips: map[string][]net.IP{"example.com": {net.ParseIP("93.184.216.34")}}}
	result := EvaluateEgress(EgressInput{Hosts: []string{"example.com"}, Mode: EgressAudit}, resolver)
	if result.Decision != EgressAllow {
		t.Fatalf("expected allow, got %s", result.Decision)
	}
	if len(result.BlockedHosts) != 1 {
		t.Fatalf("expected one reported host, got %v", result.BlockedHosts)
	}
}

func TestEvaluateEgressEnforceAllowsAllowlisted(t *testing.T) {
	result := EvaluateEgress(EgressInput{
		Hosts:      []string{"example.com"},
		Mode:       EgressEnforce,
		AllowHosts: []string{"example.com"},
	}, fakeResolver{ips: map[string][]net.IP{"example.com": {net.ParseIP("93.184.216.34")}}})
	if result.Decision != EgressAllow {
		t.Fatalf("expected allow, got %s", result.Decision)
	}
}

func TestEvaluateEgressEnforceNeedsApprovalForUnknown(t *testing.T) {
	result := EvaluateEgress(EgressInput{
		Hosts: []string{"example.com"},
		Mode:  EgressEnforce,
	}, fakeResolver{ips: map[string][]net.IP{"example.com": {net.ParseIP("93.184.216.34")}}})
	if result.Decision != EgressNeedsApproval {
		t.Fatalf("expected needs_approval, got %s", result.Decision)
	}
}

func TestEvaluateEgressEnforceDeniesPrivateHost(t *testing.T) {
	result := EvaluateEgress(EgressInput{
		Hosts: []string{"10.0.0.5"},
		Mode:  EgressEnforce,
	}, fakeResolver{})
	if result.Decision != EgressDeny {
		t.Fatalf("expected deny, got %s", result.Decision)
	}
}

func TestEvaluateEgressEnforceDeniesCriticalPairing(t *testing.T) {
	result := EvaluateEgress(EgressInput{
		Hosts:    []string{"example.com"},
		Mode:     EgressEnforce,
		Critical: true,
	}, fakeResolver{ips: map[string][]net.IP{"example.com": {net.ParseIP("93.184.216.34")}}})
	if result.Decision != EgressDeny {
		t.Fatalf("expected deny for critical pairing, got %s", result.Decision)
	}
}

func TestEvaluateEgressEnforceDeniesBlockedHostname(t *testing.T) {
	result := EvaluateEgress(EgressInput{
		Hosts: []string{"metadata.google.internal"},
		Mode:  EgressEnforce,
	}, fakeResolver{})
	if result.Decision != EgressDeny {
		t.Fatalf("expected deny for blocked hostname, got %s", result.Decision)
	}
}
