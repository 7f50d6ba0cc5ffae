package handler

import (
	"testing"

	"github.com/brewlog/auth-service/internal/observability"
	"github.com/brewlog/auth-service/internal/service"
)

func TestLinkAuditEventPerDecision(t *testing.T) {
	if got := linkAuditEvent(service.LinkDecisionLink); got != observability.AuditAccountLinked {
		t.Fatalf("link decision audits %q, want %q", got, observability.AuditAccountLinked)
	}
	if got := linkAuditEvent(service.LinkDecisionSeparate); got != observability.AuditRegistration {
		t.Fatalf("separate decision audits %q, want %q", got, observability.AuditRegistration)
	}
}
