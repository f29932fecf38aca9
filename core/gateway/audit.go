package gateway

import (
	"context"
	"time"

	"github.com/inactu/inactu-web/core/infra/bus"
)

// AuditEvent captures an HTTP request summary for audit export. Bodies and
// tokens are never part of it.
type AuditEvent struct {
	Time       time.Time `json:"time"`
	Method     string    `json:"method"`
	Route      string    `json:"route"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	RemoteAddr string    `json:"remote_addr"`
	UserAgent  string    `json:"user_agent"`
	UserID     string    `json:"user_id"`
	RequestID  string    `json:"request_id"`
}

// StatusRequestEvent records a status change requested through the gateway
// and accepted by the control plane.
type StatusRequestEvent struct {
	Time      time.Time `json:"time"`
	ContextID string    `json:"context_id"`
	Status    string    `json:"status"`
	UserID    string    `json:"user_id"`
	RequestID string    `json:"request_id"`
}

// PackageEvent records a package or version mutation accepted by the control
// plane.
type PackageEvent struct {
	Time      time.Time `json:"time"`
	Action    string    `json:"action"`
	Package   string    `json:"package"`
	Version   string    `json:"version,omitempty"`
	UserID    string    `json:"user_id"`
	RequestID string    `json:"request_id"`
}

// AuditExporter receives gateway events. Export errors never fail a request.
type AuditExporter interface {
	ExportAudit(ctx context.Context, event AuditEvent) error
	ExportStatusRequest(ctx context.Context, event StatusRequestEvent) error
	ExportPackageEvent(ctx context.Context, event PackageEvent) error
}

// BusExporter publishes events on NATS subjects.
type BusExporter struct {
	bus bus.Publisher
}

func NewBusExporter(pub bus.Publisher) *BusExporter {
	return &BusExporter{bus: pub}
}

func (e *BusExporter) ExportAudit(_ context.Context, event AuditEvent) error {
	if e == nil || e.bus == nil {
		return nil
	}
	return e.bus.Publish(bus.SubjectAudit, event)
}

func (e *BusExporter) ExportStatusRequest(_ context.Context, event StatusRequestEvent) error {
	if e == nil || e.bus == nil {
		return nil
	}
	return e.bus.Publish(bus.SubjectContextStatus, event)
}

func (e *BusExporter) ExportPackageEvent(_ context.Context, event PackageEvent) error {
	if e == nil || e.bus == nil {
		return nil
	}
	return e.bus.Publish(bus.SubjectPackageEvents, event)
}
