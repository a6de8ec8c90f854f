// Package ingest wires the admission gate, payload decoders, field
// reconciler and record store into the webhook processing pipeline.
package ingest

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"wialon-bridge/internal/decoder"
	"wialon-bridge/internal/gate"
	"wialon-bridge/internal/models"
	"wialon-bridge/internal/observability"
	"wialon-bridge/internal/reconcile"
)

// Sample size bounds for the stored raw-payload copy.
const (
	MaxSampleLen     = 5000
	MaxTestSampleLen = 1000
)

// Request is the boundary shape handed in by the HTTP layer: everything
// the pipeline needs without depending on the server framework.
type Request struct {
	Endpoint      string
	Method        string
	ContentType   string
	ContentLength int64
	RemoteAddr    string
	UserAgent     string
	AuthHeader    string
	Params        url.Values // merged query and form parameters
	Form          url.Values // decoded form body, if any
	Body          []byte
}

// Outcome classifies a webhook call for the boundary layer.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeUnauthenticated
	OutcomeNoValidData
	OutcomeInternalError
)

// Result is what the boundary layer renders back to the caller.
type Result struct {
	Outcome        Outcome
	ProcessedCount int
	ElapsedMillis  int64
}

// Store is the persistence surface the pipeline commits to.
type Store interface {
	InsertTrackingBatch(records []*models.TrackingRecord) (int64, error)
	InsertWebhookLog(l *models.WebhookLog) error
}

// Pipeline processes inbound webhook calls end to end.
type Pipeline struct {
	gate       *gate.Gate
	decoder    *decoder.Decoder
	reconciler *reconcile.Reconciler
	store      Store
	log        *slog.Logger
}

func New(g *gate.Gate, store Store, log *slog.Logger) *Pipeline {
	return &Pipeline{
		gate:       g,
		decoder:    decoder.New(log),
		reconciler: reconcile.New(log),
		store:      store,
		log:        log,
	}
}

// Handle runs one webhook call through gate, decode, reconcile and commit.
// Individual entries that fail reconciliation are skipped; only a commit
// failure aborts the batch.
func (p *Pipeline) Handle(ctx context.Context, req *Request) Result {
	start := time.Now()
	observability.WebhooksReceived.WithLabelValues(req.Endpoint).Inc()
	defer observability.ObserveProcessingLatency(start)

	if !p.gate.AllowRate(ctx, req.RemoteAddr) {
		p.audit(req, 429, elapsed(start), "Rate limit exceeded", "")
		return Result{Outcome: OutcomeRateLimited, ElapsedMillis: elapsed(start)}
	}

	// WS-Security applies to SOAP payloads only.
	var soapXML []byte
	if strings.Contains(req.ContentType, "soap+xml") {
		soapXML = req.Body
	}
	if !p.gate.Authenticate(req.AuthHeader, req.Params, soapXML) {
		p.audit(req, 401, elapsed(start), "Authentication failed", "")
		return Result{Outcome: OutcomeUnauthenticated, ElapsedMillis: elapsed(start)}
	}

	sample := requestSample(req, MaxSampleLen)

	entries, encoding := p.decoder.Decode(req.ContentType, req.Body, req.Form)
	if len(entries) == 0 {
		p.audit(req, 400, elapsed(start), "No valid data found in request", sample)
		return Result{Outcome: OutcomeNoValidData, ElapsedMillis: elapsed(start)}
	}

	now := time.Now().UTC()
	var records []*models.TrackingRecord
	for _, entry := range entries {
		rec, err := p.reconciler.Reconcile(entry, encoding, sample, now)
		if err != nil {
			observability.EntriesRejected.Inc()
			p.log.Warn("entry rejected", "endpoint", req.Endpoint, "error", err)
			continue
		}
		records = append(records, rec)
	}

	// Entries that decoded but all failed reconciliation are no more
	// usable than an undecodable payload.
	if len(records) == 0 {
		p.audit(req, 400, elapsed(start), "No valid data found in request", sample)
		return Result{Outcome: OutcomeNoValidData, ElapsedMillis: elapsed(start)}
	}

	if _, err := p.store.InsertTrackingBatch(records); err != nil {
		observability.CommitErrors.Inc()
		p.log.Error("batch commit failed", "endpoint", req.Endpoint, "error", err)
		p.audit(req, 500, elapsed(start), err.Error(), sample)
		return Result{Outcome: OutcomeInternalError, ElapsedMillis: elapsed(start)}
	}
	observability.EntriesProcessed.Add(float64(len(records)))

	p.audit(req, 200, elapsed(start), "", sample)
	return Result{
		Outcome:        OutcomeSuccess,
		ProcessedCount: len(records),
		ElapsedMillis:  elapsed(start),
	}
}

// Capture logs an unauthenticated diagnostic call without processing it.
// Used by the capture endpoint to debug retranslator configurations.
func (p *Pipeline) Capture(req *Request, headerDump string) {
	sample := requestSample(req, MaxTestSampleLen)
	p.audit(req, 200, 0, "TEST: Headers: "+headerDump, sample)
}

// audit writes the per-call log entry. Audit failures are logged and
// swallowed so they never affect the webhook response.
func (p *Pipeline) audit(req *Request, status int, elapsedMs int64, errMsg, sample string) {
	entry := &models.WebhookLog{
		Endpoint:         req.Endpoint,
		Method:           req.Method,
		ContentType:      req.ContentType,
		ContentLength:    req.ContentLength,
		RemoteAddr:       req.RemoteAddr,
		UserAgent:        req.UserAgent,
		StatusCode:       status,
		ProcessingTimeMs: elapsedMs,
		ErrorMessage:     errMsg,
		RequestSample:    sample,
	}
	if err := p.store.InsertWebhookLog(entry); err != nil {
		p.log.Error("failed to log webhook request", "error", err)
	}
}

func elapsed(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// requestSample renders a bounded copy of the raw payload for provenance
// and auditing.
func requestSample(req *Request, max int) string {
	if len(req.Body) > 0 {
		return Truncate(string(req.Body), max)
	}
	if len(req.Form) > 0 {
		return Truncate(req.Form.Encode(), max)
	}
	return ""
}

// Truncate bounds a string to at most n bytes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
