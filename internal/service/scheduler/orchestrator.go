package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"helpdesk-ingest-go/internal/broadcast"
	"helpdesk-ingest-go/internal/config"
	"helpdesk-ingest-go/internal/logging"
	"helpdesk-ingest-go/internal/metrics"
	"helpdesk-ingest-go/internal/model"
	"helpdesk-ingest-go/internal/repository"
	"helpdesk-ingest-go/internal/service/correlator"
	"helpdesk-ingest-go/internal/service/extractor"
	"helpdesk-ingest-go/internal/service/health"
	"helpdesk-ingest-go/internal/service/ledger"
	"helpdesk-ingest-go/internal/service/mailbox"
)

// Trigger reasons
const (
	ReasonCron   = "cron"
	ReasonManual = "manual"
	ReasonAuto   = "auto"
)

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Repo       *repository.Repository
	Opener     mailbox.Opener
	Correlator *correlator.Correlator
	Ledger     *ledger.Ledger
	Extractor  *extractor.Extractor
	Health     *health.Tracker
	Publisher  broadcast.Publisher
	Metrics    *metrics.Metrics
}

// MailboxReport summarizes one mailbox within a cycle
type MailboxReport struct {
	MailboxID   uint   `json:"mailbox_id"`
	Address     string `json:"address"`
	Skipped     string `json:"skipped,omitempty"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
	Created     int    `json:"created"`
	Appended    int    `json:"appended"`
	Discarded   int    `json:"discarded"`
	Undecodable int    `json:"undecodable"`
	Failed      int    `json:"failed"`
	AlreadySeen int    `json:"already_seen"`
	Conflicts   int    `json:"conflicts"`
}

// CycleReport summarizes one fetch cycle
type CycleReport struct {
	Reason     string          `json:"reason"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Mailboxes  []MailboxReport `json:"mailboxes"`
	Error      string          `json:"error,omitempty"`
}

// Orchestrator runs fetch cycles over every active mailbox. At most one cycle
// runs at a time; triggers arriving while one runs are dropped.
type Orchestrator struct {
	repo       *repository.Repository
	opener     mailbox.Opener
	correlator *correlator.Correlator
	ledger     *ledger.Ledger
	extractor  *extractor.Extractor
	health     *health.Tracker
	notifier   *broadcast.Notifier
	metrics    *metrics.Metrics
	settings   config.IngestConfig
	now        func() time.Time

	running atomic.Bool
	last    atomic.Pointer[CycleReport]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Deps, settings config.IngestConfig) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		repo:       deps.Repo,
		opener:     deps.Opener,
		correlator: deps.Correlator,
		ledger:     deps.Ledger,
		extractor:  deps.Extractor,
		health:     deps.Health,
		notifier:   broadcast.NewNotifier(deps.Publisher),
		metrics:    deps.Metrics,
		settings:   settings,
		now:        func() time.Time { return time.Now().UTC() },
		ctx:        ctx,
		cancel:     cancel,
	}
	if o.correlator == nil {
		o.correlator = correlator.New(o.repo)
	}
	if o.ledger == nil {
		o.ledger = ledger.New(o.repo.DB())
	}
	if o.extractor == nil {
		o.extractor = extractor.New(extractor.WithFallbackChars(settings.FallbackChars))
	}
	if o.health == nil {
		o.health = health.NewTracker(o.repo, settings.MinInterval, settings.FailureCooldown)
	}
	return o
}

// TriggerFetch starts a cycle in the background. It returns false when a
// cycle is already running; the trigger is then dropped, not queued.
func (o *Orchestrator) TriggerFetch(reason string) bool {
	if !o.acquire(reason) {
		return false
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.running.Store(false)
		o.runCycle(o.ctx, reason)
	}()
	return true
}

// RunCycle runs one cycle synchronously. The second result is false when the
// cycle was dropped because another was running.
func (o *Orchestrator) RunCycle(ctx context.Context, reason string) (CycleReport, bool) {
	if !o.acquire(reason) {
		return CycleReport{}, false
	}
	defer o.running.Store(false)
	return o.runCycle(ctx, reason), true
}

// Running reports whether a cycle is in progress
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// LastReport returns the report of the most recent finished cycle
func (o *Orchestrator) LastReport() (CycleReport, bool) {
	r := o.last.Load()
	if r == nil {
		return CycleReport{}, false
	}
	return *r, true
}

// HealthSnapshot returns the health of every known mailbox
func (o *Orchestrator) HealthSnapshot() []health.State {
	return o.health.Snapshot()
}

// Health exposes the tracker for seeding and mailbox management
func (o *Orchestrator) Health() *health.Tracker {
	return o.health
}

// Correlate extracts and correlates one message without touching a mailbox
// or the ledger. Committed effects are published like ingested ones.
func (o *Orchestrator) Correlate(ctx context.Context, msg mailbox.InboundMessage, mb model.Mailbox) (correlator.Result, error) {
	res, err := o.correlator.Correlate(ctx, o.input(msg, mb))
	if err != nil {
		return correlator.Result{}, err
	}
	o.publish(res)
	return res, nil
}

// Stop cancels a running background cycle and waits for it to return
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) acquire(reason string) bool {
	if o.running.CompareAndSwap(false, true) {
		return true
	}
	if o.metrics != nil {
		o.metrics.CyclesDropped.Inc()
	}
	logrus.WithField("reason", reason).Info("Fetch cycle already running, dropping trigger")
	return false
}

func (o *Orchestrator) runCycle(ctx context.Context, reason string) (report CycleReport) {
	report = CycleReport{Reason: reason, StartedAt: o.now()}
	log := logrus.WithField("reason", reason)
	log.Info("Starting fetch cycle")

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Fetch cycle panicked: %v", r)
			report.Error = fmt.Sprintf("panic: %v", r)
		}
		report.FinishedAt = o.now()
		o.last.Store(&report)
		if o.metrics != nil {
			o.metrics.FetchCycles.WithLabelValues(reason).Inc()
			o.metrics.CycleDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
		}
		log.Infof("Fetch cycle completed in %v", report.FinishedAt.Sub(report.StartedAt))
	}()

	mailboxes, err := o.repo.ActiveMailboxes(ctx)
	if err != nil {
		log.Errorf("Failed to load active mailboxes: %v", err)
		report.Error = err.Error()
		return report
	}
	if o.metrics != nil {
		o.metrics.ActiveMailboxes.Set(float64(len(mailboxes)))
	}
	o.health.Seed(mailboxes)

	for _, mb := range mailboxes {
		report.Mailboxes = append(report.Mailboxes, o.fetchMailbox(ctx, mb))
	}
	return report
}

// fetchMailbox runs one mailbox through a session. Every failure ends up in
// the health tracker; nothing propagates to the next mailbox.
func (o *Orchestrator) fetchMailbox(ctx context.Context, mb model.Mailbox) (rep MailboxReport) {
	rep = MailboxReport{MailboxID: mb.ID, Address: mb.Address}
	log := logrus.WithFields(logrus.Fields{
		"mailbox_id": mb.ID,
		"mailbox":    logging.MaskEmail(mb.Address),
	})

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			log.Errorf("Mailbox fetch panicked: %v", r)
			o.health.MarkFailed(ctx, mb.ID, o.now(), err)
			rep.Status = model.HealthFailed
			rep.Error = err.Error()
		}
		if o.metrics != nil && rep.Status != "" {
			o.metrics.MailboxFetches.WithLabelValues(rep.Status).Inc()
		}
	}()

	if ok, reason := o.health.Eligible(mb.ID, o.now()); !ok {
		log.WithField("skip", reason).Debug("Mailbox not eligible yet, skipping")
		rep.Skipped = reason
		if o.metrics != nil {
			o.metrics.MailboxesSkipped.WithLabelValues(reason).Inc()
		}
		return rep
	}

	fail := func(err error) MailboxReport {
		log.Errorf("Mailbox fetch failed: %v", err)
		o.health.MarkFailed(ctx, mb.ID, o.now(), err)
		rep.Status = model.HealthFailed
		rep.Error = err.Error()
		return rep
	}

	session, err := o.opener.Open(ctx, mb)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warnf("Failed to close mailbox session: %v", err)
		}
	}()

	uids, err := session.ListUIDs(ctx, o.folder(mb), o.searchMode(mb))
	if err != nil {
		return fail(err)
	}
	log.Infof("Found %d candidate messages", len(uids))

	var failures []error
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("%w: %w", mailbox.ErrTransport, err))
		}

		outcome, err := o.processUID(ctx, session, mb, uid)
		rep.tally(outcome)
		if err == nil {
			continue
		}
		if errors.Is(err, mailbox.ErrTransport) {
			return fail(err)
		}
		log.WithField("uid", uid).Errorf("Failed to process message: %v", err)
		failures = append(failures, err)
	}

	if len(failures) > 0 {
		err := fmt.Errorf("%d of %d messages failed: %w", len(failures), len(uids), failures[0])
		o.health.MarkDegraded(ctx, mb.ID, o.now(), err)
		rep.Status = model.HealthDegraded
		rep.Error = err.Error()
		return rep
	}

	o.health.MarkSuccess(ctx, mb.ID, o.now())
	rep.Status = model.HealthHealthy
	return rep
}

func (o *Orchestrator) folder(mb model.Mailbox) string {
	if mb.Folder != "" {
		return mb.Folder
	}
	if o.settings.Folder != "" {
		return o.settings.Folder
	}
	return "INBOX"
}

func (o *Orchestrator) archiveFolder(mb model.Mailbox) string {
	if mb.ArchiveFolder != "" {
		return mb.ArchiveFolder
	}
	return o.settings.ArchiveFolder
}

func (o *Orchestrator) searchMode(mb model.Mailbox) string {
	if mb.SearchMode != "" {
		return mb.SearchMode
	}
	if o.settings.SearchMode != "" {
		return o.settings.SearchMode
	}
	return model.SearchAll
}

func (r *MailboxReport) tally(outcome string) {
	switch outcome {
	case model.OutcomeCreated:
		r.Created++
	case model.OutcomeAppended:
		r.Appended++
	case model.OutcomeDiscarded:
		r.Discarded++
	case model.OutcomeUndecodable:
		r.Undecodable++
	case model.OutcomeFailed:
		r.Failed++
	case outcomeSeen:
		r.AlreadySeen++
	case outcomeConflict:
		r.Conflicts++
	}
}
