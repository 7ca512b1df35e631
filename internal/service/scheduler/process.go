package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"helpdesk-ingest-go/internal/model"
	"helpdesk-ingest-go/internal/service/correlator"
	"helpdesk-ingest-go/internal/service/ledger"
	"helpdesk-ingest-go/internal/service/mailbox"
)

// Outcomes that are reported but never stored
const (
	// outcomeSeen marks a UID the ledger already holds for the same message
	outcomeSeen = "seen"
	// outcomeConflict marks a UID the ledger holds for a different message,
	// as after a UIDVALIDITY reset. The message is left in place.
	outcomeConflict = "uid_conflict"
	// outcomeExpunged marks a UID that vanished between listing and fetching
	outcomeExpunged = "expunged"
)

// processUID ingests one listed message. The ledger is consulted before the
// body is downloaded. The correlation effect and the ledger entry commit
// together; the remote side is only touched afterwards.
func (o *Orchestrator) processUID(ctx context.Context, session mailbox.Session, mb model.Mailbox, uid uint32) (string, error) {
	log := logrus.WithFields(logrus.Fields{"mailbox_id": mb.ID, "uid": uid})

	entry, err := o.ledger.Lookup(ctx, mb.ID, uid)
	if err != nil {
		return model.OutcomeFailed, err
	}
	if entry != nil {
		return o.revisit(ctx, session, mb, uid, entry)
	}

	cand, err := session.Fetch(ctx, uid)
	if errors.Is(err, mailbox.ErrExpunged) {
		log.Debug("Message expunged before it could be fetched")
		return outcomeExpunged, nil
	}
	if err != nil {
		return model.OutcomeFailed, err
	}
	if cand.Err != nil {
		return o.rejectUndecodable(ctx, session, mb, cand)
	}

	msg := cand.Message
	res, err := o.correlator.CorrelateAndCommit(ctx, o.input(msg, mb), func(tx *gorm.DB, res correlator.Result) error {
		return o.ledger.Commit(ctx, tx, ledger.Record{
			MailboxID: mb.ID,
			RemoteUID: uid,
			MessageID: msg.MessageID,
			Outcome:   res.Outcome,
			CaseID:    res.CaseID,
		})
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyCommitted) {
			log.Debug("Message committed concurrently, skipping")
			return outcomeSeen, nil
		}
		o.logIngest(ctx, mb, uid, msg.MessageID, model.OutcomeFailed, nil, err)
		o.countOutcome(model.OutcomeFailed)
		return model.OutcomeFailed, err
	}

	o.logIngest(ctx, mb, uid, msg.MessageID, res.Outcome, res.CaseID, nil)
	o.countOutcome(res.Outcome)
	o.publish(res)

	logEntry := log.WithField("outcome", res.Outcome)
	if res.Case != nil {
		logEntry = logEntry.WithField("case", res.Case.Number)
	}
	if res.Reason != "" {
		logEntry = logEntry.WithField("reason", res.Reason)
	}
	logEntry.Info("Processed inbound message")

	return res.Outcome, o.finishRemote(ctx, session, mb, uid)
}

// revisit handles a UID the ledger already holds. The remote side is only
// retried when the message under the UID still carries the recorded
// Message-ID.
func (o *Orchestrator) revisit(ctx context.Context, session mailbox.Session, mb model.Mailbox, uid uint32, entry *model.ProcessedMessage) (string, error) {
	log := logrus.WithFields(logrus.Fields{"mailbox_id": mb.ID, "uid": uid})
	if o.metrics != nil {
		o.metrics.MessagesSkipped.Inc()
	}

	if entry.Outcome == model.OutcomeUndecodable {
		// undecodable messages stay in place
		return outcomeSeen, nil
	}

	current, err := session.MessageID(ctx, uid)
	switch {
	case errors.Is(err, mailbox.ErrExpunged):
		return outcomeSeen, nil
	case errors.Is(err, mailbox.ErrTransport):
		return outcomeSeen, err
	case err != nil:
		log.Debugf("Failed to read Message-ID of processed message: %v", err)
		current = ""
	}

	if current != entry.MessageID {
		log.WithFields(logrus.Fields{
			"recorded_message_id": entry.MessageID,
			"current_message_id":  current,
		}).Warn("UID already recorded for a different message, leaving it in place")
		o.countOutcome(outcomeConflict)
		return outcomeConflict, nil
	}

	log.Debug("Message already processed, finishing remote cleanup")
	return outcomeSeen, o.finishRemote(ctx, session, mb, uid)
}

// rejectUndecodable commits an undecodable message so it is not retried on
// every cycle, and flags it seen without moving it.
func (o *Orchestrator) rejectUndecodable(ctx context.Context, session mailbox.Session, mb model.Mailbox, cand mailbox.Candidate) (string, error) {
	logrus.WithFields(logrus.Fields{"mailbox_id": mb.ID, "uid": cand.UID}).Warnf("Undecodable message: %v", cand.Err)

	err := o.ledger.Commit(ctx, nil, ledger.Record{
		MailboxID: mb.ID,
		RemoteUID: cand.UID,
		Outcome:   model.OutcomeUndecodable,
	})
	if err != nil && !errors.Is(err, ledger.ErrAlreadyCommitted) {
		return model.OutcomeFailed, err
	}

	o.logIngest(ctx, mb, cand.UID, "", model.OutcomeUndecodable, nil, cand.Err)
	o.countOutcome(model.OutcomeUndecodable)

	if err := session.Acknowledge(ctx, cand.UID); err != nil {
		return model.OutcomeUndecodable, err
	}
	return model.OutcomeUndecodable, nil
}

func (o *Orchestrator) finishRemote(ctx context.Context, session mailbox.Session, mb model.Mailbox, uid uint32) error {
	if err := session.Acknowledge(ctx, uid); err != nil {
		return fmt.Errorf("acknowledge uid %d: %w", uid, err)
	}
	target := o.archiveFolder(mb)
	if target == "" {
		return nil
	}
	if err := session.Archive(ctx, uid, target); err != nil {
		return fmt.Errorf("archive uid %d: %w", uid, err)
	}
	return nil
}

func (o *Orchestrator) input(msg mailbox.InboundMessage, mb model.Mailbox) correlator.Input {
	return correlator.Input{
		MailboxID:      mb.ID,
		MailboxAddress: mb.Address,
		Sender:         msg.Sender,
		Subject:        msg.Subject,
		Body:           o.extractor.Extract(msg.Text, msg.HTML),
		InReplyTo:      msg.InReplyTo,
		MessageID:      msg.MessageID,
	}
}

// publish announces committed effects. Discards change nothing and are not
// published.
func (o *Orchestrator) publish(res correlator.Result) {
	switch res.Outcome {
	case model.OutcomeCreated:
		o.notifier.CaseCreated(res.Case)
	case model.OutcomeAppended:
		o.notifier.ExchangeAdded(res.Case, res.Exchange)
	}
}

func (o *Orchestrator) logIngest(ctx context.Context, mb model.Mailbox, uid uint32, messageID, status string, caseID *uint, cause error) {
	entry := &model.IngestLog{
		MailboxID: mb.ID,
		RemoteUID: uid,
		MessageID: messageID,
		Status:    status,
		CaseID:    caseID,
	}
	if cause != nil {
		entry.ErrorMsg = cause.Error()
	}
	if err := o.repo.LogIngest(ctx, entry); err != nil {
		logrus.Errorf("Failed to log ingest attempt: %v", err)
	}
}

func (o *Orchestrator) countOutcome(outcome string) {
	if o.metrics != nil {
		o.metrics.MessagesProcessed.WithLabelValues(outcome).Inc()
	}
}
