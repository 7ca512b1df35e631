package correlator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"helpdesk-ingest-go/internal/logging"
	"helpdesk-ingest-go/internal/model"
	"helpdesk-ingest-go/internal/repository"
)

// ErrPersist wraps any store failure while applying a correlation effect.
// Nothing is committed when it is returned.
var ErrPersist = errors.New("correlation persist failed")

// NoSubjectTitle is the title given to cases opened by messages without a subject
const NoSubjectTitle = "No subject"

const maxTitleRunes = 512

// Discard reasons
const (
	ReasonSelf      = "self"
	ReasonNoSender  = "no_sender"
	ReasonDuplicate = "duplicate"
)

// Input is everything the correlator needs to know about one inbound message
type Input struct {
	MailboxID      uint
	MailboxAddress string
	Sender         string
	Subject        string
	Body           string
	InReplyTo      *string
	MessageID      string
}

// Result describes the effect applied for one message
type Result struct {
	Outcome  string
	Reason   string
	CaseID   *uint
	Case     *model.Case
	Exchange *model.Exchange
}

// CommitFunc runs inside the correlation transaction after the effect has
// been applied. Returning an error rolls the effect back.
type CommitFunc func(tx *gorm.DB, res Result) error

// Correlator decides whether a message opens a new case or continues one
type Correlator struct {
	repo *repository.Repository
	now  func() time.Time
}

// New creates a correlator backed by repo
func New(repo *repository.Repository) *Correlator {
	return &Correlator{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Correlate applies the effect of one message in its own transaction
func (c *Correlator) Correlate(ctx context.Context, in Input) (Result, error) {
	return c.CorrelateAndCommit(ctx, in, nil)
}

// CorrelateAndCommit applies the effect of one message and then runs commit
// in the same transaction, so the effect and the ledger entry are durable
// together or not at all.
func (c *Correlator) CorrelateAndCommit(ctx context.Context, in Input, commit CommitFunc) (Result, error) {
	var res Result
	err := c.repo.Transaction(ctx, func(tx *repository.Repository) error {
		applied, err := c.apply(ctx, tx, in)
		if err != nil {
			return err
		}
		if commit != nil {
			if err := commit(tx.DB(), applied); err != nil {
				return err
			}
		}
		res = applied
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return res, nil
}

func (c *Correlator) apply(ctx context.Context, tx *repository.Repository, in Input) (Result, error) {
	sender := NormalizeAddress(in.Sender)
	if sender == "" || len(sender) > model.MaxAddressBytes || !utf8.ValidString(sender) {
		return Result{Outcome: model.OutcomeDiscarded, Reason: ReasonNoSender}, nil
	}
	if sender == NormalizeAddress(in.MailboxAddress) {
		logrus.WithField("sender", logging.MaskEmail(sender)).Debug("Discarding message sent by the mailbox itself")
		return Result{Outcome: model.OutcomeDiscarded, Reason: ReasonSelf}, nil
	}

	now := c.now()
	body := model.ValidText(in.Body)

	if in.InReplyTo != nil {
		if token := NormalizeToken(*in.InReplyTo); token != "" {
			existing, err := tx.FindOpenCaseByOrigin(ctx, sender, token)
			if err != nil {
				return Result{}, err
			}
			if existing != nil {
				exchange := &model.Exchange{
					CaseID:       existing.ID,
					Body:         body,
					IsEmailReply: true,
					IsPublic:     true,
					ReplyEmail:   sender,
					CreatedAt:    now,
				}
				if err := tx.CreateExchange(ctx, exchange); err != nil {
					return Result{}, err
				}
				return Result{
					Outcome:  model.OutcomeAppended,
					CaseID:   &existing.ID,
					Case:     existing,
					Exchange: exchange,
				}, nil
			}
		}
	}

	var origin *string
	if token := NormalizeToken(in.MessageID); token != "" {
		dup, err := tx.FindCaseByOrigin(ctx, token)
		if err != nil {
			return Result{}, err
		}
		if dup != nil {
			return Result{Outcome: model.OutcomeDiscarded, Reason: ReasonDuplicate, CaseID: &dup.ID, Case: dup}, nil
		}
		origin = &token
	}

	seq, err := tx.NextSequence(ctx, model.CaseCounterName)
	if err != nil {
		return Result{}, err
	}

	created := &model.Case{
		Number:         model.FormatCaseNumber(seq),
		RequesterEmail: sender,
		Title:          title(in.Subject),
		Detail:         body,
		Priority:       DetectPriority(in.Subject, in.Body),
		OriginToken:    origin,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.MailboxID != 0 {
		mailboxID := in.MailboxID
		created.MailboxID = &mailboxID
	}
	if err := tx.CreateCase(ctx, created); err != nil {
		return Result{}, err
	}

	exchange := &model.Exchange{
		CaseID:       created.ID,
		Body:         body,
		IsEmailReply: true,
		IsPublic:     true,
		ReplyEmail:   sender,
		CreatedAt:    now,
	}
	if err := tx.CreateExchange(ctx, exchange); err != nil {
		return Result{}, err
	}

	return Result{
		Outcome:  model.OutcomeCreated,
		CaseID:   &created.ID,
		Case:     created,
		Exchange: exchange,
	}, nil
}

// NormalizeAddress lower-cases and trims an email address
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// NormalizeToken strips whitespace and angle brackets from a message
// identifier and clips it to the token column width.
func NormalizeToken(token string) string {
	return model.ClipToken(strings.Trim(strings.TrimSpace(token), "<>"))
}

func title(subject string) string {
	subject = strings.TrimSpace(model.ValidText(subject))
	if subject == "" {
		return NoSubjectTitle
	}
	if utf8.RuneCountInString(subject) > maxTitleRunes {
		subject = string([]rune(subject)[:maxTitleRunes])
	}
	return subject
}
