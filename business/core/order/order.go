// Package order turns confirmed payments into carvings. Each payment is
// processed at most once: it is claimed, checked against both external ids,
// written to the ledger, and recorded, in that order.
package order

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/carvexyz/carve/business/core/allocator"
	"github.com/carvexyz/carve/business/data/mirror"
	"github.com/carvexyz/carve/business/sys/claim"
	"github.com/carvexyz/carve/business/sys/notify"
	"github.com/carvexyz/carve/business/sys/params"
	"github.com/carvexyz/carve/foundation/ledger"
	"go.uber.org/zap"
)

// Status is the outcome of handling a payment.
type Status int

// Set of outcomes.
const (
	Created Status = iota + 1
	Incomplete
	WriteFailed
	AlreadyProcessed
	InProgress
)

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Incomplete:
		return "incomplete"
	case WriteFailed:
		return "write_failed"
	case AlreadyProcessed:
		return "already_processed"
	case InProgress:
		return "in_progress"
	}
	return "unknown"
}

// Result describes what handling a payment did.
type Result struct {
	Status    Status
	OrderID   uint
	CarvingID string
	TxRef     string
	Link      string
	Reason    string
}

// Allocator hands out carving ids.
type Allocator interface {
	Allocate(ctx context.Context, email string) (allocator.Allocation, error)
}

// Writer writes entries to the ledger.
type Writer interface {
	Write(ctx context.Context, entry ledger.Entry) (string, error)
}

// Store records orders.
type Store interface {
	QueryOrderByExternalIDs(ctx context.Context, objectID string, paymentID string) (mirror.Order, error)
	CreateOrder(ctx context.Context, order *mirror.Order) error
	MarkEmailSent(ctx context.Context, orderID uint) error
	QueryOrders(ctx context.Context) ([]mirror.Order, error)
}

// Config represents the systems the pipeline depends on.
type Config struct {
	Log          *zap.SugaredLogger
	Allocator    Allocator
	Ledger       Writer
	Store        Store
	Claimer      claim.Claimer
	Sink         notify.Sink
	Params       *params.Provider
	LinkBase     string
	ClaimTTL     time.Duration
	WriteTimeout time.Duration

	// HoldTTL is how long both keys of a payment stay claimed when its
	// carving landed but the order could not be recorded.
	HoldTTL        time.Duration
	PersistRetries int
	PersistBackoff time.Duration
	EvHandler      func(v string, args ...any)
}

// Pipeline processes confirmed payments.
type Pipeline struct {
	log          *zap.SugaredLogger
	allocator    Allocator
	ledger       Writer
	store        Store
	claimer      claim.Claimer
	sink         notify.Sink
	params       *params.Provider
	linkBase     string
	claimTTL     time.Duration
	writeTimeout time.Duration
	holdTTL      time.Duration
	retries      int
	backoff      time.Duration
	evHandler    func(v string, args ...any)
}

// NewPipeline constructs a pipeline for use.
func NewPipeline(cfg Config) *Pipeline {
	p := Pipeline{
		log:          cfg.Log,
		allocator:    cfg.Allocator,
		ledger:       cfg.Ledger,
		store:        cfg.Store,
		claimer:      cfg.Claimer,
		sink:         cfg.Sink,
		params:       cfg.Params,
		linkBase:     cfg.LinkBase,
		claimTTL:     cfg.ClaimTTL,
		writeTimeout: cfg.WriteTimeout,
		holdTTL:      cfg.HoldTTL,
		retries:      cfg.PersistRetries,
		backoff:      cfg.PersistBackoff,
		evHandler:    cfg.EvHandler,
	}

	if p.linkBase == "" {
		p.linkBase = "https://carve.xyz/inscription"
	}
	if p.claimTTL <= 0 {
		p.claimTTL = 5 * time.Minute
	}
	if p.writeTimeout <= 0 {
		p.writeTimeout = 2 * time.Minute
	}
	if p.holdTTL <= 0 {
		p.holdTTL = 30 * 24 * time.Hour
	}
	if p.retries <= 0 {
		p.retries = 3
	}
	if p.backoff <= 0 {
		p.backoff = 500 * time.Millisecond
	}
	if p.claimer == nil {
		p.claimer = claim.NewLocal()
	}
	if p.evHandler == nil {
		p.evHandler = func(v string, args ...any) {}
	}

	return &p
}

// HandleConfirmedPayment processes a verified payment event. The recoverable
// outcomes are reported in the Result. An error means no order was recorded
// and the processor should deliver the event again. If the carving landed
// before the order failed to record, the payment's keys stay held and
// redeliveries report InProgress until an operator records the order.
func (p *Pipeline) HandleConfirmedPayment(ctx context.Context, ev PaymentEvent) (Result, error) {
	if ev.ObjectID == "" || ev.PaymentID == "" {
		return Result{}, fmt.Errorf("%w: missing event or payment id", ErrInvalidEvent)
	}

	keys := []string{"object:" + ev.ObjectID, "payment:" + ev.PaymentID}

	release, err := p.claimer.Claim(ctx, p.claimTTL, keys...)
	if err != nil {
		if errors.Is(err, claim.ErrClaimed) {
			p.log.Infow("order", "status", "delivery in progress elsewhere", "object", ev.ObjectID, "payment", ev.PaymentID)
			return Result{Status: InProgress}, nil
		}
		return Result{}, fmt.Errorf("claiming payment: %w", err)
	}
	defer release()

	existing, err := p.store.QueryOrderByExternalIDs(ctx, ev.ObjectID, ev.PaymentID)
	switch {
	case err == nil:
		p.log.Infow("order", "status", "already processed", "object", ev.ObjectID, "payment", ev.PaymentID, "order", existing.ID)
		return Result{Status: AlreadyProcessed, OrderID: existing.ID}, nil
	case !errors.Is(err, mirror.ErrNotFound):
		return Result{}, fmt.Errorf("checking for existing order: %w", err)
	}

	// From here on the work must finish even if the processor hangs up.
	// A write the caller stopped waiting for can still land on the ledger.
	ctx = context.WithoutCancel(ctx)

	snap := p.params.Current()
	props, err := ledger.ParseProperties(ev.Properties)
	if err != nil {
		p.log.Infow("order", "status", "ignoring unreadable properties", "object", ev.ObjectID, "ERROR", err)
	}

	order := mirror.Order{
		ExternalObjectID:  ev.ObjectID,
		ExternalPaymentID: ev.PaymentID,
		To:                truncate(ev.To, snap.FromToLimit),
		From:              truncate(ev.From, snap.FromToLimit),
		Message:           truncate(ev.Message, snap.CarvingLengthLimit),
		Properties:        props.Hex(),
		ProvidedEmail:     ev.ProvidedEmail,
		ReceiptEmail:      ev.ReceiptEmail,
		CreatedAt:         ev.Created,
		ReceivedAt:        time.Now().UTC(),
	}

	var result Result

	switch {
	case ev.ProvidedEmail == "" || ev.Message == "":
		order.Status = mirror.StatusIncomplete
		order.FailureReason = missing(ev)
		result = Result{Status: Incomplete, Reason: order.FailureReason}

	default:
		alloc, err := p.allocator.Allocate(ctx, ev.ProvidedEmail)
		if err != nil {
			return Result{}, fmt.Errorf("allocating carving id: %w", err)
		}

		result = p.write(ctx, &order, alloc.ID, props)
	}

	if err := p.persist(ctx, &order); err != nil {
		if errors.Is(err, mirror.ErrDuplicate) {
			p.log.Errorw("order", "status", "duplicate on insert", "object", ev.ObjectID, "payment", ev.PaymentID, "carving", result.CarvingID, "txn", result.TxRef)
			return Result{Status: AlreadyProcessed}, nil
		}

		// A landed carving cannot be undone. Keep both keys claimed so a
		// redelivery cannot carve a second time, and leave enough in the
		// log for an operator to record the order by hand.
		if order.BlockchainExecuted {
			if herr := p.claimer.Hold(ctx, p.holdTTL, keys...); herr != nil {
				p.log.Errorw("order", "status", "holding keys of stranded carving", "object", ev.ObjectID, "payment", ev.PaymentID, "ERROR", herr)
			}
		}

		p.log.Errorw("order", "status", "order not recorded", "object", ev.ObjectID, "payment", ev.PaymentID, "carving", result.CarvingID, "txn", result.TxRef, "executed", order.BlockchainExecuted, "ERROR", err)
		return Result{}, fmt.Errorf("recording order: %w", err)
	}
	result.OrderID = order.ID

	p.evHandler("order: %s: order[%d] status[%s]", ev.PaymentID, order.ID, result.Status)

	p.notify(ctx, snap, order, result)

	return result, nil
}

// ExportSheet sends every order to the sheet export.
func (p *Pipeline) ExportSheet(ctx context.Context) error {
	orders, err := p.store.QueryOrders(ctx)
	if err != nil {
		return fmt.Errorf("loading orders: %w", err)
	}

	rows := make([]notify.Row, len(orders))
	for i, o := range orders {
		email := o.ProvidedEmail
		if email == "" {
			email = o.ReceiptEmail
		}
		rows[i] = notify.Row{Email: email, Message: o.Message}
	}

	return p.sink.ExportOrdersToSheet(ctx, rows)
}

// =============================================================================

// write performs the ledger write and fills in the order. A failed or
// timed out write is never assumed to have landed.
func (p *Pipeline) write(ctx context.Context, order *mirror.Order, id ledger.ID, props ledger.Properties) Result {
	entry := ledger.Entry{
		ID:         id,
		To:         order.To,
		From:       order.From,
		Message:    order.Message,
		Properties: props,
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	txRef, err := p.ledger.Write(ctx, entry)
	if err != nil {
		p.log.Errorw("order", "status", "ledger write failed", "object", order.ExternalObjectID, "payment", order.ExternalPaymentID, "carving", id.Hex(), "ERROR", err)

		order.Status = mirror.StatusWriteFailed
		order.FailureReason = fmt.Sprintf("writing %s: %s", id.Hex(), err)

		return Result{Status: WriteFailed, CarvingID: id.Hex(), Reason: order.FailureReason}
	}

	carvingID := id.Hex()
	link := p.link(id)

	order.Status = mirror.StatusCreated
	order.LedgerEntryID = &carvingID
	order.LedgerTransactionRef = &txRef
	order.LedgerLink = &link
	order.BlockchainExecuted = true

	return Result{Status: Created, CarvingID: carvingID, TxRef: txRef, Link: link}
}

// persist records the order, retrying failures other than a duplicate.
func (p *Pipeline) persist(ctx context.Context, order *mirror.Order) error {
	var err error
	for attempt := 1; attempt <= p.retries; attempt++ {
		if err = p.store.CreateOrder(ctx, order); err == nil || errors.Is(err, mirror.ErrDuplicate) {
			return err
		}

		p.log.Errorw("order", "status", "recording order failed", "object", order.ExternalObjectID, "attempt", attempt, "ERROR", err)

		if attempt < p.retries {
			time.Sleep(p.backoff * time.Duration(attempt))
		}
	}

	return err
}

// notify sends the buyer and operator emails and refreshes the sheet. None
// of it affects the recorded order.
func (p *Pipeline) notify(ctx context.Context, snap params.Snapshot, order mirror.Order, result Result) {
	recipient := order.ProvidedEmail
	if recipient == "" {
		recipient = order.ReceiptEmail
	}

	switch result.Status {
	case Created:
		vars := map[string]any{
			"To":      order.To,
			"From":    order.From,
			"Message": order.Message,
			"Link":    result.Link,
		}

		if err := p.sink.SendTemplateEmail(ctx, recipient, "Your message has been carved", snap.TemplateCreated, vars); err != nil {
			if errors.Is(err, notify.ErrNoMailer) {
				p.log.Infow("order", "status", "buyer email not sent, no mailer", "order", order.ID)
				break
			}
			p.log.Errorw("order", "status", "buyer email failed", "order", order.ID, "ERROR", err)
			break
		}

		if err := p.store.MarkEmailSent(ctx, order.ID); err != nil {
			p.log.Errorw("order", "status", "marking email sent", "order", order.ID, "ERROR", err)
		}

	case WriteFailed, Incomplete:
		if snap.OperatorEmail == "" {
			break
		}

		vars := map[string]any{
			"OrderID":   order.ID,
			"PaymentID": order.ExternalPaymentID,
			"ObjectID":  order.ExternalObjectID,
			"Reason":    result.Reason,
		}

		if err := p.sink.SendTemplateEmail(ctx, snap.OperatorEmail, "Order needs attention", snap.TemplateAlert, vars); err != nil && !errors.Is(err, notify.ErrNoMailer) {
			p.log.Errorw("order", "status", "operator alert failed", "order", order.ID, "ERROR", err)
		}
	}

	if err := p.ExportSheet(ctx); err != nil {
		p.log.Errorw("order", "status", "sheet export failed", "ERROR", err)
	}
}

func (p *Pipeline) link(id ledger.ID) string {
	q := make(url.Values)
	q.Set("id", id.Hex())
	return p.linkBase + "?" + q.Encode()
}

func missing(ev PaymentEvent) string {
	switch {
	case ev.ProvidedEmail == "" && ev.Message == "":
		return "missing provided email and message"
	case ev.ProvidedEmail == "":
		return "missing provided email"
	}
	return "missing message"
}

// truncate bounds s to limit runes. A limit of zero leaves s alone.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	r := []rune(s)
	return string(r[:limit])
}
