// Package carving provides the read side of carvings: single reads, the
// public listing, lookup by email, and administrative deletes.
package carving

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/carvexyz/carve/business/data/mirror"
	"github.com/carvexyz/carve/business/sys/notify"
	"github.com/carvexyz/carve/business/sys/params"
	"github.com/carvexyz/carve/foundation/carveid"
	"github.com/carvexyz/carve/foundation/ledger"
	"go.uber.org/zap"
)

// Set of error variables for carving queries.
var (
	ErrNotFound = errors.New("carving not found")
	ErrDeleted  = errors.New("carving deleted")
)

// Carving is the content of a live carving.
type Carving struct {
	ID         ledger.ID
	To         string
	From       string
	Message    string
	Properties ledger.Properties
	TxRef      string
}

// Ledger is the view of the ledger the read side needs.
type Ledger interface {
	Read(ctx context.Context, id ledger.ID) (ledger.Entry, error)
	ListPublic(ctx context.Context) ([]ledger.ID, error)
	Delete(ctx context.Context, id ledger.ID) (string, error)
}

// Mirror is the view of the mirror the read side needs.
type Mirror interface {
	QueryByID(ctx context.Context, id ledger.ID) (mirror.CarvingEntry, error)
}

// Config represents the systems the core depends on.
type Config struct {
	Log      *zap.SugaredLogger
	Ledger   Ledger
	Mirror   Mirror
	Params   *params.Provider
	Sink     notify.Sink
	LinkBase string
}

// Core manages the set of APIs for carving access.
type Core struct {
	log      *zap.SugaredLogger
	ledger   Ledger
	mirror   Mirror
	params   *params.Provider
	sink     notify.Sink
	linkBase string
}

// NewCore constructs a core for carving api access.
func NewCore(cfg Config) *Core {
	linkBase := cfg.LinkBase
	if linkBase == "" {
		linkBase = "https://carve.xyz/inscription"
	}

	return &Core{
		log:      cfg.Log,
		ledger:   cfg.Ledger,
		mirror:   cfg.Mirror,
		params:   cfg.Params,
		sink:     cfg.Sink,
		linkBase: linkBase,
	}
}

// QueryByID returns the carving from the mirror, or from the ledger when
// the mirror has not seen the id yet.
func (c *Core) QueryByID(ctx context.Context, id ledger.ID) (Carving, error) {
	row, err := c.mirror.QueryByID(ctx, id)
	switch {
	case err == nil:
		if row.Message == nil {
			return Carving{}, ErrDeleted
		}
		return fromRow(id, row), nil

	case !errors.Is(err, mirror.ErrNotFound):
		return Carving{}, fmt.Errorf("query: %w", err)
	}

	entry, err := c.ledger.Read(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return Carving{}, ErrNotFound
		}
		return Carving{}, fmt.Errorf("read: %w", err)
	}

	return fromEntry(entry), nil
}

// Peruse returns the carvings marked public. Ids that are missing or
// deleted are skipped. A ledger failure yields an empty list.
func (c *Core) Peruse(ctx context.Context) []Carving {
	ids, err := c.ledger.ListPublic(ctx)
	if err != nil {
		c.log.Errorw("peruse", "status", "listing public carvings", "ERROR", err)
		return []Carving{}
	}

	carvings := make([]Carving, 0, len(ids))
	for _, id := range ids {
		crv, err := c.QueryByID(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDeleted) {
				c.log.Errorw("peruse", "status", "reading public carving", "carving", id.Hex(), "ERROR", err)
			}
			continue
		}
		carvings = append(carvings, crv)
	}

	return carvings
}

// Lookup returns the live carving ids derived from the email. Candidates
// are tried from index 0 and the search stops once the configured number
// of candidates have turned out missing or deleted.
func (c *Core) Lookup(ctx context.Context, email string) ([]ledger.ID, error) {
	snap := c.params.Current()
	userID := carveid.UserID(email, snap.UserIDSalt)

	var found []ledger.ID
	misses := 0

	for index := uint32(0); misses < snap.MaxIndexFailures; index++ {
		id := carveid.CandidateID(userID, index, snap.CarvingIDSalt)

		_, err := c.QueryByID(ctx, id)
		switch {
		case err == nil:
			found = append(found, id)
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrDeleted):
			misses++
		default:
			return nil, fmt.Errorf("probing index %d: %w", index, err)
		}
	}

	return found, nil
}

// SendLookup emails the links to the email's carvings to that email.
func (c *Core) SendLookup(ctx context.Context, email string) error {
	ids, err := c.Lookup(ctx, email)
	if err != nil {
		return err
	}

	links := make([]string, len(ids))
	for i, id := range ids {
		links[i] = c.Link(id)
	}

	vars := map[string]any{
		"Links": links,
	}

	snap := c.params.Current()
	if err := c.sink.SendTemplateEmail(ctx, email, "Your carvings", snap.TemplateLookup, vars); err != nil {
		if errors.Is(err, notify.ErrNoMailer) {
			c.log.Infow("lookup", "status", "lookup email not sent, no mailer", "found", len(ids))
			return nil
		}
		return fmt.Errorf("sending lookup: %w", err)
	}

	return nil
}

// Scratch deletes the carving from the ledger. The mirror picks the delete
// up on the next sync.
func (c *Core) Scratch(ctx context.Context, id ledger.ID) (string, error) {
	txRef, err := c.ledger.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("scratch: %w", err)
	}

	return txRef, nil
}

// Link returns the public link for the carving.
func (c *Core) Link(id ledger.ID) string {
	q := make(url.Values)
	q.Set("id", id.Hex())
	return c.linkBase + "?" + q.Encode()
}

// =============================================================================

func fromRow(id ledger.ID, row mirror.CarvingEntry) Carving {
	props, _ := ledger.ParseProperties(row.Properties)

	return Carving{
		ID:         id,
		To:         deref(row.To),
		From:       deref(row.From),
		Message:    deref(row.Message),
		Properties: props,
		TxRef:      row.CarvingTxn,
	}
}

func fromEntry(entry ledger.Entry) Carving {
	return Carving{
		ID:         entry.ID,
		To:         entry.To,
		From:       entry.From,
		Message:    entry.Message,
		Properties: entry.Properties,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
