package offers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bidline/internal/domain"
	"bidline/internal/ledger"
	"bidline/internal/repo"
)

// Book stores bids per project. Offers are immutable once placed and are
// never ranked; the owner picks one by offerer.
type Book struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (b Book) now() string {
	if b.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return b.Now().UTC().Format(time.RFC3339)
}

// Place records an offer on an open project.
func (b Book) Place(ctx context.Context, tx *sql.Tx, p domain.Project, offerer, offerURL string, price uint64) (domain.Offer, error) {
	switch {
	case strings.TrimSpace(offerer) == "":
		return domain.Offer{}, fmt.Errorf("%w: offerer required", domain.ErrInvalidInput)
	case strings.TrimSpace(offerURL) == "":
		return domain.Offer{}, fmt.Errorf("%w: offer url required", domain.ErrInvalidInput)
	case price == 0:
		return domain.Offer{}, fmt.Errorf("%w: offer price must be positive", domain.ErrInvalidInput)
	case price > ledger.MaxAmount:
		return domain.Offer{}, fmt.Errorf("%w: offer price %d", ledger.ErrAmountOverflow, price)
	}
	switch p.State() {
	case domain.StateOpen:
	case domain.StateCompleted:
		return domain.Offer{}, domain.InvalidStateError{State: p.State(), Reason: domain.ReasonCompleted}
	default:
		return domain.Offer{}, domain.InvalidStateError{State: p.State(), Reason: domain.ReasonOffersClosed}
	}
	if _, err := b.Repo.GetOfferTx(ctx, tx, p.ID, offerer); err == nil {
		return domain.Offer{}, domain.ErrDuplicateOffer
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Offer{}, err
	}
	o := domain.Offer{
		ProjectID: p.ID,
		Offerer:   offerer,
		OfferURL:  offerURL,
		Price:     price,
		CreatedAt: b.now(),
	}
	if err := b.Repo.InsertOffer(ctx, tx, o); err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}

// Select returns the offer offerer placed on projectID.
func (b Book) Select(ctx context.Context, tx *sql.Tx, projectID, offerer string) (domain.Offer, error) {
	o, err := b.Repo.GetOfferTx(ctx, tx, projectID, offerer)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	return o, err
}

func (b Book) List(ctx context.Context, projectID string) ([]domain.Offer, error) {
	return b.Repo.ListOffers(ctx, projectID)
}
