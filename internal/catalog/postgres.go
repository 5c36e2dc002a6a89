package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podushkina/moderation/internal/fault"
)

// Postgres reads the adds and users tables owned by the listing backend.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) GetListing(ctx context.Context, id int64) (*Listing, error) {
	var l Listing
	err := p.pool.QueryRow(ctx, `
		SELECT id, seller_id, name, description, category, images_qty
		FROM adds WHERE id = $1`, id).
		Scan(&l.ID, &l.SellerID, &l.Name, &l.Description, &l.Category, &l.ImagesQty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("listing %d", id)
		}
		return nil, fmt.Errorf("get listing %d: %w", id, err)
	}
	return &l, nil
}

func (p *Postgres) GetSeller(ctx context.Context, id int64) (*Seller, error) {
	var s Seller
	err := p.pool.QueryRow(ctx, `SELECT id, is_verified_seller FROM users WHERE id = $1`, id).
		Scan(&s.ID, &s.IsVerifiedSeller)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("seller %d", id)
		}
		return nil, fmt.Errorf("get seller %d: %w", id, err)
	}
	return &s, nil
}
