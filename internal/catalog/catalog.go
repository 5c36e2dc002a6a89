// Package catalog looks up the listings and sellers a moderation task refers to.
package catalog

import "context"

type Listing struct {
	ID          int64  `json:"id"`
	SellerID    int64  `json:"seller_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    int    `json:"category"`
	ImagesQty   int    `json:"images_qty"`
}

type Seller struct {
	ID               int64 `json:"id"`
	IsVerifiedSeller bool  `json:"is_verified_seller"`
}

// Repository returns fault.ErrNotFound for absent records; any other error is
// an infrastructure failure.
type Repository interface {
	GetListing(ctx context.Context, id int64) (*Listing, error)
	GetSeller(ctx context.Context, id int64) (*Seller, error)
}
