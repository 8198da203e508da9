package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/galleryhq/marketplace/internal/fees"
	"github.com/galleryhq/marketplace/internal/models"
	"github.com/galleryhq/marketplace/internal/payment"
)

type collection struct {
	info      models.Collection
	owners    map[uint64]string
	approved  map[uint64]string
	tokenURIs map[uint64]string
	nextID    uint64
}

// Memory is an in-process collection factory and the collections it
// deployed.
type Memory struct {
	mu          sync.RWMutex
	factory     common.Address
	nonce       uint64
	collections map[string]*collection
	byArtist    map[string][]string
	payments    payment.Gateway
	now         func() time.Time
}

// NewMemory creates a factory at the given address. Mint fees are charged and
// paid out through payments; a nil gateway only accepts free mints.
func NewMemory(factory string, payments payment.Gateway) *Memory {
	return &Memory{
		factory:     common.HexToAddress(factory),
		collections: make(map[string]*collection),
		byArtist:    make(map[string][]string),
		payments:    payments,
		now:         time.Now,
	}
}

// CreateCollection deploys a new collection owned by artist. The address is
// derived from the factory address and its deployment nonce.
func (m *Memory) CreateCollection(ctx context.Context, artist, name, symbol, baseURI string, royaltyBps, mintFee int64) (*models.Collection, error) {
	if royaltyBps < 0 || royaltyBps > fees.BpsDenominator {
		return nil, ErrInvalidRoyalty
	}
	if mintFee < 0 {
		return nil, ErrInvalidMintFee
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	addr := crypto.CreateAddress(m.factory, m.nonce).Hex()
	m.nonce++

	c := &collection{
		info: models.Collection{
			Address:    addr,
			Name:       name,
			Symbol:     symbol,
			BaseURI:    baseURI,
			Artist:     artist,
			RoyaltyBps: royaltyBps,
			MintFee:    mintFee,
			CreatedAt:  m.now().UTC(),
		},
		owners:    make(map[uint64]string),
		approved:  make(map[uint64]string),
		tokenURIs: make(map[uint64]string),
		nextID:    1,
	}
	m.collections[addr] = c
	m.byArtist[artist] = append(m.byArtist[artist], addr)

	info := c.info
	return &info, nil
}

// Mint creates the next token for minter. feePaid must match the collection
// mint fee exactly; the fee goes to the artist.
func (m *Memory) Mint(ctx context.Context, minter, collectionAddr, tokenURI string, feePaid int64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collectionAddr]
	if !ok {
		return 0, ErrUnknownCollection
	}
	if feePaid != c.info.MintFee {
		return 0, ErrIncorrectMintFee
	}

	tokenID := c.nextID
	if feePaid > 0 {
		if m.payments == nil {
			return 0, fmt.Errorf("mint fee: no payment gateway configured")
		}
		ref := fmt.Sprintf("mint:%s:%d", collectionAddr, tokenID)
		if err := m.payments.Charge(ctx, minter, feePaid, ref); err != nil {
			return 0, fmt.Errorf("mint fee: %w", err)
		}
		if err := m.payments.Payout(ctx, c.info.Artist, feePaid, ref); err != nil {
			if rerr := m.payments.Payout(ctx, minter, feePaid, ref+":refund"); rerr != nil {
				return 0, fmt.Errorf("mint fee: %w (refund failed: %v)", err, rerr)
			}
			return 0, fmt.Errorf("mint fee: %w", err)
		}
	}

	c.nextID++
	c.owners[tokenID] = minter
	c.tokenURIs[tokenID] = tokenURI
	return tokenID, nil
}

func (m *Memory) Collection(_ context.Context, collectionAddr string) (*models.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collectionAddr]
	if !ok {
		return nil, ErrUnknownCollection
	}
	info := c.info
	return &info, nil
}

func (m *Memory) CollectionsByArtist(_ context.Context, artist string) []models.Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Collection, 0, len(m.byArtist[artist]))
	for _, addr := range m.byArtist[artist] {
		out = append(out, m.collections[addr].info)
	}
	return out
}

func (m *Memory) Token(_ context.Context, collectionAddr string, tokenID uint64) (*models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, owner, err := m.lookup(collectionAddr, tokenID)
	if err != nil {
		return nil, err
	}
	return &models.Token{
		Collection: collectionAddr,
		TokenID:    tokenID,
		Owner:      owner,
		Approved:   c.approved[tokenID],
		TokenURI:   c.tokenURIs[tokenID],
	}, nil
}

func (m *Memory) OwnerOf(_ context.Context, collectionAddr string, tokenID uint64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, owner, err := m.lookup(collectionAddr, tokenID)
	return owner, err
}

func (m *Memory) GetApproved(_ context.Context, collectionAddr string, tokenID uint64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, _, err := m.lookup(collectionAddr, tokenID)
	if err != nil {
		return "", err
	}
	return c.approved[tokenID], nil
}

func (m *Memory) Approve(_ context.Context, caller, collectionAddr, spender string, tokenID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, owner, err := m.lookup(collectionAddr, tokenID)
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrNotAuthorized
	}
	if spender == "" {
		delete(c.approved, tokenID)
		return nil
	}
	c.approved[tokenID] = spender
	return nil
}

func (m *Memory) TransferFrom(_ context.Context, operator, collectionAddr, from, to string, tokenID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, owner, err := m.lookup(collectionAddr, tokenID)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("transfer from incorrect owner: %w", ErrNotAuthorized)
	}
	if operator != owner && c.approved[tokenID] != operator {
		return ErrNotAuthorized
	}
	if models.IsZeroAddress(to) {
		return fmt.Errorf("transfer to the zero address: %w", ErrNotAuthorized)
	}
	delete(c.approved, tokenID)
	c.owners[tokenID] = to
	return nil
}

func (m *Memory) RoyaltyInfo(_ context.Context, collectionAddr string, tokenID uint64, salePrice int64) (string, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, _, err := m.lookup(collectionAddr, tokenID)
	if err != nil {
		return "", 0, err
	}
	amount, err := fees.BpsOf(salePrice, c.info.RoyaltyBps)
	if err != nil {
		return "", 0, err
	}
	return c.info.Artist, amount, nil
}

func (m *Memory) lookup(collectionAddr string, tokenID uint64) (*collection, string, error) {
	c, ok := m.collections[collectionAddr]
	if !ok {
		return nil, "", ErrUnknownCollection
	}
	owner, ok := c.owners[tokenID]
	if !ok {
		return nil, "", ErrNonexistentToken
	}
	return c, owner, nil
}
