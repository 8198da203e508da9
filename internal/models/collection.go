package models

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Collection is an ERC-721 style collection created through the factory.
type Collection struct {
	Address    string    `json:"address"`
	Name       string    `json:"name"`
	Symbol     string    `json:"symbol"`
	BaseURI    string    `json:"baseUri"`
	Artist     string    `json:"artist"`
	RoyaltyBps int64     `json:"royaltyBps"`
	MintFee    int64     `json:"mintFee"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Token is a minted asset and its current owner.
type Token struct {
	Collection string `json:"collection"`
	TokenID    uint64 `json:"tokenId"`
	Owner      string `json:"owner"`
	Approved   string `json:"approved,omitempty"`
	TokenURI   string `json:"tokenUri"`
}

// NormalizeAddress returns the EIP-55 checksummed form of a hex address.
func NormalizeAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", false
	}
	return common.HexToAddress(s).Hex(), true
}

// IsZeroAddress reports whether s is empty or the zero address.
func IsZeroAddress(s string) bool {
	if s == "" {
		return true
	}
	return common.HexToAddress(s) == (common.Address{})
}
