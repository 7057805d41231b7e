package solana

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	// MintLayoutSize is the fixed byte size of an SPL token mint account.
	MintLayoutSize = 82
	// TokenAccountLayoutSize is the fixed byte size of an SPL token account.
	TokenAccountLayoutSize = 165
)

// Mint is a decoded SPL token mint plus its address, in the string
// representation we persist.
type Mint struct {
	Address               string `json:"mint"`
	MintAuthorityOption   uint32 `json:"mintAuthorityOption"`
	MintAuthority         string `json:"mintAuthority"`
	Supply                string `json:"supply"`
	Decimals              uint8  `json:"decimals"`
	IsInitialized         bool   `json:"isInitialized"`
	FreezeAuthorityOption uint32 `json:"freezeAuthorityOption"`
	FreezeAuthority       string `json:"freezeAuthority"`
}

type mintLayout struct {
	MintAuthorityOption   uint32
	MintAuthority         solanago.PublicKey
	Supply                uint64
	Decimals              uint8
	IsInitialized         uint8
	FreezeAuthorityOption uint32
	FreezeAuthority       solanago.PublicKey
}

// DecodeMint decodes the fixed SPL mint layout. The authority fields are
// only meaningful when their option flags are set; cleared options render
// as empty strings.
func DecodeMint(address string, data []byte) (*Mint, error) {
	if len(data) < MintLayoutSize {
		return nil, fmt.Errorf("mint account %s: %d bytes, want %d", address, len(data), MintLayoutSize)
	}

	var layout mintLayout
	if err := bin.NewBinDecoder(data).Decode(&layout); err != nil {
		return nil, fmt.Errorf("decode mint layout %s: %w", address, err)
	}

	mint := &Mint{
		Address:               address,
		MintAuthorityOption:   layout.MintAuthorityOption,
		Supply:                fmt.Sprintf("%d", layout.Supply),
		Decimals:              layout.Decimals,
		IsInitialized:         layout.IsInitialized != 0,
		FreezeAuthorityOption: layout.FreezeAuthorityOption,
	}
	if layout.MintAuthorityOption != 0 {
		mint.MintAuthority = layout.MintAuthority.String()
	}
	if layout.FreezeAuthorityOption != 0 {
		mint.FreezeAuthority = layout.FreezeAuthority.String()
	}
	return mint, nil
}

// TokenBalanceEntry is the subset of a decoded SPL token account the
// wealth path consumes.
type TokenBalanceEntry struct {
	Mint   string
	Owner  string
	Amount uint64
}

type tokenAccountLayout struct {
	Mint                 solanago.PublicKey
	Owner                solanago.PublicKey
	Amount               uint64
	DelegateOption       uint32
	Delegate             solanago.PublicKey
	State                uint8
	IsNativeOption       uint32
	IsNative             uint64
	DelegatedAmount      uint64
	CloseAuthorityOption uint32
	CloseAuthority       solanago.PublicKey
}

// DecodeTokenAccount decodes the fixed SPL token account layout.
func DecodeTokenAccount(data []byte) (*TokenBalanceEntry, error) {
	if len(data) < TokenAccountLayoutSize {
		return nil, fmt.Errorf("token account: %d bytes, want %d", len(data), TokenAccountLayoutSize)
	}

	var layout tokenAccountLayout
	if err := bin.NewBinDecoder(data).Decode(&layout); err != nil {
		return nil, fmt.Errorf("decode token account layout: %w", err)
	}

	return &TokenBalanceEntry{
		Mint:   layout.Mint.String(),
		Owner:  layout.Owner.String(),
		Amount: layout.Amount,
	}, nil
}
