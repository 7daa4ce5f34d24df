// Package signer turns built transactions into raw signed bytes ready for
// eth_sendRawTransaction.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs a transaction and returns its canonical binary encoding.
type Signer interface {
	Sign(tx *types.Transaction) ([]byte, error)
	Address() common.Address
}

// SigningError wraps any failure to produce signed bytes.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// KeySigner signs with a local private key for a fixed chain id.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner creates a signer from a hex-encoded private key. The 0x
// prefix is optional.
func NewKeySigner(hexKey string, chainID *big.Int) (*KeySigner, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, &SigningError{Err: fmt.Errorf("invalid chain id %v", chainID)}
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, &SigningError{Err: fmt.Errorf("parse private key: %w", err)}
	}
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
	}, nil
}

// Address returns the sender address derived from the key.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// Sign signs tx with EIP-155 replay protection and returns the encoded bytes.
func (s *KeySigner) Sign(tx *types.Transaction) ([]byte, error) {
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, &SigningError{Err: err}
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, &SigningError{Err: fmt.Errorf("encode: %w", err)}
	}
	return raw, nil
}

// RawSigner replays a fixed pre-signed transaction. The transaction passed
// to Sign is ignored.
type RawSigner struct {
	raw     []byte
	address common.Address
}

var _ Signer = (*RawSigner)(nil)

// NewRawSigner decodes a hex-encoded signed transaction. The sender address
// is recovered from the signature when the encoding allows it; otherwise it
// is left as the zero address.
func NewRawSigner(rawHex string) (*RawSigner, error) {
	s := strings.TrimSpace(rawHex)
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return nil, &SigningError{Err: fmt.Errorf("decode signed transaction: %w", err)}
	}
	if len(raw) == 0 {
		return nil, &SigningError{Err: fmt.Errorf("empty signed transaction")}
	}

	rs := &RawSigner{raw: raw}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err == nil {
		if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), &tx); err == nil {
			rs.address = from
		}
	}
	return rs, nil
}

// Address returns the recovered sender, or the zero address.
func (s *RawSigner) Address() common.Address {
	return s.address
}

// Sign returns a copy of the pre-signed bytes.
func (s *RawSigner) Sign(*types.Transaction) ([]byte, error) {
	return append([]byte(nil), s.raw...), nil
}
