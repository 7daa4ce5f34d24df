// Package txbuilder builds the unsigned transactions sent by the dispatcher.
package txbuilder

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransferGasLimit is the intrinsic gas of a plain value transfer.
const TransferGasLimit = 21000

// RecipientFunc picks the destination of the next transfer.
type RecipientFunc func() common.Address

// TransferBuilder builds legacy value transfers with fixed value and gas
// parameters. Chain id binding is left to the signer.
type TransferBuilder struct {
	value     *big.Int
	gasLimit  uint64
	gasPrice  *big.Int
	recipient RecipientFunc
}

// NewTransferBuilder creates a builder. A nil recipient func selects
// RandomRecipient.
func NewTransferBuilder(value *big.Int, gasLimit uint64, gasPrice *big.Int, recipient RecipientFunc) (*TransferBuilder, error) {
	if value == nil || value.Sign() < 0 {
		return nil, fmt.Errorf("transfer value must be non-negative")
	}
	if gasPrice == nil || gasPrice.Sign() < 0 {
		return nil, fmt.Errorf("gas price must be non-negative")
	}
	if gasLimit < TransferGasLimit {
		return nil, fmt.Errorf("gas limit %d below intrinsic transfer gas %d", gasLimit, TransferGasLimit)
	}
	if recipient == nil {
		recipient = RandomRecipient
	}
	return &TransferBuilder{
		value:     new(big.Int).Set(value),
		gasLimit:  gasLimit,
		gasPrice:  new(big.Int).Set(gasPrice),
		recipient: recipient,
	}, nil
}

// GasLimit returns the gas limit put on every transaction.
func (b *TransferBuilder) GasLimit() uint64 {
	return b.gasLimit
}

// Build creates an unsigned transfer with the given nonce.
func (b *TransferBuilder) Build(nonce uint64) *types.Transaction {
	return Transfer(nonce, b.recipient(), b.value, b.gasLimit, b.gasPrice)
}

// Transfer creates an unsigned legacy transfer transaction.
func Transfer(nonce uint64, to common.Address, value *big.Int, gasLimit uint64, gasPrice *big.Int) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
	})
}

// RandomRecipient returns 20 random bytes as an address.
func RandomRecipient() common.Address {
	var addr common.Address
	if _, err := rand.Read(addr[:]); err != nil {
		// crypto/rand.Read does not fail on supported platforms
		panic(fmt.Sprintf("read random recipient: %v", err))
	}
	return addr
}
