package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/aristath/rebalancer/internal/domain"
)

// Call wraps raw calldata into a descriptor.
func Call(chainID int, to string, data []byte) domain.CallDescriptor {
	return domain.CallDescriptor{To: to, Data: HexEncode(data), ChainID: chainID}
}

// Approve builds an ERC20 approval. A zero amount or the null spender is
// rejected since either would produce a call that silently does nothing.
func Approve(chainID int, token, spender string, amount *big.Int) (domain.CallDescriptor, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.CallDescriptor{}, fmt.Errorf("failed to approve %s: %w", token, domain.ErrApprovalAmountZero)
	}
	if spender == "" || strings.EqualFold(spender, NullAddress) {
		return domain.CallDescriptor{}, fmt.Errorf("failed to approve %s: %w", token, domain.ErrNullSpender)
	}
	return Call(chainID, token, EncodeApprove(spender, amount)), nil
}

// Transfer sends amount of token to recipient. The native asset becomes a
// plain value transfer.
func Transfer(chainID int, token domain.Token, recipient string, amount *big.Int) domain.CallDescriptor {
	if IsNative(token.Address) {
		return domain.CallDescriptor{To: recipient, Data: "0x", Value: amount.String(), ChainID: chainID}
	}
	return Call(chainID, token.Address, EncodeTransfer(recipient, amount))
}

// WrapNative deposits amount of the gas token into its wrapped contract.
func WrapNative(chainID int, wrapped string, amount *big.Int) domain.CallDescriptor {
	call := Call(chainID, wrapped, SelectorWrapDeposit)
	call.Value = amount.String()
	return call
}
