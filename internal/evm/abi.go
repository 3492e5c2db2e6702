// Package evm encodes the handful of contract calls the engine emits.
package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Function selectors (first 4 bytes of keccak256 of the signature).
var (
	// ERC20
	SelectorBalanceOf = mustDecodeHex("70a08231") // balanceOf(address)
	SelectorApprove   = mustDecodeHex("095ea7b3") // approve(address,uint256)
	SelectorAllowance = mustDecodeHex("dd62ed3e") // allowance(address,address)
	SelectorTransfer  = mustDecodeHex("a9059cbb") // transfer(address,uint256)

	// WETH9
	SelectorWrapDeposit = mustDecodeHex("d0e30db0") // deposit()

	// ERC4626
	SelectorVaultDeposit    = mustDecodeHex("6e553f65") // deposit(uint256,address)
	SelectorVaultRedeem     = mustDecodeHex("ba087652") // redeem(uint256,address,address)
	SelectorConvertToAssets = mustDecodeHex("07a2d13a") // convertToAssets(uint256)

	// Aave V3 Pool
	SelectorAaveSupply   = mustDecodeHex("617ba037") // supply(address,uint256,address,uint16)
	SelectorAaveWithdraw = mustDecodeHex("69328dec") // withdraw(address,uint256,address)

	// Across SpokePool
	SelectorDepositV3 = mustDecodeHex("7b939232") // depositV3(address,address,address,address,uint256,uint256,uint256,address,uint32,uint32,uint32,bytes)

	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

const (
	NullAddress   = "0x0000000000000000000000000000000000000000"
	NativeAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
)

// IsNative reports whether addr is the pseudo-address aggregators use for
// the chain's gas token.
func IsNative(addr string) bool {
	return strings.EqualFold(addr, NativeAddress)
}

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("invalid hex: %s", s))
	}
	return b
}

// encodeAddress pads a 20-byte address to 32 bytes (left-padded with zeros).
func encodeAddress(addr string) []byte {
	b, _ := hex.DecodeString(strings.TrimPrefix(strings.ToLower(addr), "0x"))
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// encodeUint256 encodes a non-negative big.Int as a 32-byte word.
func encodeUint256(n *big.Int) []byte {
	padded := make([]byte, 32)
	if n == nil {
		return padded
	}
	b := n.Bytes()
	copy(padded[32-len(b):], b)
	return padded
}

func encodeUint64(n uint64) []byte {
	return encodeUint256(new(big.Int).SetUint64(n))
}

// pack concatenates a selector with 32-byte words.
func pack(selector []byte, words ...[]byte) []byte {
	data := make([]byte, 0, 4+32*len(words))
	data = append(data, selector...)
	for _, w := range words {
		data = append(data, w...)
	}
	return data
}

// DecodeUint256 decodes the first 32-byte word of an eth_call result.
func DecodeUint256(data []byte) *big.Int {
	if len(data) > 32 {
		data = data[:32]
	}
	return new(big.Int).SetBytes(data)
}

// HexEncode returns 0x-prefixed hex encoding of data.
func HexEncode(data []byte) string {
	return "0x" + hex.EncodeToString(data)
}

// HexDecode parses a 0x-prefixed hex string.
func HexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// EncodeBalanceOf builds calldata for ERC20.balanceOf(account).
func EncodeBalanceOf(account string) []byte {
	return pack(SelectorBalanceOf, encodeAddress(account))
}

// EncodeAllowance builds calldata for ERC20.allowance(owner, spender).
func EncodeAllowance(owner, spender string) []byte {
	return pack(SelectorAllowance, encodeAddress(owner), encodeAddress(spender))
}

// EncodeApprove builds calldata for ERC20.approve(spender, amount).
func EncodeApprove(spender string, amount *big.Int) []byte {
	return pack(SelectorApprove, encodeAddress(spender), encodeUint256(amount))
}

// EncodeTransfer builds calldata for ERC20.transfer(to, amount).
func EncodeTransfer(to string, amount *big.Int) []byte {
	return pack(SelectorTransfer, encodeAddress(to), encodeUint256(amount))
}

// EncodeVaultDeposit builds calldata for ERC4626.deposit(assets, receiver).
func EncodeVaultDeposit(assets *big.Int, receiver string) []byte {
	return pack(SelectorVaultDeposit, encodeUint256(assets), encodeAddress(receiver))
}

// EncodeVaultRedeem builds calldata for ERC4626.redeem(shares, receiver, owner).
func EncodeVaultRedeem(shares *big.Int, receiver, owner string) []byte {
	return pack(SelectorVaultRedeem, encodeUint256(shares), encodeAddress(receiver), encodeAddress(owner))
}

// EncodeConvertToAssets builds calldata for ERC4626.convertToAssets(shares).
func EncodeConvertToAssets(shares *big.Int) []byte {
	return pack(SelectorConvertToAssets, encodeUint256(shares))
}

// EncodeAaveSupply builds calldata for Pool.supply(asset, amount, onBehalfOf, 0).
func EncodeAaveSupply(asset string, amount *big.Int, onBehalfOf string) []byte {
	return pack(SelectorAaveSupply, encodeAddress(asset), encodeUint256(amount), encodeAddress(onBehalfOf), encodeUint64(0))
}

// EncodeAaveWithdraw builds calldata for Pool.withdraw(asset, amount, to).
func EncodeAaveWithdraw(asset string, amount *big.Int, to string) []byte {
	return pack(SelectorAaveWithdraw, encodeAddress(asset), encodeUint256(amount), encodeAddress(to))
}

// DepositV3Args are the arguments of SpokePool.depositV3.
type DepositV3Args struct {
	Depositor           string
	Recipient           string
	InputToken          string
	OutputToken         string
	InputAmount         *big.Int
	OutputAmount        *big.Int
	DestinationChainID  int
	ExclusiveRelayer    string
	QuoteTimestamp      uint32
	FillDeadline        uint32
	ExclusivityDeadline uint32
}

// EncodeDepositV3 builds calldata for SpokePool.depositV3 with an empty message.
func EncodeDepositV3(a DepositV3Args) []byte {
	relayer := a.ExclusiveRelayer
	if relayer == "" {
		relayer = NullAddress
	}
	const headWords = 12
	return pack(SelectorDepositV3,
		encodeAddress(a.Depositor),
		encodeAddress(a.Recipient),
		encodeAddress(a.InputToken),
		encodeAddress(a.OutputToken),
		encodeUint256(a.InputAmount),
		encodeUint256(a.OutputAmount),
		encodeUint64(uint64(a.DestinationChainID)),
		encodeAddress(relayer),
		encodeUint64(uint64(a.QuoteTimestamp)),
		encodeUint64(uint64(a.FillDeadline)),
		encodeUint64(uint64(a.ExclusivityDeadline)),
		encodeUint64(headWords*32), // offset of message
		encodeUint64(0),            // message length
	)
}
