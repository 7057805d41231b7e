package decode

import (
	"crypto/sha256"

	solanago "github.com/gagliardetto/solana-go"
)

// Anchor-style discriminators: the first 8 bytes of sha256 over a
// namespaced name select the schema a binary blob conforms to.
// Instructions hash "global:<name>", accounts hash "account:<Name>".
func sighash(namespace, name string) [8]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// instructionSchema is one variant of the instruction union. newArgs is
// nil for instructions that carry no arguments beyond the discriminator.
type instructionSchema struct {
	name    string
	newArgs func() any
}

// accountSchema is one variant of the program-account union.
type accountSchema struct {
	name     string
	newState func() any
}

// Instruction argument variants. Fields decode with borsh layout in
// declaration order.

type TradeArgs struct {
	AmountIn     uint64
	MinAmountOut uint64
	Buy          bool
}

type ConvertArgs struct {
	Amount uint64
}

type ChainConversionArgs struct {
	Amount      uint64
	TargetChain uint16
}

type TransferToNativeArgs struct {
	Amount uint64
}

type InitializePoolArgs struct {
	Name   string
	Symbol string
	Uri    string
}

type InitializeUserArgs struct {
	Referrer solanago.PublicKey
}

type InitializeReferralArgs struct {
	FeeShareBps uint16
}

type UpdateReferralTermsArgs struct {
	FeeShareBps uint16
}

type UpdateUserTermsArgs struct {
	FeeShareBps uint16
}

type UpdateGlobalStateArgs struct {
	TradeFeeBps    uint16
	ReferralFeeBps uint16
}

type InitOrUpdateAdminArgs struct {
	Admin   solanago.PublicKey
	Enabled bool
}

type TransferSuperAdminArgs struct {
	NewAdmin solanago.PublicKey
}

type ProposeRaidOrStakeArgs struct {
	Amount uint64
	Stake  bool
}

type WithdrawProposalStakeArgs struct {
	Amount uint64
}

type SettleRaidArgs struct {
	Success bool
}

// Program account state variants.

type ConversionState struct {
	User      solanago.PublicKey
	Mint      solanago.PublicKey
	Amount    uint64
	StartedAt int64
}

type EmptyState struct{}

type GlobalState struct {
	SuperAdmin     solanago.PublicKey
	FeeRecipient   solanago.PublicKey
	TradeFeeBps    uint16
	ReferralFeeBps uint16
	PoolCount      uint64
}

type IndexState struct {
	Counter uint64
}

type PermissionState struct {
	Admin   solanago.PublicKey
	Enabled bool
}

type PoolState struct {
	Creator              solanago.PublicKey
	Mint                 solanago.PublicKey
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	RealSolReserves      uint64
	RealTokenReserves    uint64
	Graduated            bool
}

type RaidProposalState struct {
	Proposer   solanago.PublicKey
	TargetPool solanago.PublicKey
	Amount     uint64
	Deadline   int64
	Settled    bool
}

type RaidProposalStakeState struct {
	Staker   solanago.PublicKey
	Proposal solanago.PublicKey
	Amount   uint64
}

type ReferralState struct {
	Owner        solanago.PublicKey
	FeeShareBps  uint16
	TotalClaimed uint64
}

type UserState struct {
	Authority   solanago.PublicKey
	Referral    solanago.PublicKey
	TotalVolume uint64
}

// instructionSchemas is the closed set of instructions the program
// exposes. Unknown discriminators are skipped, never guessed at.
var instructionSchemas = []instructionSchema{
	{name: "chainConversion", newArgs: func() any { return &ChainConversionArgs{} }},
	{name: "claimProposalStakeOrReward"},
	{name: "claimReferral"},
	{name: "closeConversion"},
	{name: "closePool"},
	{name: "closeRaidProposal"},
	{name: "closeSuperAdminAndGlobalState"},
	{name: "convert", newArgs: func() any { return &ConvertArgs{} }},
	{name: "graduate"},
	{name: "initializePool", newArgs: func() any { return &InitializePoolArgs{} }},
	{name: "initializeReferral", newArgs: func() any { return &InitializeReferralArgs{} }},
	{name: "initializeSuperAdminAndGlobalState"},
	{name: "initializeUser", newArgs: func() any { return &InitializeUserArgs{} }},
	{name: "initOrUpdateAdmin", newArgs: func() any { return &InitOrUpdateAdminArgs{} }},
	{name: "meteoraClaimFee"},
	{name: "meteoraClaimFeesAccts"},
	{name: "meteoraCreateEscrow"},
	{name: "meteoraLock"},
	{name: "meteoraLockLiquidity"},
	{name: "proposeRaidOrStake", newArgs: func() any { return &ProposeRaidOrStakeArgs{} }},
	{name: "raydiumInitialize"},
	{name: "reallocGlobal"},
	{name: "reallocPool"},
	{name: "settleRaid", newArgs: func() any { return &SettleRaidArgs{} }},
	{name: "sweepFees"},
	{name: "trade", newArgs: func() any { return &TradeArgs{} }},
	{name: "transferSuperAdmin", newArgs: func() any { return &TransferSuperAdminArgs{} }},
	{name: "transferToNative", newArgs: func() any { return &TransferToNativeArgs{} }},
	{name: "updateGlobalState", newArgs: func() any { return &UpdateGlobalStateArgs{} }},
	{name: "updateReferralTerms", newArgs: func() any { return &UpdateReferralTermsArgs{} }},
	{name: "updateUserTerms", newArgs: func() any { return &UpdateUserTermsArgs{} }},
	{name: "withdrawProposalStake", newArgs: func() any { return &WithdrawProposalStakeArgs{} }},
}

// accountSchemas is the closed set of program-owned account kinds.
var accountSchemas = []accountSchema{
	{name: "Conversion", newState: func() any { return &ConversionState{} }},
	{name: "Empty", newState: func() any { return &EmptyState{} }},
	{name: "Global", newState: func() any { return &GlobalState{} }},
	{name: "Index", newState: func() any { return &IndexState{} }},
	{name: "Permission", newState: func() any { return &PermissionState{} }},
	{name: "Pool", newState: func() any { return &PoolState{} }},
	{name: "RaidProposal", newState: func() any { return &RaidProposalState{} }},
	{name: "RaidProposalStake", newState: func() any { return &RaidProposalStakeState{} }},
	{name: "Referral", newState: func() any { return &ReferralState{} }},
	{name: "User", newState: func() any { return &UserState{} }},
}

var (
	instructionsByDiscriminator = map[[8]byte]instructionSchema{}
	accountsByDiscriminator     = map[[8]byte]accountSchema{}
)

func init() {
	for _, s := range instructionSchemas {
		instructionsByDiscriminator[sighash("global", s.name)] = s
	}
	for _, s := range accountSchemas {
		accountsByDiscriminator[sighash("account", s.name)] = s
	}
}
