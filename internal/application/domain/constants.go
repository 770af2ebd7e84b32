package domain

import "time"

// DepositContractTreeDepth is the depth of the incremental Merkle tree
// maintained by the beacon deposit contract (and mirrored by C1).
const DepositContractTreeDepth = 32

// DepositEventsStep bounds the number of blocks requested per eth_getLogs
// call when walking the deposit event history (C3).
const DepositEventsStep uint64 = 10000

// GuardianDepositResigningBlocks controls how often a deposit message is
// re-signed and re-published when nothing about the module has changed.
const GuardianDepositResigningBlocks uint64 = 10

// MinKeysAPIVersion is the minimum semver the Keys-API must report on
// GET /v1/status for the daemon to start.
const MinKeysAPIVersion = "v1.0.0"

// DefaultGuardianTickInterval is the default cron period for the decision
// pipeline when GUARDIAN_DEPOSIT_JOB_DURATION is not overridden.
const DefaultGuardianTickInterval = 12 * time.Second

// DefaultWalletBalanceUpdateBlockRate is how many new-block events pass
// between wallet balance gauge refreshes.
const DefaultWalletBalanceUpdateBlockRate uint64 = 100

// DepositAmountGwei is the amount (in gwei) every Lido deposit message
// commits to: 32 ETH.
const DepositAmountGwei uint64 = 32_000_000_000

// BLSWithdrawalPrefixByte marks a withdrawal credential as a hashed BLS
// pubkey rather than an execution-layer address (0x01 prefix family).
const BLSWithdrawalPrefixByte byte = 0x00

// DefaultCriticalWalletBalanceWei is the guardian wallet balance, in wei,
// below which the daemon treats itself as unable to reliably pay for
// on-chain pause/unvet submissions and flags blockData.walletBalanceCritical.
// Overridable via config.
const DefaultCriticalWalletBalanceWei uint64 = 10_000_000_000_000_000 // 0.01 ETH
