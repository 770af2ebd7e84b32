package messages

// Kind discriminates message-bus payloads.
type Kind string

const (
	KindDeposit Kind = "deposit"
	KindPause   Kind = "pause"
	KindUnvet   Kind = "unvet"
	KindPing    Kind = "ping"
)

// DepositPayload is published when the guardian attests a module is safe
// to deposit into.
type DepositPayload struct {
	Kind            Kind   `json:"kind"`
	ModuleID        uint32 `json:"stakingModuleId"`
	BlockNumber     uint64 `json:"blockNumber"`
	BlockHash       string `json:"blockHash"`
	DepositRoot     string `json:"depositRoot"`
	KeysOpIndex     uint64 `json:"keysOpIndex"`
	Guardian        string `json:"guardianAddress"`
	Signature       string `json:"signature"`
}

// PausePayload is published on a hard-pause broadcast. ModuleID is nil for
// a v3 global pause.
type PausePayload struct {
	Kind        Kind    `json:"kind"`
	ModuleID    *uint32 `json:"stakingModuleId,omitempty"`
	BlockNumber uint64  `json:"blockNumber"`
	Guardian    string  `json:"guardianAddress"`
	Signature   string  `json:"signature"`
}

// UnvetPayload is published when the guardian reduces an operator's
// vetted key count.
type UnvetPayload struct {
	Kind                 Kind   `json:"kind"`
	ModuleID             uint32 `json:"stakingModuleId"`
	BlockNumber          uint64 `json:"blockNumber"`
	BlockHash            string `json:"blockHash"`
	Nonce                uint64 `json:"nonce"`
	OperatorIDs          string `json:"operatorIds"`
	VettedKeysByOperator string `json:"vettedKeysByOperator"`
	Guardian             string `json:"guardianAddress"`
	Signature            string `json:"signature"`
}

// PingPayload is published once per tick so off-chain observers can see
// the guardian is alive even when no decision changed.
type PingPayload struct {
	Kind        Kind     `json:"kind"`
	ModuleIDs   []uint32 `json:"stakingModuleIds"`
	BlockNumber uint64   `json:"blockNumber"`
	BlockHash   string   `json:"blockHash"`
}
