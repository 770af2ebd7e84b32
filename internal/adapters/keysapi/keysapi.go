// Package keysapi implements ports.KeysAPIClient against the Lido Keys-API
// HTTP service: construct with a base URL, build a request, decode a JSON
// envelope, wrap transport errors as transient.
package keysapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lidofinance/guardian-daemon/internal/application/blsvalidator"
	"github.com/lidofinance/guardian-daemon/internal/application/domain"
	"github.com/lidofinance/guardian-daemon/internal/application/ports"
)

// Client implements ports.KeysAPIClient over GET/POST JSON endpoints.
type Client struct {
	BaseURL string
	http    *http.Client
}

// New builds a Client; baseURL must not have a trailing slash.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

type metaEnvelope struct {
	Meta struct {
		ElBlockSnapshot struct {
			BlockNumber          uint64      `json:"blockNumber"`
			BlockHash            common.Hash `json:"blockHash"`
			LastChangedBlockHash common.Hash `json:"lastChangedBlockHash"`
			Timestamp            int64       `json:"timestamp"`
		} `json:"elBlockSnapshot"`
	} `json:"meta"`
}

func (m metaEnvelope) toDomain() domain.KeysAPIMeta {
	return domain.KeysAPIMeta{
		BlockNumber:          m.Meta.ElBlockSnapshot.BlockNumber,
		BlockHash:            m.Meta.ElBlockSnapshot.BlockHash,
		LastChangedBlockHash: m.Meta.ElBlockSnapshot.LastChangedBlockHash,
		Timestamp:            m.Meta.ElBlockSnapshot.Timestamp,
	}
}

type keyDTO struct {
	Key              string `json:"key"`
	DepositSignature string `json:"depositSignature"`
	OperatorIndex    uint32 `json:"operatorIndex"`
	Used             bool   `json:"used"`
	Index            uint32 `json:"index"`
	ModuleAddress    string `json:"moduleAddress"`
	StakingModuleId  uint32 `json:"stakingModuleId"`
}

func (k keyDTO) toDomain() (domain.RegistryKey, error) {
	var key domain.RegistryKey
	pk, err := hexTo(k.Key, 48)
	if err != nil {
		return key, fmt.Errorf("decoding key: %w: %v", blsvalidator.ErrInvalidPubkeyLength, err)
	}
	sig, err := hexTo(k.DepositSignature, 96)
	if err != nil {
		return key, fmt.Errorf("decoding depositSignature: %w", err)
	}
	copy(key.Key[:], pk)
	copy(key.DepositSignature[:], sig)
	key.OperatorIndex = k.OperatorIndex
	key.Used = k.Used
	key.Index = k.Index
	key.ModuleAddress = common.HexToAddress(k.ModuleAddress)
	key.ModuleID = k.StakingModuleId
	return key, nil
}

type keysResponse struct {
	metaEnvelope
	Data []keyDTO `json:"data"`
}

type moduleDTO struct {
	Id      uint32 `json:"id"`
	Address string `json:"stakingModuleAddress"`
	Nonce   uint64 `json:"nonce"`
	Type    string `json:"type"`
}

type operatorDTO struct {
	Index                    uint32 `json:"index"`
	StakingLimit             uint64 `json:"stakingLimit"`
	TotalDepositedValidators uint64 `json:"totalDepositedValidators"`
	TotalAddedValidators     uint64 `json:"totalAddedValidators"`
	RewardAddress            string `json:"rewardAddress"`
}

type operatorsResponse struct {
	metaEnvelope
	Data []struct {
		StakingModule moduleDTO     `json:"stakingModule"`
		Operators     []operatorDTO `json:"operators"`
	} `json:"data"`
}

type statusResponse struct {
	ChainId    uint64 `json:"chainId"`
	AppVersion struct {
		Version string `json:"version"`
	} `json:"appVersion"`
	ElBlockSnapshot struct {
		BlockNumber          uint64      `json:"blockNumber"`
		BlockHash            common.Hash `json:"blockHash"`
		LastChangedBlockHash common.Hash `json:"lastChangedBlockHash"`
		Timestamp            int64       `json:"timestamp"`
	} `json:"elBlockSnapshot"`
	ClBlockSnapshot struct {
		BlockNumber          uint64      `json:"blockNumber"`
		BlockHash            common.Hash `json:"blockHash"`
		LastChangedBlockHash common.Hash `json:"lastChangedBlockHash"`
		Timestamp            int64       `json:"timestamp"`
	} `json:"clBlockSnapshot"`
}

// GetKeys calls GET /v1/keys.
func (c *Client) GetKeys(ctx context.Context) ([]domain.RegistryKey, domain.KeysAPIMeta, error) {
	var resp keysResponse
	if err := c.getJSON(ctx, "/v1/keys", &resp); err != nil {
		return nil, domain.KeysAPIMeta{}, err
	}
	keys, err := decodeKeys(resp.Data)
	return keys, resp.toDomain(), err
}

// GetOperators calls GET /v1/operators.
func (c *Client) GetOperators(ctx context.Context) ([]ports.ModuleOperators, domain.KeysAPIMeta, error) {
	var resp operatorsResponse
	if err := c.getJSON(ctx, "/v1/operators", &resp); err != nil {
		return nil, domain.KeysAPIMeta{}, err
	}

	modules := make([]ports.ModuleOperators, 0, len(resp.Data))
	for _, d := range resp.Data {
		operators := make([]domain.Operator, 0, len(d.Operators))
		for _, o := range d.Operators {
			operators = append(operators, domain.Operator{
				Index:                    o.Index,
				StakingLimit:             o.StakingLimit,
				TotalDepositedValidators: o.TotalDepositedValidators,
				TotalAddedValidators:     o.TotalAddedValidators,
				RewardAddress:            common.HexToAddress(o.RewardAddress),
			})
		}
		modules = append(modules, ports.ModuleOperators{
			Module: domain.StakingModule{
				ID:      d.StakingModule.Id,
				Address: common.HexToAddress(d.StakingModule.Address),
				Nonce:   d.StakingModule.Nonce,
				Type:    domain.StakingModuleType(d.StakingModule.Type),
			},
			Operators: operators,
		})
	}
	return modules, resp.toDomain(), nil
}

// FindKeys calls POST /v1/keys/find with the given pubkeys.
func (c *Client) FindKeys(ctx context.Context, pubkeys []domain.PubKey) ([]domain.RegistryKey, domain.KeysAPIMeta, error) {
	hexKeys := make([]string, len(pubkeys))
	for i, pk := range pubkeys {
		hexKeys[i] = pk.String()
	}
	body, err := json.Marshal(map[string][]string{"pubkeys": hexKeys})
	if err != nil {
		return nil, domain.KeysAPIMeta{}, err
	}

	var resp keysResponse
	if err := c.postJSON(ctx, "/v1/keys/find", body, &resp); err != nil {
		return nil, domain.KeysAPIMeta{}, err
	}
	keys, err := decodeKeys(resp.Data)
	return keys, resp.toDomain(), err
}

// Status calls GET /v1/status, used at startup to gate the minimum
// supported Keys-API version.
func (c *Client) Status(ctx context.Context) (ports.StatusResponse, error) {
	var resp statusResponse
	if err := c.getJSON(ctx, "/v1/status", &resp); err != nil {
		return ports.StatusResponse{}, err
	}
	return ports.StatusResponse{
		ChainID:    resp.ChainId,
		AppVersion: resp.AppVersion.Version,
		ElBlockSnapshot: domain.KeysAPIMeta{
			BlockNumber:          resp.ElBlockSnapshot.BlockNumber,
			BlockHash:            resp.ElBlockSnapshot.BlockHash,
			LastChangedBlockHash: resp.ElBlockSnapshot.LastChangedBlockHash,
			Timestamp:            resp.ElBlockSnapshot.Timestamp,
		},
		ClBlockSnapshot: domain.KeysAPIMeta{
			BlockNumber:          resp.ClBlockSnapshot.BlockNumber,
			BlockHash:            resp.ClBlockSnapshot.BlockHash,
			LastChangedBlockHash: resp.ClBlockSnapshot.LastChangedBlockHash,
			Timestamp:            resp.ClBlockSnapshot.Timestamp,
		},
	}, nil
}

// Ready calls GET /v1/modules and treats any non-200 response or network
// error as "not yet synced".
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/modules", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: keys-api unreachable: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: keys-api not ready, status %d", domain.ErrTransient, resp.StatusCode)
	}
	return nil
}

func decodeKeys(dtos []keyDTO) ([]domain.RegistryKey, error) {
	keys := make([]domain.RegistryKey, 0, len(dtos))
	for _, dto := range dtos {
		key, err := dto.toDomain()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: keys-api request failed: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: keys-api status %d: %s", domain.ErrTransient, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding keys-api response: %w", err)
	}
	return nil
}

func hexTo(s string, length int) ([]byte, error) {
	b := common.FromHex(s)
	if len(b) != length {
		return nil, fmt.Errorf("expected %d bytes, got %d", length, len(b))
	}
	return b, nil
}
