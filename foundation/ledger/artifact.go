package ledger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Deployment is the record of a contract deployed to a network.
type Deployment struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash"`
}

// Artifact is the compiled contract produced by the migration tooling. It
// carries the contract ABI and the address the contract was deployed to on
// each network.
type Artifact struct {
	ContractName string                `json:"contractName"`
	ABI          abi.ABI               `json:"abi"`
	Networks     map[string]Deployment `json:"networks"`
}

// LoadArtifact reads the artifact file from disk.
func LoadArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("reading artifact: %w", err)
	}

	return ParseArtifact(data)
}

// ParseArtifact decodes the JSON document of an artifact.
func ParseArtifact(data []byte) (Artifact, error) {
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return Artifact{}, fmt.Errorf("decoding artifact: %w", err)
	}

	return art, nil
}

// Address returns the deployment address for the network. The lookup is a
// configuration check, there is nothing to retry when it fails.
func (a Artifact) Address(networkID string) (common.Address, error) {
	dep, exists := a.Networks[networkID]
	if !exists || !common.IsHexAddress(dep.Address) {
		return common.Address{}, fmt.Errorf("%w: %s to network %s", ErrContractNotDeployed, a.ContractName, networkID)
	}

	return common.HexToAddress(dep.Address), nil
}
