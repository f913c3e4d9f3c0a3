package evmchain

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/hero_dungeon.json
var heroDungeonAbi []byte

var requiredMethods = []string{
	"balanceOf", "tokenOfOwnerByIndex", "getUpdateFee", "getFee",
	"getMarketState", "mintHero", "enterDungeon",
}

// LoadABI parses the contract ABI at path, or the embedded one if path is
// empty. Both a bare ABI array and a compiler artifact with an "abi" field
// are accepted.
func LoadABI(path string) (*abi.ABI, error) {
	raw := heroDungeonAbi
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read abi %s: %s", path, err)
		}
		raw = buf
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		artifact := struct {
			Abi json.RawMessage `json:"abi"`
		}{}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return nil, fmt.Errorf("invalid abi artifact: %s", err)
		}
		if len(artifact.Abi) <= 0 {
			return nil, fmt.Errorf("invalid abi artifact: missing abi field")
		}
		raw = artifact.Abi
	}

	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid abi: %s", err)
	}
	for _, method := range requiredMethods {
		if _, ok := parsed.Methods[method]; !ok {
			return nil, fmt.Errorf("invalid abi: missing method %s", method)
		}
	}
	return &parsed, nil
}
