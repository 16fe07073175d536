// Package keystore loads and persists the node's bridge key: the secp256k1
// key a validator signs witnesses with. Key custody beyond a permissioned
// file (HSMs, remote signers) is out of scope.
package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/notarynet/notary/crypto/secp256k1"
	tmbytes "github.com/notarynet/notary/libs/bytes"
)

// keyFilePerm keeps the bridge key readable by the operator only.
const keyFilePerm = 0o600

// BridgeKey is the persistent signing identity of this node within a
// validator set's bridge key list.
type BridgeKey struct {
	PrivKey secp256k1.PrivKey
}

type bridgeKeyJSON struct {
	PrivKey tmbytes.HexBytes `json:"priv_key"`
}

// PubKey derives the compressed public key.
func (k *BridgeKey) PubKey() secp256k1.PubKey {
	return k.PrivKey.PubKey()
}

// LoadOrGenBridgeKey loads the key at path, generating and persisting a new
// one when the file does not exist.
func LoadOrGenBridgeKey(path string) (*BridgeKey, error) {
	key, err := LoadBridgeKey(path)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	priv, err := secp256k1.GenPrivKey()
	if err != nil {
		return nil, fmt.Errorf("generating bridge key: %w", err)
	}
	key = &BridgeKey{PrivKey: priv}
	if err := key.Save(path); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadBridgeKey reads and validates the key at path.
func LoadBridgeKey(path string) (*BridgeKey, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fileKey bridgeKeyJSON
	if err := json.Unmarshal(bz, &fileKey); err != nil {
		return nil, fmt.Errorf("parsing bridge key file %q: %w", path, err)
	}
	priv, err := secp256k1.PrivKeyFromBytes(fileKey.PrivKey)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge key in %q: %w", path, err)
	}
	return &BridgeKey{PrivKey: priv}, nil
}

// Save writes the key to path with operator-only permissions.
func (k *BridgeKey) Save(path string) error {
	if len(k.PrivKey) != secp256k1.PrivKeySize {
		return errors.New("refusing to save malformed bridge key")
	}
	bz, err := json.MarshalIndent(bridgeKeyJSON{PrivKey: tmbytes.HexBytes(k.PrivKey)}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, bz, keyFilePerm); err != nil {
		return fmt.Errorf("writing bridge key file %q: %w", path, err)
	}
	return nil
}
