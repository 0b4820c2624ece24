package assess

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// LoadKey decrypts an Ethereum v3 keystore file. When account is non-empty the
// decrypted key must belong to it.
func LoadKey(path, passphrase, account string) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("assess: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("assess: read keystore: %w", err)
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("assess: decrypt keystore: %w", err)
	}
	if account != "" {
		if !common.IsHexAddress(account) {
			return nil, fmt.Errorf("assess: invalid account %q", account)
		}
		if decrypted.Address != common.HexToAddress(account) {
			return nil, fmt.Errorf("assess: keystore holds %s, expected %s", decrypted.Address.Hex(), common.HexToAddress(account).Hex())
		}
	}
	return decrypted.PrivateKey, nil
}

// SaveKey writes key to path as a v3 keystore file with mode 0600. scryptN and
// scryptP select the KDF cost; use keystore.StandardScryptN and
// keystore.StandardScryptP outside tests.
func SaveKey(path string, key *ecdsa.PrivateKey, passphrase string, scryptN, scryptP int) error {
	if key == nil {
		return errors.New("assess: nil private key")
	}
	if path == "" {
		return errors.New("assess: empty keystore path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	encrypted, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}, passphrase, scryptN, scryptP)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encrypted, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
