// Package keystore reads a folder of ECDSA key files and resolves the
// operator key by its handle, the file name without the .ecdsa extension.
package keystore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrUnknownHandle is returned when no key file exists for a handle.
var ErrUnknownHandle = errors.New("unknown key handle")

const keyExtension = ".ecdsa"

// KeyStore maintains the set of keys found in the folder.
type KeyStore struct {
	keys map[string]*ecdsa.PrivateKey
}

// New constructs a KeyStore with the keys from the specified folder.
func New(root string) (*KeyStore, error) {
	ks := KeyStore{
		keys: make(map[string]*ecdsa.PrivateKey),
	}

	fn := func(fileName string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if d.IsDir() || path.Ext(fileName) != keyExtension {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return fmt.Errorf("loading %s: %w", fileName, err)
		}

		ks.keys[strings.TrimSuffix(path.Base(fileName), keyExtension)] = privateKey

		return nil
	}

	if err := filepath.WalkDir(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ks, nil
}

// Key returns the private key for the handle.
func (ks *KeyStore) Key(handle string) (*ecdsa.PrivateKey, error) {
	key, exists := ks.keys[strings.TrimSuffix(handle, keyExtension)]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandle, handle)
	}
	return key, nil
}

// Addresses returns the account address for every loaded handle.
func (ks *KeyStore) Addresses() map[string]common.Address {
	addrs := make(map[string]common.Address, len(ks.keys))
	for handle, key := range ks.keys {
		addrs[handle] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return addrs
}
