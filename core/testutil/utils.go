package testutil

import (
	"crypto/ecdsa"
	"math/big"
	"os"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ap-aa/storage"
)

const (
	// Hardhat account #0.
	ownerPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	ChainID = 11155111
)

func GetTestChainID() *big.Int {
	return big.NewInt(ChainID)
}

// Shortcut to initialize a storage at a temp path, panic if we cannot create db
func TestMustDB() storage.Storage {
	dir, err := os.MkdirTemp("", "aptest")
	if err != nil {
		panic(err)
	}

	db, err := storage.NewWithPath(dir)
	if err != nil {
		panic(err)
	}
	return db
}

func GetLogger() sdklogging.Logger {
	logger, err := sdklogging.NewZapLogger("development")
	if err != nil {
		panic(err)
	}
	return logger
}

func OwnerPrivateKey() *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(ownerPrivateKeyHex)
	if err != nil {
		panic(err)
	}
	return key
}

func OwnerPrivateKeyHex() string {
	return ownerPrivateKeyHex
}

func OwnerAddress() common.Address {
	return crypto.PubkeyToAddress(OwnerPrivateKey().PublicKey)
}

func Gwei(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1_000_000_000))
}
