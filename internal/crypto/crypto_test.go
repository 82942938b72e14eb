package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil || got != testKey {
		t.Fatalf("DecryptKey = %q, %v", got, err)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("expected failure with wrong password")
	}
	if _, err := EncryptKey(testKey, ""); err == nil {
		t.Fatal("expected failure with empty password")
	}
}

func TestLoadSigner_FromKeyFile(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	fromFile, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	fromRaw, err := LoadSigner(KeyConfig{RawPrivateKey: testKey}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if fromFile.Address() != fromRaw.Address() {
		t.Fatal("addresses differ")
	}
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("expected error without key source")
	}
}

func TestTxSigner_SignTx(t *testing.T) {
	s, err := NewTxSigner(testKey, 10)
	if err != nil {
		t.Fatal(err)
	}
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(10),
		Nonce:     1,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(0),
	})
	signed, err := s.SignTx(tx)
	if err != nil {
		t.Fatal(err)
	}
	from, err := s.Sender(signed)
	if err != nil || from != s.Address() {
		t.Fatalf("sender = %s, %v", from.Hex(), err)
	}
	if s.ChainID().Int64() != 10 {
		t.Fatal("chain id")
	}
}
