package chain

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestApproveCalldata(t *testing.T) {
	spender := common.HexToAddress("0x0000000000000000000000000000000000000009")
	data, err := ApproveCalldata(spender, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("pack approve: %v", err)
	}
	// 4-byte selector plus two 32-byte words.
	if len(data) != 68 {
		t.Fatalf("calldata length = %d, want 68", len(data))
	}
	if !bytes.Equal(data[:4], []byte{0x09, 0x5e, 0xa7, 0xb3}) {
		t.Fatalf("selector = %x, want 095ea7b3", data[:4])
	}

	erc20, err := erc20ABIInstance()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	values, err := erc20.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack approve: %v", err)
	}
	if values[0].(common.Address) != spender {
		t.Fatalf("spender mismatch: %v", values[0])
	}
	if values[1].(*big.Int).Int64() != 1_000_000 {
		t.Fatalf("amount mismatch: %v", values[1])
	}
}
