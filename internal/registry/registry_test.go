package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestERC20ABIParses(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(ERC20MinimalABI))
	if err != nil {
		t.Fatalf("failed to parse abi json: %v", err)
	}
	for _, name := range []string{"allowance", "approve", "nonces", "permit"} {
		if _, ok := parsed.Methods[name]; !ok {
			t.Fatalf("expected method %s in erc20 abi", name)
		}
	}
}

func TestDefaultRPCURL(t *testing.T) {
	if rpc, ok := DefaultRPCURL(11155111); !ok || rpc == "" {
		t.Fatalf("expected sepolia rpc default, got ok=%v rpc=%q", ok, rpc)
	}
	if rpc, ok := DefaultRPCURL(8453); !ok || rpc == "" {
		t.Fatalf("expected base rpc default, got ok=%v rpc=%q", ok, rpc)
	}
	if _, ok := DefaultRPCURL(999999); ok {
		t.Fatal("did not expect rpc default for unsupported chain")
	}
}

func TestResolveRPCURL(t *testing.T) {
	override, err := ResolveRPCURL(" https://rpc.example.test ", 1)
	if err != nil {
		t.Fatalf("resolve with override: %v", err)
	}
	if override != "https://rpc.example.test" {
		t.Fatalf("unexpected override value: %q", override)
	}

	defaultRPC, err := ResolveRPCURL("", 1)
	if err != nil {
		t.Fatalf("resolve with default: %v", err)
	}
	if defaultRPC == "" {
		t.Fatal("expected non-empty default rpc")
	}

	_, err = ResolveRPCURL("", 999999)
	if err == nil || !strings.Contains(err.Error(), "rpc.999999") {
		t.Fatalf("expected missing chain default rpc error naming the config key, got %v", err)
	}
}
