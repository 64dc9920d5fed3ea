package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

type Chain struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
}

var chainBySlug = map[string]Chain{
	"ethereum":  {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"mainnet":   {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"sepolia":   {Name: "Sepolia", Slug: "sepolia", CAIP2: "eip155:11155111", EVMChainID: 11155111},
	"base":      {Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453},
	"arbitrum":  {Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161},
	"optimism":  {Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10},
	"polygon":   {Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137},
	"avalanche": {Name: "Avalanche", Slug: "avalanche", CAIP2: "eip155:43114", EVMChainID: 43114},
	"bsc":       {Name: "BSC", Slug: "bsc", CAIP2: "eip155:56", EVMChainID: 56},
	"linea":     {Name: "Linea", Slug: "linea", CAIP2: "eip155:59144", EVMChainID: 59144},
}

var chainByID = func() map[int64]Chain {
	out := make(map[int64]Chain, len(chainBySlug))
	for _, chain := range chainBySlug {
		out[chain.EVMChainID] = chain
	}
	return out
}()

// ParseChain accepts a slug, a numeric chain id or a CAIP-2 eip155 id.
func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	if id, err := strconv.ParseInt(norm, 10, 64); err == nil && id > 0 {
		if chain, ok := chainByID[id]; ok {
			return chain, nil
		}
		return Chain{Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id), CAIP2: fmt.Sprintf("eip155:%d", id), EVMChainID: id}, nil
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// ParseAddress parses a 0x-prefixed EVM address. field names the flag in errors.
func ParseAddress(input, field string) (common.Address, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s is required", field))
	}
	if !evmAddressPattern.MatchString(raw) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a 0x-prefixed 20-byte address", field))
	}
	return common.HexToAddress(raw), nil
}

// ParseSpoke builds a spoke id from --chain and --spoke.
func ParseSpoke(chainInput, spokeInput string) (plan.SpokeID, error) {
	chain, err := ParseChain(chainInput)
	if err != nil {
		return plan.SpokeID{}, err
	}
	spoke, err := ParseAddress(spokeInput, "--spoke")
	if err != nil {
		return plan.SpokeID{}, err
	}
	return plan.SpokeID{ChainID: chain.EVMChainID, Spoke: spoke}, nil
}

// ParseReserve builds a reserve id. The reserve may be given on its own or in
// the "<spoke>/<reserve>" short form, in which case spokeInput may be empty.
func ParseReserve(chainInput, spokeInput, reserveInput string) (plan.ReserveID, error) {
	reserve := strings.TrimSpace(reserveInput)
	if before, after, ok := strings.Cut(reserve, "/"); ok && evmAddressPattern.MatchString(before) {
		if strings.TrimSpace(spokeInput) != "" && !strings.EqualFold(strings.TrimSpace(spokeInput), before) {
			return plan.ReserveID{}, clierr.New(clierr.CodeUsage, "reserve spoke does not match --spoke")
		}
		spokeInput, reserve = before, after
	}
	spoke, err := ParseSpoke(chainInput, spokeInput)
	if err != nil {
		return plan.ReserveID{}, err
	}
	out := plan.ReserveID{ChainID: spoke.ChainID, Spoke: spoke.Spoke, ReserveID: strings.TrimSpace(reserve)}
	if err := out.Validate(); err != nil {
		return plan.ReserveID{}, clierr.Wrap(clierr.CodeUsage, "invalid reserve", err)
	}
	return out, nil
}
