package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Query names a read surface of the remote service.
type Query string

const (
	QueryUserPositions Query = "userPositions"
	QueryUserSummary   Query = "userSummary"
	QueryReserve       Query = "reserve"
	QuerySpoke         Query = "spoke"
	QueryHub           Query = "hub"
	QueryUserSupplies  Query = "userSupplies"
	QueryUserBorrows   Query = "userBorrows"
	QueryUserBalances  Query = "userBalances"
)

func AllQueries() []Query {
	return []Query{
		QueryUserPositions,
		QueryUserSummary,
		QueryReserve,
		QuerySpoke,
		QueryHub,
		QueryUserSupplies,
		QueryUserBorrows,
		QueryUserBalances,
	}
}

// Variables are the arguments a query was issued with. Values round-trip
// through JSON, so numbers come back as float64.
type Variables map[string]any

// Predicate decides whether a cached (variables, data) pair is affected by a
// mutation. It must not retain or modify its arguments.
type Predicate func(vars Variables, data json.RawMessage) bool

func (v Variables) String(key string) string {
	raw, ok := v[key]
	if !ok || raw == nil {
		return ""
	}
	switch t := raw.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func (v Variables) Int64(key string) (int64, bool) {
	switch t := v[key].(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func (v Variables) Address(key string) (common.Address, bool) {
	raw := v.String(key)
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// Key is the cache key of a query issued with vars. Map keys are sorted by
// encoding/json, so equal variables always hash equally.
func Key(query Query, vars Variables) (string, error) {
	buf, err := canonicalVariables(vars)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return string(query) + ":" + hex.EncodeToString(sum[:]), nil
}

func canonicalVariables(vars Variables) ([]byte, error) {
	if vars == nil {
		vars = Variables{}
	}
	normalized := make(Variables, len(vars))
	for k, v := range vars {
		if addr, ok := v.(common.Address); ok {
			v = strings.ToLower(addr.Hex())
		}
		if s, ok := v.(string); ok && common.IsHexAddress(s) {
			v = strings.ToLower(s)
		}
		normalized[k] = v
	}
	buf, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encode cache variables: %w", err)
	}
	return buf, nil
}
