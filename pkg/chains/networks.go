package chains

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sigweihq/storepay/pkg/constants"
	"github.com/sigweihq/storepay/pkg/types"
)

// ErrPaymentUnavailable marks a (network, token) pair that is not deployed yet
var ErrPaymentUnavailable = errors.New("payment not available on this network yet")

// NetworkTable is an immutable lookup over network definitions
type NetworkTable struct {
	byName  map[string]types.NetworkDefinition
	byChain map[int64]string
}

// NewNetworkTable builds a table from explicit definitions. Later entries
// replace earlier ones with the same name.
func NewNetworkTable(defs []types.NetworkDefinition) *NetworkTable {
	t := &NetworkTable{
		byName:  make(map[string]types.NetworkDefinition, len(defs)),
		byChain: make(map[int64]string, len(defs)),
	}
	for _, def := range defs {
		t.byName[def.Name] = def
		t.byChain[def.ChainID] = def.Name
	}
	return t
}

// DefaultNetworkTable builds the table from the constants package
func DefaultNetworkTable() *NetworkTable {
	defs := make([]types.NetworkDefinition, 0, len(constants.NetworkToChainID))
	for name, chainID := range constants.NetworkToChainID {
		defs = append(defs, types.NetworkDefinition{
			Name:                   name,
			ChainID:                chainID,
			DisplayName:            constants.NetworkDisplayName[name],
			NativeCurrencySymbol:   constants.NetworkNativeSymbol[name],
			PaymentContractAddress: constants.NetworkToPaymentContract[name],
			USDCAddress:            constants.NetworkToUSDCAddress[name],
			USDTAddress:            constants.NetworkToUSDTAddress[name],
			ExplorerURL:            constants.NetworkExplorerURL[name],
			IsDeployed:             constants.DeployedNetworks[name],
			TokenDecimals:          constants.TokenDecimalsOverride[name],
		})
	}
	return NewNetworkTable(defs)
}

// Lookup finds a network by chain id
func (t *NetworkTable) Lookup(chainID int64) (types.NetworkDefinition, bool) {
	name, ok := t.byChain[chainID]
	if !ok {
		return types.NetworkDefinition{}, false
	}
	return t.byName[name], true
}

// LookupByName finds a network by name
func (t *NetworkTable) LookupByName(name string) (types.NetworkDefinition, bool) {
	def, ok := t.byName[name]
	return def, ok
}

// All returns every definition ordered by chain id
func (t *NetworkTable) All() []types.NetworkDefinition {
	defs := make([]types.NetworkDefinition, 0, len(t.byName))
	for _, def := range t.byName {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ChainID < defs[j].ChainID })
	return defs
}

// With returns a copy of the table with def added or replaced
func (t *NetworkTable) With(def types.NetworkDefinition) *NetworkTable {
	defs := append(t.All(), def)
	return NewNetworkTable(defs)
}

// PaymentAvailable reports whether a purchase can be attempted for the pair.
// Anything not explicitly deployed is "coming soon".
func PaymentAvailable(def types.NetworkDefinition, tokenSymbol string) bool {
	return def.IsDeployed &&
		def.PaymentContractAddress != "" &&
		def.TokenAddress(tokenSymbol) != ""
}

// TokenFor resolves the token reference for a symbol on a network
func TokenFor(def types.NetworkDefinition, tokenSymbol string) (types.TokenRef, error) {
	symbol := strings.ToUpper(tokenSymbol)
	address := def.TokenAddress(symbol)
	if address == "" {
		return types.TokenRef{}, fmt.Errorf("token %s not available on %s", symbol, def.Name)
	}

	decimals, ok := def.TokenDecimals[symbol]
	if !ok {
		switch symbol {
		case constants.TokenUSDT:
			decimals = constants.USDTDecimals
		default:
			decimals = constants.USDCDecimals
		}
	}

	return types.TokenRef{
		Symbol:          symbol,
		ContractAddress: address,
		DecimalPlaces:   decimals,
	}, nil
}
