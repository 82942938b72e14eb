package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const pairABIJSON = `[
 {"name":"getReserves","type":"function","stateMutability":"view","inputs":[],
  "outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
 {"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const erc20ABIJSON = `[
 {"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const routerABIJSON = `[
 {"name":"getAmountsOut","type":"function","stateMutability":"view",
  "inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
  "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

const settlementABIJSON = `[
 {"name":"executeArbitrage","type":"function","stateMutability":"nonpayable",
  "inputs":[
   {"name":"ref","type":"bytes32"},
   {"name":"buyVenue","type":"bytes32"},
   {"name":"sellVenue","type":"bytes32"},
   {"name":"buyRouter","type":"address"},
   {"name":"sellRouter","type":"address"},
   {"name":"baseToken","type":"address"},
   {"name":"quoteToken","type":"address"},
   {"name":"amountIn","type":"uint256"},
   {"name":"minProfit","type":"uint256"}],
  "outputs":[]},
 {"name":"ArbitrageExecuted","type":"event","anonymous":false,
  "inputs":[
   {"name":"ref","type":"bytes32","indexed":true},
   {"name":"profit","type":"uint256","indexed":false}]}
]`

var (
	pairABI       = mustParseABI(pairABIJSON)
	erc20ABI      = mustParseABI(erc20ABIJSON)
	routerABI     = mustParseABI(routerABIJSON)
	settlementABI = mustParseABI(settlementABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("evm: parse abi: " + err.Error())
	}
	return parsed
}
