package ledger

import (
	"math/big"
)

// RiskonABI is the ABI of the riskon prediction-market contract, limited to
// the functions this service drives. The contract itself owns pool accounting
// and bet storage; this service only reads market/round state and submits
// round lifecycle transactions.
//
//	function getMarkets() view returns (uint256[] ids, string[] symbols, string[] names, bool[] active);
//	function getCurrentRoundInfo(uint256 marketId) view returns
//	    (uint256 roundId, uint256 startTime, uint256 endTime, uint256 priceTarget,
//	     uint256 totalOver, uint256 totalUnder, bool resolved);
//	function startNewRound(uint256 marketId, uint256 priceTarget);
//	function resolveRoundWithPrice(uint256 marketId, uint256 roundId, uint256 finalPrice);
const RiskonABI = `[
	{
		"type": "function",
		"name": "getMarkets",
		"inputs": [],
		"outputs": [
			{"name": "ids", "type": "uint256[]"},
			{"name": "symbols", "type": "string[]"},
			{"name": "names", "type": "string[]"},
			{"name": "active", "type": "bool[]"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "getCurrentRoundInfo",
		"inputs": [
			{"name": "marketId", "type": "uint256"}
		],
		"outputs": [
			{"name": "roundId", "type": "uint256"},
			{"name": "startTime", "type": "uint256"},
			{"name": "endTime", "type": "uint256"},
			{"name": "priceTarget", "type": "uint256"},
			{"name": "totalOver", "type": "uint256"},
			{"name": "totalUnder", "type": "uint256"},
			{"name": "resolved", "type": "bool"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "startNewRound",
		"inputs": [
			{"name": "marketId", "type": "uint256"},
			{"name": "priceTarget", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "resolveRoundWithPrice",
		"inputs": [
			{"name": "marketId", "type": "uint256"},
			{"name": "roundId", "type": "uint256"},
			{"name": "finalPrice", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "event",
		"name": "RoundStarted",
		"inputs": [
			{"name": "marketId", "type": "uint256", "indexed": true},
			{"name": "roundId", "type": "uint256", "indexed": true},
			{"name": "priceTarget", "type": "uint256", "indexed": false},
			{"name": "endTime", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "RoundResolved",
		"inputs": [
			{"name": "marketId", "type": "uint256", "indexed": true},
			{"name": "roundId", "type": "uint256", "indexed": true},
			{"name": "finalPrice", "type": "uint256", "indexed": false},
			{"name": "outcome", "type": "bool", "indexed": false}
		]
	}
]`

// marketsResult mirrors the getMarkets output tuple.
type marketsResult struct {
	Ids     []*big.Int
	Symbols []string
	Names   []string
	Active  []bool
}

// roundInfoResult mirrors the getCurrentRoundInfo output tuple. priceTarget
// uses 8-decimal fixed point; the pool totals use 18-decimal native units.
type roundInfoResult struct {
	RoundId     *big.Int
	StartTime   *big.Int
	EndTime     *big.Int
	PriceTarget *big.Int
	TotalOver   *big.Int
	TotalUnder  *big.Int
	Resolved    bool
}
