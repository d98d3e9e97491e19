package models

import "strings"

const (
	ClusterDevnet      = "devnet"
	ClusterTestnet     = "testnet"
	ClusterMainnetBeta = "mainnet-beta"
)

func NormalizeCluster(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ClusterMainnetBeta, "mainnet":
		return ClusterMainnetBeta
	case ClusterTestnet:
		return ClusterTestnet
	default:
		return ClusterDevnet
	}
}
