package wgconf

import "strings"

// ConfigType is the import wizard's guess at what kind of entity a
// parsed document describes, §4.5 rule 5.
type ConfigType string

const (
	ConfigTypeCoordinationServer ConfigType = "coordination_server"
	ConfigTypeSubnetRouter       ConfigType = "subnet_router"
	ConfigTypeClient             ConfigType = "client"
)

// DetectConfigType applies §4.5 rule 5's decision table:
//
//	>= 3 peers                                          -> coordination_server
//	FORWARD/POSTROUTING PostUp rules & exactly 1 peer   -> subnet_router
//	same rules & >= 2 peers                             -> coordination_server
//	1 peer with Endpoint                                -> client (remote)
//	1 peer without Endpoint                             -> subnet_router
//	otherwise                                           -> client
func DetectConfigType(cfg *ParsedConfig) ConfigType {
	n := len(cfg.Peers)
	hasRouting := hasForwardOrPostroutingRules(cfg.Interface)

	switch {
	case n >= 3:
		return ConfigTypeCoordinationServer
	case hasRouting && n == 1:
		return ConfigTypeSubnetRouter
	case hasRouting && n >= 2:
		return ConfigTypeCoordinationServer
	case n == 1 && cfg.Peers[0].Endpoint != "":
		return ConfigTypeClient
	case n == 1:
		return ConfigTypeSubnetRouter
	default:
		return ConfigTypeClient
	}
}

func hasForwardOrPostroutingRules(iface InterfaceBlock) bool {
	for _, line := range append(append([]string{}, iface.PostUp...), iface.PostDown...) {
		upper := strings.ToUpper(line)
		if strings.Contains(upper, "FORWARD") || strings.Contains(upper, "POSTROUTING") {
			return true
		}
	}
	return false
}
