package deeplink

import (
	"net/url"
	"strings"
)

// Path is one of the wallet's request endpoints.
type Path string

const (
	PathConnect                Path = "connect"
	PathDisconnect             Path = "disconnect"
	PathSignMessage            Path = "signMessage"
	PathSignAndSendTransaction Path = "signAndSendTransaction"
)

const (
	ParamDappEncryptionPublicKey   = "dapp_encryption_public_key"
	ParamCluster                   = "cluster"
	ParamAppURL                    = "app_url"
	ParamRedirectLink              = "redirect_link"
	ParamNonce                     = "nonce"
	ParamPayload                   = "payload"
	ParamData                      = "data"
	ParamErrorCode                 = "errorCode"
	ParamErrorMessage              = "errorMessage"
	ParamWalletEncryptionPublicKey = "phantom_encryption_public_key"
)

type Param struct {
	Key   string
	Value string
}

// Params is a query in insertion order.
type Params []Param

func (p *Params) Add(key, value string) {
	*p = append(*p, Param{Key: key, Value: value})
}

func (p Params) Get(key string) string {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value
		}
	}
	return ""
}

// Encode renders the query string without reordering keys.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}
