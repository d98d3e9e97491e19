package deeplink

import "net/url"

// Shape is the meaning of an inbound link, inferred from which parameters
// it carries.
type Shape int

const (
	ShapeUnrecognized Shape = iota
	ShapeError
	ShapeConnect
	ShapeEncrypted
)

func (s Shape) String() string {
	switch s {
	case ShapeError:
		return "error"
	case ShapeConnect:
		return "connect"
	case ShapeEncrypted:
		return "encrypted"
	default:
		return "unrecognized"
	}
}

const defaultErrorMessage = "Unknown error"

// Response is a classified inbound link.
type Response struct {
	Shape                     Shape
	ErrorCode                 string
	ErrorMessage              string
	WalletEncryptionPublicKey string
	Nonce                     string
	Data                      string
	Query                     url.Values
}

type shapeRule struct {
	shape Shape
	match func(q url.Values, haveSharedSecret bool) bool
}

// Rules are evaluated in order; the first match wins.
var shapeRules = []shapeRule{
	{ShapeError, func(q url.Values, _ bool) bool {
		return q.Get(ParamErrorCode) != ""
	}},
	{ShapeConnect, func(q url.Values, _ bool) bool {
		return q.Get(ParamWalletEncryptionPublicKey) != "" && q.Get(ParamNonce) != ""
	}},
	{ShapeEncrypted, func(q url.Values, haveSharedSecret bool) bool {
		return haveSharedSecret && q.Get(ParamData) != "" && q.Get(ParamNonce) != ""
	}},
}

// Classify maps query parameters to a Response. Encrypted responses are only
// recognized while a shared secret exists to open them.
func Classify(q url.Values, haveSharedSecret bool) Response {
	resp := Response{Shape: ShapeUnrecognized, Query: q}
	for _, rule := range shapeRules {
		if rule.match(q, haveSharedSecret) {
			resp.Shape = rule.shape
			break
		}
	}
	switch resp.Shape {
	case ShapeError:
		resp.ErrorCode = q.Get(ParamErrorCode)
		resp.ErrorMessage = q.Get(ParamErrorMessage)
		if resp.ErrorMessage == "" {
			resp.ErrorMessage = defaultErrorMessage
		}
	case ShapeConnect:
		resp.WalletEncryptionPublicKey = q.Get(ParamWalletEncryptionPublicKey)
		resp.Nonce = q.Get(ParamNonce)
		resp.Data = q.Get(ParamData)
	case ShapeEncrypted:
		resp.Nonce = q.Get(ParamNonce)
		resp.Data = q.Get(ParamData)
	}
	return resp
}
