package actions

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/pkg/schema"
)

// CryptoActions returns the hashing and identifier actions.
func CryptoActions() []Action {
	return []Action{
		&cryptoHashAction{},
		&cryptoUUIDAction{},
	}
}

// hashFunc returns a new hash.Hash for the given algorithm name.
func hashFunc(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	case "sha384":
		return sha512.New384, nil
	case "md5":
		return md5.New, nil
	case "sha1":
		return sha1.New, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported hash algorithm: %s", algorithm)
	}
}

// --- crypto.hash ---

const cryptoHashInputSchema = `{
  "type": "object",
  "properties": {
    "data": {},
    "algorithm": {"type": "string", "enum": ["sha256","sha512","sha384","md5","sha1"], "default": "sha256"},
    "key": {"type": "string"}
  },
  "required": ["data"]
}`

type cryptoHashAction struct{}

func (a *cryptoHashAction) Name() string { return "crypto.hash" }

func (a *cryptoHashAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Hash 'data' (an HMAC when 'key' is set); non-string data is hashed as JSON",
		InputSchema: json.RawMessage(cryptoHashInputSchema),
	}
}

func (a *cryptoHashAction) Execute(_ context.Context, params map[string]any) (any, error) {
	raw, ok := params["data"]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "crypto.hash requires 'data' parameter")
	}
	var data []byte
	if s, ok := raw.(string); ok {
		data = []byte(s)
	} else {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "crypto.hash: data is not JSON encodable: %s", err.Error()).WithCause(err)
		}
		data = b
	}

	algorithm := stringParam(params, "algorithm", "sha256")
	newHash, err := hashFunc(algorithm)
	if err != nil {
		return nil, err
	}

	var h hash.Hash
	if key := stringParam(params, "key", ""); key != "" {
		h = hmac.New(newHash, []byte(key))
	} else {
		h = newHash()
	}
	h.Write(data)

	return map[string]any{
		"hash":      hex.EncodeToString(h.Sum(nil)),
		"algorithm": algorithm,
	}, nil
}

// --- crypto.uuid ---

type cryptoUUIDAction struct{}

func (a *cryptoUUIDAction) Name() string { return "crypto.uuid" }

func (a *cryptoUUIDAction) Schema() ActionSchema {
	return ActionSchema{Description: "Generate a random (v4) UUID"}
}

func (a *cryptoUUIDAction) Execute(_ context.Context, _ map[string]any) (any, error) {
	return map[string]any{"uuid": uuid.New().String()}, nil
}
