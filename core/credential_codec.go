package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	CredentialPayloadFormatLegacyToken = "legacy_token"
	CredentialPayloadFormatJSONV1      = "token_pair_json"
	CredentialPayloadVersionV1         = 1
)

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonTokenPairPayload struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (JSONCredentialCodec) Encode(pair TokenPair) ([]byte, error) {
	payload := jsonTokenPairPayload{
		AccessToken:  strings.TrimSpace(pair.AccessSecret),
		RefreshToken: strings.TrimSpace(pair.RefreshSecret),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (TokenPair, error) {
	if len(payload) == 0 {
		return TokenPair{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonTokenPairPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return TokenPair{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	return TokenPair{
		AccessSecret:  strings.TrimSpace(decoded.AccessToken),
		RefreshSecret: strings.TrimSpace(decoded.RefreshToken),
	}, nil
}

// LegacyTokenCredentialCodec handles stores that kept a bare token string
// instead of the JSON pair payload.
type LegacyTokenCredentialCodec struct{}

func (LegacyTokenCredentialCodec) Format() string {
	return CredentialPayloadFormatLegacyToken
}

func (LegacyTokenCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

func (LegacyTokenCredentialCodec) Encode(pair TokenPair) ([]byte, error) {
	token := strings.TrimSpace(pair.AccessSecret)
	if token == "" {
		token = strings.TrimSpace(pair.RefreshSecret)
	}
	if token == "" {
		return nil, fmt.Errorf("core: legacy credential payload requires a token")
	}
	return []byte(token), nil
}

func (LegacyTokenCredentialCodec) Decode(payload []byte) (TokenPair, error) {
	token := strings.TrimSpace(string(payload))
	if token == "" {
		return TokenPair{}, fmt.Errorf("core: legacy credential payload is empty")
	}
	return TokenPair{
		AccessSecret: token,
	}, nil
}

var (
	_ CredentialCodec = JSONCredentialCodec{}
	_ CredentialCodec = LegacyTokenCredentialCodec{}
)
