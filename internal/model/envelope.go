package model

type (
	// EncryptedCommand wraps any command for a single recipient. Payload and
	// IV are hex; Nonce repeats the authenticated nonce inside the payload.
	EncryptedCommand struct {
		Sender  Server `json:"sender"`
		Payload string `json:"payload"`
		IV      string `json:"iv"`
		Nonce   uint64 `json:"nonce"`
	}

	DecryptedPayload struct {
		Nonce   uint64 `json:"nonce"`
		Payload string `json:"payload"`
	}
)
