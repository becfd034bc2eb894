package model

type (
	CommandType string

	// ClusterCommand carries roster exchange between members.
	ClusterCommand struct {
		CommandType CommandType `json:"commandType"`
		Servers     []Server    `json:"servers"`
	}

	// CurrencyParameters is the blob a currency operation travels in.
	// Account lists the addresses expected to sign; TransactionData is the
	// raw transaction hex.
	CurrencyParameters struct {
		Currency        string   `json:"currencySymbol"`
		UserKey         string   `json:"userKey,omitempty"`
		Account         []string `json:"account"`
		TransactionData string   `json:"transactionData"`
	}

	CurrencyCommand struct {
		CommandType        CommandType         `json:"commandType"`
		CurrencyParameters *CurrencyParameters `json:"currencyParameters"`
	}
)

const (
	CommandHeartbeat    CommandType = "Heartbeat"
	CommandKnownServers CommandType = "KnownServers"
	CommandSign         CommandType = "SIGN"
)

const (
	ReplyInvalidFormat = "Invalid command format"
	ReplyError         = "Error processing command"
)

func (t CommandType) IsCluster() bool {
	return t == CommandHeartbeat || t == CommandKnownServers
}
