package model

import (
	"fmt"
	"strings"
)

// SubscriptionMethod is the JSON-RPC method of log subscription notifications.
const SubscriptionMethod = "eth_subscription"

// LogEvent is the log object carried in an eth_subscription notification.
type LogEvent struct {
	Address          string   `json:"address"`
	BlockHash        string   `json:"blockHash"`
	BlockNumber      string   `json:"blockNumber"`
	Data             string   `json:"data"`
	LogIndex         string   `json:"logIndex"`
	Removed          bool     `json:"removed"`
	Topics           []string `json:"topics"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
}

// LogNotification is one inbound eth_subscription frame.
type LogNotification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  NotificationParams `json:"params"`
}

// NotificationParams wraps the subscription id and the log.
type NotificationParams struct {
	Subscription string   `json:"subscription"`
	Result       LogEvent `json:"result"`
}

// Topic0 returns the first topic or an empty string.
func (e LogEvent) Topic0() string {
	if len(e.Topics) == 0 {
		return ""
	}
	return e.Topics[0]
}

// Validate checks that the notification carries a usable log.
func (n LogNotification) Validate() error {
	if n.Method != SubscriptionMethod {
		return fmt.Errorf("unexpected method %q", n.Method)
	}
	if n.Params.Subscription == "" {
		return fmt.Errorf("missing subscription id")
	}
	log := n.Params.Result
	if log.Address == "" {
		return fmt.Errorf("missing address")
	}
	if len(log.Topics) == 0 {
		return fmt.Errorf("missing topics")
	}
	if !strings.HasPrefix(log.Data, "0x") {
		return fmt.Errorf("data is not 0x-prefixed hex")
	}
	if log.BlockNumber == "" || log.BlockHash == "" || log.TransactionHash == "" {
		return fmt.Errorf("missing block or transaction reference")
	}
	return nil
}
