package dex

import (
	"fmt"
	"strings"

	"github.com/Kay-cwc/dex-market-data-stream/internal/config"
)

// SyncTopic is topic0 of the Uniswap V2 Sync(uint112,uint112) event.
const SyncTopic = "0x1c411e9a96e071241c2f21f7726b17ae89e3cab4c78be50e062b03a9fffbbad1"

// EventKind classifies a recognised log event. Switches over EventKind are
// checked for exhaustiveness by the exhaustive linter.
type EventKind int

const (
	// EventUnknown is returned for topics outside the table.
	EventUnknown EventKind = iota
	// EventPoolReserve is the pool reserve (Sync) event.
	EventPoolReserve
)

func (k EventKind) String() string {
	switch k {
	case EventUnknown:
		return "unknown"
	case EventPoolReserve:
		return "pool_reserve"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

var topicToKind = map[string]EventKind{
	SyncTopic: EventPoolReserve,
}

// Classify maps topic0 to an event kind, ignoring case.
func Classify(topic0 string) EventKind {
	kind, ok := topicToKind[strings.ToLower(topic0)]
	if !ok {
		return EventUnknown
	}
	return kind
}

// DexTopics returns the topics a dex stream subscribes to.
func DexTopics(dex config.Dex) ([]string, error) {
	switch dex {
	case config.DexUniswapV2:
		return []string{SyncTopic}, nil
	default:
		return nil, fmt.Errorf("no topics for dex %q", dex)
	}
}
