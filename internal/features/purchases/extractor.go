// Package purchases turns raw collection transactions into purchase records
// and renders them as chat notifications.
package purchases

import (
	"strings"

	"nft-sales-monitor/internal/clients_api/ledger"
)

// Record is one detected purchase. Price is in nanotons and always > 0.
type Record struct {
	Position   uint64
	Timestamp  int64
	Buyer      string
	NFTAddress string
	Price      uint64
	TxHash     string
}

// Extract applies the purchase heuristic to a single transaction of the
// collection contract:
//
//   - the inbound message must carry value and have a sender (the buyer);
//   - the first outbound message addressed to neither the collection nor the
//     buyer is taken as the NFT item, and the inbound value as the price.
//
// Known limitation: an outbound message that is not an NFT transfer but still
// passes the address check (a gas refund to a third party, a royalty or fee
// payout) is reported as a purchase. The indexer path used here has no
// dedicated sale event to tell them apart.
func Extract(tx ledger.Transaction, collection string) (Record, bool) {
	if tx.In == nil || tx.In.Value == 0 {
		return Record{}, false
	}
	buyer := strings.TrimSpace(tx.In.Source)
	if buyer == "" {
		return Record{}, false
	}
	collection = strings.TrimSpace(collection)

	for _, out := range tx.Out {
		dest := strings.TrimSpace(out.Destination)
		if dest == "" || dest == collection || dest == buyer {
			continue
		}
		return Record{
			Position:   tx.Position,
			Timestamp:  tx.Timestamp,
			Buyer:      buyer,
			NFTAddress: dest,
			Price:      tx.In.Value,
			TxHash:     tx.Hash,
		}, true
	}
	return Record{}, false
}

// ExtractAll runs Extract over txs, keeping input order.
func ExtractAll(txs []ledger.Transaction, collection string) []Record {
	var records []Record
	for _, tx := range txs {
		if r, ok := Extract(tx, collection); ok {
			records = append(records, r)
		}
	}
	return records
}
