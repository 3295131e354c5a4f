package events

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gridwatt/market-indexer/pkg/market"
)

// marketplaceABI declares the four marketplace events this indexer consumes.
const marketplaceABI = `[
	{"type":"event","name":"ListingCreated","inputs":[
		{"name":"listingId","type":"uint256","indexed":true},
		{"name":"seller","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":false},
		{"name":"kWhAmount","type":"uint256","indexed":false},
		{"name":"pricePerKwh","type":"uint256","indexed":false},
		{"name":"gridZone","type":"uint256","indexed":false}]},
	{"type":"event","name":"ListingCancelled","inputs":[
		{"name":"listingId","type":"uint256","indexed":true}]},
	{"type":"event","name":"OrderCreated","inputs":[
		{"name":"orderId","type":"uint256","indexed":true},
		{"name":"listingId","type":"uint256","indexed":true},
		{"name":"buyer","type":"address","indexed":false},
		{"name":"kWhAmount","type":"uint256","indexed":false},
		{"name":"totalPrice","type":"uint256","indexed":false}]},
	{"type":"event","name":"OrderCompleted","inputs":[
		{"name":"orderId","type":"uint256","indexed":true},
		{"name":"buyer","type":"address","indexed":false},
		{"name":"seller","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]}
]`

// Decoder turns raw logs into typed domain events.
type Decoder struct {
	abi abi.ABI

	listingCreatedID   common.Hash
	listingCancelledID common.Hash
	orderCreatedID     common.Hash
	orderCompletedID   common.Hash
}

// NewDecoder parses the marketplace event ABI.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(marketplaceABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse marketplace ABI: %w", err)
	}
	return &Decoder{
		abi:                parsed,
		listingCreatedID:   parsed.Events["ListingCreated"].ID,
		listingCancelledID: parsed.Events["ListingCancelled"].ID,
		orderCreatedID:     parsed.Events["OrderCreated"].ID,
		orderCompletedID:   parsed.Events["OrderCompleted"].ID,
	}, nil
}

// Topics returns the event signature hashes for the chain log filter.
func (d *Decoder) Topics() []common.Hash {
	return []common.Hash{
		d.listingCreatedID,
		d.listingCancelledID,
		d.orderCreatedID,
		d.orderCompletedID,
	}
}

// ABI exposes the parsed ABI, used by tests to pack event payloads.
func (d *Decoder) ABI() abi.ABI { return d.abi }

// Decode maps a raw log into a domain event or a *DecodeError.
func (d *Decoder) Decode(log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, &DecodeError{Reason: "log has no topics"}
	}

	meta := Meta{
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		TxHash:      log.TxHash.Hex(),
	}

	switch log.Topics[0] {
	case d.listingCreatedID:
		return d.decodeListingCreated(log, meta)
	case d.listingCancelledID:
		return d.decodeListingCancelled(log, meta)
	case d.orderCreatedID:
		return d.decodeOrderCreated(log, meta)
	case d.orderCompletedID:
		return d.decodeOrderCompleted(log, meta)
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown event signature %s", log.Topics[0].Hex())}
	}
}

func (d *Decoder) decodeListingCreated(log types.Log, meta Meta) (Event, error) {
	if len(log.Topics) != 3 {
		return nil, &DecodeError{Reason: "ListingCreated: unexpected topic count"}
	}

	values, err := d.abi.Unpack("ListingCreated", log.Data)
	if err != nil {
		return nil, &DecodeError{Reason: "ListingCreated: malformed data", Err: err}
	}
	tokenID, ok0 := values[0].(*big.Int)
	kwh, ok1 := values[1].(*big.Int)
	price, ok2 := values[2].(*big.Int)
	zone, ok3 := values[3].(*big.Int)
	if !ok0 || !ok1 || !ok2 || !ok3 {
		return nil, &DecodeError{Reason: "ListingCreated: unexpected data types"}
	}

	return ListingCreated{
		Meta:        meta,
		ListingID:   topicUint64(log.Topics[1]),
		Seller:      market.NormalizeAddress(common.HexToAddress(log.Topics[2].Hex()).Hex()),
		TokenID:     tokenID.Uint64(),
		KWhAmount:   kwh,
		PricePerKwh: price,
		GridZone:    zone.Uint64(),
	}, nil
}

func (d *Decoder) decodeListingCancelled(log types.Log, meta Meta) (Event, error) {
	if len(log.Topics) != 2 {
		return nil, &DecodeError{Reason: "ListingCancelled: unexpected topic count"}
	}
	return ListingCancelled{
		Meta:      meta,
		ListingID: topicUint64(log.Topics[1]),
	}, nil
}

func (d *Decoder) decodeOrderCreated(log types.Log, meta Meta) (Event, error) {
	if len(log.Topics) != 3 {
		return nil, &DecodeError{Reason: "OrderCreated: unexpected topic count"}
	}

	values, err := d.abi.Unpack("OrderCreated", log.Data)
	if err != nil {
		return nil, &DecodeError{Reason: "OrderCreated: malformed data", Err: err}
	}
	buyer, ok0 := values[0].(common.Address)
	kwh, ok1 := values[1].(*big.Int)
	total, ok2 := values[2].(*big.Int)
	if !ok0 || !ok1 || !ok2 {
		return nil, &DecodeError{Reason: "OrderCreated: unexpected data types"}
	}

	return OrderCreated{
		Meta:       meta,
		OrderID:    topicUint64(log.Topics[1]),
		ListingID:  topicUint64(log.Topics[2]),
		Buyer:      market.NormalizeAddress(buyer.Hex()),
		KWhAmount:  kwh,
		TotalPrice: total,
	}, nil
}

func (d *Decoder) decodeOrderCompleted(log types.Log, meta Meta) (Event, error) {
	if len(log.Topics) != 2 {
		return nil, &DecodeError{Reason: "OrderCompleted: unexpected topic count"}
	}

	values, err := d.abi.Unpack("OrderCompleted", log.Data)
	if err != nil {
		return nil, &DecodeError{Reason: "OrderCompleted: malformed data", Err: err}
	}
	buyer, ok0 := values[0].(common.Address)
	seller, ok1 := values[1].(common.Address)
	amount, ok2 := values[2].(*big.Int)
	if !ok0 || !ok1 || !ok2 {
		return nil, &DecodeError{Reason: "OrderCompleted: unexpected data types"}
	}

	return OrderCompleted{
		Meta:    meta,
		OrderID: topicUint64(log.Topics[1]),
		Buyer:   market.NormalizeAddress(buyer.Hex()),
		Seller:  market.NormalizeAddress(seller.Hex()),
		Amount:  amount,
	}, nil
}

func topicUint64(topic common.Hash) uint64 {
	return new(big.Int).SetBytes(topic.Bytes()).Uint64()
}
