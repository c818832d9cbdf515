package candles

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	_ msgpack.CustomEncoder = Candle{}
	_ msgpack.CustomDecoder = (*Candle)(nil)
)

// candleWireFields is the element count of the encoded candle array and
// part of the persisted snapshot format.
const candleWireFields = 9

// EncodeMsgpack writes the candle in its binary snapshot form: a fixed
// array of identity fields followed by OHLCV as fixed-point decimal
// strings. Prices pass through ToDecimal, so values outside the
// fixed-point range saturate rather than failing the snapshot. The
// receiver is a value so non-addressable candles (map values) encode too.
func (c Candle) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(candleWireFields); err != nil {
		return err
	}
	return enc.EncodeMulti(
		c.AssetPairID,
		string(c.PriceType),
		string(c.Interval),
		c.Timestamp,
		ToDecimal(c.Open).String(),
		ToDecimal(c.Close).String(),
		ToDecimal(c.High).String(),
		ToDecimal(c.Low).String(),
		ToDecimal(c.Volume).String(),
	)
}

// DecodeMsgpack reads the binary snapshot form written by EncodeMsgpack.
func (c *Candle) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != candleWireFields {
		return fmt.Errorf("candles: snapshot candle has %d fields, want %d", n, candleWireFields)
	}
	var priceType, interval string
	var open, close, high, low, volume string
	if err := dec.DecodeMulti(
		&c.AssetPairID, &priceType, &interval, &c.Timestamp,
		&open, &close, &high, &low, &volume,
	); err != nil {
		return err
	}
	c.PriceType = PriceType(priceType)
	c.Interval = Interval(interval)
	if c.Open, err = decodeWirePrice("open", open); err != nil {
		return err
	}
	if c.Close, err = decodeWirePrice("close", close); err != nil {
		return err
	}
	if c.High, err = decodeWirePrice("high", high); err != nil {
		return err
	}
	if c.Low, err = decodeWirePrice("low", low); err != nil {
		return err
	}
	c.Volume, err = decodeWirePrice("volume", volume)
	return err
}

func decodeWirePrice(field, s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("candles: snapshot candle %s: %w", field, err)
	}
	f, _ := d.Float64()
	return f, nil
}
